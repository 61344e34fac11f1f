package oci

import (
	"fmt"
	"net/http"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/common/auth"
)

// ProviderFunc acquires the configuration provider used to sign requests
type ProviderFunc func() (common.ConfigurationProvider, error)

// InstancePrincipals returns a configuration provider that authenticates
// as the compute instance the operator runs on
func InstancePrincipals() (common.ConfigurationProvider, error) {
	p, err := auth.InstancePrincipalConfigurationProvider()
	if err != nil {
		return nil, fmt.Errorf("unable to get instance principals: %w", err)
	}
	return p, nil
}

// requestMetadata disables the retries of the SDK. Retries of certificate
// operations are decided by the caller.
func requestMetadata() common.RequestMetadata {
	policy := common.NoRetryPolicy()
	return common.RequestMetadata{RetryPolicy: &policy}
}

func statusCode(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
