package oci

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/3scale-ops/oci-cert-sync/pkg/certificates"
	"github.com/oracle/oci-go-sdk/v65/certificatesmanagement"
	"github.com/oracle/oci-go-sdk/v65/common"
)

const (
	// ManagedByTag marks the certificates created by the operator
	ManagedByTag      string = "managed_by"
	ManagedByTagValue string = "oke_operator"

	defaultTimeout time.Duration = 5 * time.Second
)

// certificatesAPI is the subset of the certificates management service
// used by CertificatesClient
type certificatesAPI interface {
	CreateCertificate(ctx context.Context, request certificatesmanagement.CreateCertificateRequest) (certificatesmanagement.CreateCertificateResponse, error)
	UpdateCertificate(ctx context.Context, request certificatesmanagement.UpdateCertificateRequest) (certificatesmanagement.UpdateCertificateResponse, error)
	ScheduleCertificateDeletion(ctx context.Context, request certificatesmanagement.ScheduleCertificateDeletionRequest) (certificatesmanagement.ScheduleCertificateDeletionResponse, error)
}

// CertificatesClient implements certificates.Client on top of the OCI
// certificates management service. Credentials are acquired on the first
// call, and again on later calls for as long as the acquisition fails.
type CertificatesClient struct {
	mu      sync.Mutex
	api     certificatesAPI
	newAPI  func() (certificatesAPI, error)
	timeout time.Duration
}

var _ certificates.Client = &CertificatesClient{}

// NewCertificatesClient returns a CertificatesClient that authenticates with
// the configuration provider returned by provider. Every call is bounded by
// timeout.
func NewCertificatesClient(provider ProviderFunc, timeout time.Duration) *CertificatesClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &CertificatesClient{
		newAPI: func() (certificatesAPI, error) {
			p, err := provider()
			if err != nil {
				return nil, err
			}
			api, err := certificatesmanagement.NewCertificatesManagementClientWithConfigurationProvider(p)
			if err != nil {
				return nil, fmt.Errorf("unable to create certificates management client: %w", err)
			}
			return api, nil
		},
		timeout: timeout,
	}
}

func newCertificatesClient(api certificatesAPI, timeout time.Duration) *CertificatesClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &CertificatesClient{api: api, timeout: timeout}
}

// client returns the service client, acquiring credentials if needed.
// Failures are hard failures of the calling operation.
func (c *CertificatesClient) client() (certificatesAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.api == nil {
		api, err := c.newAPI()
		if err != nil {
			return nil, fmt.Errorf("unable to acquire OCI credentials: %w", err)
		}
		c.api = api
	}
	return c.api, nil
}

// Create imports a new certificate
func (c *CertificatesClient) Create(ctx context.Context, compartmentID, name string, bundle certificates.Bundle) (string, error) {
	api, err := c.client()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := api.CreateCertificate(ctx, certificatesmanagement.CreateCertificateRequest{
		CreateCertificateDetails: certificatesmanagement.CreateCertificateDetails{
			Name:          common.String(name),
			CompartmentId: common.String(compartmentID),
			Description:   common.String(name),
			CertificateConfig: certificatesmanagement.CreateCertificateByImportingConfigDetails{
				CertChainPem:   common.String(bundle.Chain),
				CertificatePem: common.String(bundle.Certificate),
				PrivateKeyPem:  common.String(bundle.PrivateKey),
			},
			FreeformTags: map[string]string{ManagedByTag: ManagedByTagValue},
		},
		RequestMetadata: requestMetadata(),
	})
	if err != nil {
		return "", classify("CreateCertificate", err)
	}

	if resp.Certificate.Id == nil {
		return "", certificates.NewSoftFailureError("CreateCertificate", statusCode(resp.RawResponse), "no certificate id returned")
	}
	return *resp.Certificate.Id, nil
}

// Update imports a new version of an existing certificate
func (c *CertificatesClient) Update(ctx context.Context, certificateID string, bundle certificates.Bundle) (int64, error) {
	api, err := c.client()
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := api.UpdateCertificate(ctx, certificatesmanagement.UpdateCertificateRequest{
		CertificateId: common.String(certificateID),
		UpdateCertificateDetails: certificatesmanagement.UpdateCertificateDetails{
			CertificateConfig: certificatesmanagement.UpdateCertificateByImportingConfigDetails{
				CertChainPem:   common.String(bundle.Chain),
				CertificatePem: common.String(bundle.Certificate),
				PrivateKeyPem:  common.String(bundle.PrivateKey),
			},
		},
		RequestMetadata: requestMetadata(),
	})
	if err != nil {
		return 0, classify("UpdateCertificate", err)
	}

	if resp.Certificate.CurrentVersion == nil || resp.Certificate.CurrentVersion.VersionNumber == nil {
		return 0, certificates.NewSoftFailureError("UpdateCertificate", statusCode(resp.RawResponse), "no certificate version returned")
	}
	return *resp.Certificate.CurrentVersion.VersionNumber, nil
}

// ScheduleDeletion schedules the deletion of a certificate using the
// default deletion window of the service
func (c *CertificatesClient) ScheduleDeletion(ctx context.Context, certificateID string) error {
	api, err := c.client()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err = api.ScheduleCertificateDeletion(ctx, certificatesmanagement.ScheduleCertificateDeletionRequest{
		CertificateId:                      common.String(certificateID),
		ScheduleCertificateDeletionDetails: certificatesmanagement.ScheduleCertificateDeletionDetails{},
		RequestMetadata:                    requestMetadata(),
	})
	if err != nil {
		return classify("ScheduleCertificateDeletion", err)
	}
	return nil
}

// classify turns errors answered by the service into soft failures.
// Anything else (credentials, transport, timeouts) is returned wrapped.
func classify(op string, err error) error {
	var se common.ServiceError
	if errors.As(err, &se) {
		msg := se.GetMessage()
		if se.GetCode() != "" {
			msg = fmt.Sprintf("%s: %s", se.GetCode(), msg)
		}
		return certificates.NewSoftFailureError(op, se.GetHTTPStatusCode(), msg)
	}
	return fmt.Errorf("%s failed: %w", op, err)
}
