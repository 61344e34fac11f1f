package oci

import (
	"context"
	"fmt"
	"time"

	"github.com/3scale-ops/oci-cert-sync/pkg/identity"
	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/containerengine"
)

type clustersAPI interface {
	GetCluster(ctx context.Context, request containerengine.GetClusterRequest) (containerengine.GetClusterResponse, error)
}

// ClusterClient looks up clusters in the container engine service
type ClusterClient struct {
	api     clustersAPI
	timeout time.Duration
}

var _ identity.ClusterLookup = &ClusterClient{}

// NewClusterClient returns a ClusterClient that authenticates with the
// given configuration provider
func NewClusterClient(provider common.ConfigurationProvider, timeout time.Duration) (*ClusterClient, error) {
	api, err := containerengine.NewContainerEngineClientWithConfigurationProvider(provider)
	if err != nil {
		return nil, fmt.Errorf("unable to create container engine client: %w", err)
	}
	return newClusterClient(api, timeout), nil
}

func newClusterClient(api clustersAPI, timeout time.Duration) *ClusterClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &ClusterClient{api: api, timeout: timeout}
}

// CompartmentForCluster returns the compartment that holds the cluster
func (c *ClusterClient) CompartmentForCluster(ctx context.Context, clusterID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.GetCluster(ctx, containerengine.GetClusterRequest{
		ClusterId:       common.String(clusterID),
		RequestMetadata: requestMetadata(),
	})
	if err != nil {
		return "", fmt.Errorf("unable to get cluster %s: %w", clusterID, err)
	}
	if resp.Cluster.CompartmentId == nil {
		return "", fmt.Errorf("cluster %s has no compartment", clusterID)
	}
	return *resp.Cluster.CompartmentId, nil
}
