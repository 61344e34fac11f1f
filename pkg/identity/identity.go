package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"
)

const (
	// ClusterIDKey is the key of the instance metadata that holds the
	// OCID of the cluster the node belongs to
	ClusterIDKey string = "oke-cluster-id"

	defaultTimeout time.Duration = 5 * time.Second
)

// ClusterLookup returns the compartment that holds a cluster
type ClusterLookup interface {
	CompartmentForCluster(ctx context.Context, clusterID string) (string, error)
}

// Error is returned when the identity of the operator cannot be resolved.
// Step names the resolution step that failed.
type Error struct {
	Step string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("unable to resolve compartment, %s: %s", e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Resolver finds out the compartment where certificates are created.
// A configured CompartmentID is used as is. Otherwise the cluster ID is
// read from the instance metadata and the compartment of that cluster is
// used.
type Resolver struct {
	CompartmentID    string
	MetadataEndpoint string
	HTTPClient       *http.Client
	Clusters         ClusterLookup
	Timeout          time.Duration
	Log              logr.Logger
}

// Resolve returns the compartment ID. Any error is fatal for the operator.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	if r.CompartmentID != "" {
		r.Log.Info("using configured compartment", "compartment", r.CompartmentID)
		return r.CompartmentID, nil
	}

	clusterID, err := r.clusterID(ctx)
	if err != nil {
		return "", err
	}
	r.Log.Info("found cluster in instance metadata", "cluster", clusterID)

	if r.Clusters == nil {
		return "", &Error{Step: "cluster lookup", Err: fmt.Errorf("no cluster client configured")}
	}

	lctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()
	compartmentID, err := r.Clusters.CompartmentForCluster(lctx, clusterID)
	if err != nil {
		return "", &Error{Step: "cluster lookup", Err: err}
	}
	if compartmentID == "" {
		return "", &Error{Step: "cluster lookup", Err: fmt.Errorf("cluster %s has no compartment", clusterID)}
	}

	r.Log.Info("discovered compartment", "compartment", compartmentID)
	return compartmentID, nil
}

func (r *Resolver) clusterID(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.MetadataEndpoint, nil)
	if err != nil {
		return "", &Error{Step: "instance metadata", Err: err}
	}
	req.Header.Set("Authorization", "Bearer Oracle")

	resp, err := r.httpClient().Do(req)
	if err != nil {
		return "", &Error{Step: "instance metadata", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &Error{Step: "instance metadata", Err: fmt.Errorf("unexpected status code %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Step: "instance metadata", Err: err}
	}

	metadata := map[string]interface{}{}
	if err := json.Unmarshal(body, &metadata); err != nil {
		return "", &Error{Step: "instance metadata", Err: err}
	}

	clusterID, _ := metadata[ClusterIDKey].(string)
	if clusterID == "" {
		return "", &Error{Step: "instance metadata", Err: fmt.Errorf("key '%s' not found", ClusterIDKey)}
	}
	return clusterID, nil
}

func (r *Resolver) httpClient() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return http.DefaultClient
}

func (r *Resolver) timeout() time.Duration {
	if r.Timeout > 0 {
		return r.Timeout
	}
	return defaultTimeout
}
