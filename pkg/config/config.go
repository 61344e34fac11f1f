package config

import (
	"fmt"
	"os"
	"time"

	"github.com/3scale-ops/oci-cert-sync/pkg/util/backoff"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"
)

const (
	// CompartmentEnvVar is the constant for env variable COMPARTMENT_OCID
	// which, when set, skips the discovery of the compartment using the
	// instance metadata.
	CompartmentEnvVar string = "COMPARTMENT_OCID"

	// DefaultMetadataEndpoint is the instance metadata endpoint of OCI compute instances
	DefaultMetadataEndpoint string = "http://169.254.169.254/opc/v2/instance/metadata/"
)

// Config holds the configuration of the operator
type Config struct {
	// CompartmentID is the compartment where certificates are created.
	// If empty, it is discovered from the cluster the operator runs on.
	CompartmentID string `json:"compartmentID,omitempty"`
	// MetadataEndpoint is the instance metadata endpoint used to discover
	// the cluster ID
	MetadataEndpoint string `json:"metadataEndpoint,omitempty"`
	// RequestTimeout bounds every call to external services
	RequestTimeout metav1.Duration `json:"requestTimeout,omitempty"`
	// RetryDelay is the wait between attempts after a soft failure
	RetryDelay metav1.Duration `json:"retryDelay,omitempty"`
	// RetryJitter randomizes RetryDelay between 0.5x and 1.5x its value
	RetryJitter bool `json:"retryJitter,omitempty"`
	// MaxAttempts is the total number of attempts made after soft failures
	MaxAttempts int `json:"maxAttempts,omitempty"`
	// MaxConcurrentReconciles is the number of workers handling secrets
	MaxConcurrentReconciles int `json:"maxConcurrentReconciles,omitempty"`
	// SyncLabel and SyncLabelValue select the secrets to sync
	SyncLabel      string `json:"syncLabel,omitempty"`
	SyncLabelValue string `json:"syncLabelValue,omitempty"`
}

// Default returns the default configuration
func Default() Config {
	return Config{
		MetadataEndpoint:        DefaultMetadataEndpoint,
		RequestTimeout:          metav1.Duration{Duration: 5 * time.Second},
		RetryDelay:              metav1.Duration{Duration: 60 * time.Second},
		MaxAttempts:             3,
		MaxConcurrentReconciles: 20,
		SyncLabel:               "sync-to-oci",
		SyncLabelValue:          "yes",
	}
}

// Load returns the configuration read from the YAML file at path, on top
// of the defaults. An empty path returns the defaults. The COMPARTMENT_OCID
// environment variable has precedence over the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("unable to read config file: %w", err)
		}
		if err := yaml.UnmarshalStrict(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("unable to parse config file %s: %w", path, err)
		}
	}

	if v, ok := os.LookupEnv(CompartmentEnvVar); ok {
		cfg.CompartmentID = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable
func (c Config) Validate() error {
	if c.RequestTimeout.Duration <= 0 {
		return fmt.Errorf("requestTimeout must be positive")
	}
	if c.RetryDelay.Duration <= 0 {
		return fmt.Errorf("retryDelay must be positive")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("maxAttempts must be at least 1")
	}
	if c.MaxConcurrentReconciles < 1 {
		return fmt.Errorf("maxConcurrentReconciles must be at least 1")
	}
	if c.SyncLabel == "" {
		return fmt.Errorf("syncLabel must not be empty")
	}
	if c.CompartmentID == "" && c.MetadataEndpoint == "" {
		return fmt.Errorf("metadataEndpoint is required when no compartment is configured")
	}
	return nil
}

// RetryPolicy returns the policy applied to soft failures
func (c Config) RetryPolicy() backoff.Policy {
	policy := backoff.Fixed(c.RetryDelay.Duration, c.MaxAttempts)
	policy.Jitter = c.RetryJitter
	return policy
}

// SyncLabels returns the labels a secret must have to be synced
func (c Config) SyncLabels() map[string]string {
	return map[string]string{c.SyncLabel: c.SyncLabelValue}
}
