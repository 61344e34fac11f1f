package reconcilers

import (
	"time"

	"github.com/3scale-ops/oci-cert-sync/pkg/certificates"
	"github.com/3scale-ops/oci-cert-sync/pkg/util/backoff"
	"github.com/3scale-ops/oci-cert-sync/pkg/util/clock"
	"github.com/3scale-ops/oci-cert-sync/pkg/util/pki"
	"github.com/go-logr/logr"
)

// Reasons used for log lines and Kubernetes events
const (
	CreatedReason           = "OCICertificateCreated"
	UpdatedReason           = "OCICertificateUpdated"
	DeletionScheduledReason = "OCICertificateDeletionScheduled"
	CreationFailedReason    = "OCICertificateCreationFail"
	UpdateFailedReason      = "OCICertificateUpdateFail"
	DeletionFailedReason    = "OCICertificateDeletionFail"
)

// Result is the outcome of a successful handler execution
type Result struct {
	// Reason is empty when the handler had nothing to do
	Reason  string
	Message string
	// Annotations holds the annotations that need to be written
	// to the Secret
	Annotations map[string]string
	// Version is the current version of the remote certificate after an update
	Version int64
	// NotAfter is the expiration of the leaf certificate, if it could be parsed
	NotAfter *time.Time
}

// Syncer keeps remote certificates in sync with the TLS Secrets
// of the cluster
type Syncer struct {
	client        certificates.Client
	compartmentID string
	policy        backoff.Policy
	clock         clock.Clock
}

// NewSyncer returns a Syncer that creates certificates in the given compartment
// and retries soft failures following policy
func NewSyncer(client certificates.Client, compartmentID string, policy backoff.Policy, clk clock.Clock) *Syncer {
	return &Syncer{client: client, compartmentID: compartmentID, policy: policy, clock: clk}
}

// inspect loads the leaf certificate to report its expiration. A leaf that
// cannot be parsed is not an error: validating the material is up to the
// certificates service.
func (s *Syncer) inspect(logger logr.Logger, bundle certificates.Bundle) *time.Time {
	leaf, err := pki.LoadX509Certificate([]byte(bundle.Certificate))
	if err != nil {
		logger.V(1).Info("unable to parse leaf certificate", "error", err.Error())
		return nil
	}

	if s.clock.Now().After(leaf.NotAfter) {
		logger.Info("leaf certificate is expired", "notAfter", leaf.NotAfter)
	}
	notAfter := leaf.NotAfter
	return &notAfter
}
