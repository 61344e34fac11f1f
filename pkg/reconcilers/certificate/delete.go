package reconcilers

import (
	"context"
	"fmt"

	"github.com/3scale-ops/oci-cert-sync/pkg/certificates"
	handlererrors "github.com/3scale-ops/oci-cert-sync/pkg/reconcilers/certificate/errors"
	"github.com/go-logr/logr"
)

// Delete schedules the deletion of the remote certificate linked to the
// Secret. Secrets without a link have nothing to clean up.
func (s *Syncer) Delete(ctx context.Context, logger logr.Logger, p Payload) (Result, error) {

	if p.CertificateID == "" {
		logger.Info("no OCI certificate associated with the secret")
		return Result{}, nil
	}

	logger = logger.WithValues("method", "Delete", "certificate-id", p.CertificateID)

	if err := s.client.ScheduleDeletion(ctx, p.CertificateID); err != nil {
		if certificates.IsSoftFailure(err) {
			return Result{}, handlererrors.Temporary(DeletionFailedReason, s.policy,
				fmt.Errorf("could not schedule OCI certificate for deletion: %w", err))
		}
		return Result{}, handlererrors.Permanent(DeletionFailedReason, err)
	}

	msg := fmt.Sprintf("OCI certificate %s was scheduled for deletion", p.CertificateID)
	logger.Info(DeletionScheduledReason + " | " + msg)

	return Result{Reason: DeletionScheduledReason, Message: msg}, nil
}
