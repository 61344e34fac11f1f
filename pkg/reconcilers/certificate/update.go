package reconcilers

import (
	"context"
	"fmt"

	"github.com/3scale-ops/oci-cert-sync/pkg/certificates"
	handlererrors "github.com/3scale-ops/oci-cert-sync/pkg/reconcilers/certificate/errors"
	"github.com/go-logr/logr"
)

// Update imports the certificate held in the Secret as a new version of
// the linked remote certificate. A Secret without a link is handled as a
// create, which recovers links lost between a remote create and the
// annotation write.
func (s *Syncer) Update(ctx context.Context, logger logr.Logger, p Payload) (Result, error) {

	if p.CertificateID == "" {
		logger.Info("no OCI certificate linked to the secret yet, creating it")
		return s.Create(ctx, logger, p)
	}

	logger = logger.WithValues("method", "Update", "certificate-id", p.CertificateID)

	bundle, err := p.Bundle()
	if err != nil {
		logger.Error(err, fmt.Sprintf("make sure tls.crt and tls.key keys are present and valid for secret %s/%s", p.Namespace, p.Name))
		return Result{}, handlererrors.Permanent(UpdateFailedReason, err)
	}
	notAfter := s.inspect(logger, bundle)

	version, err := s.client.Update(ctx, p.CertificateID, bundle)
	if err == nil && version == 0 {
		err = certificates.NewSoftFailureError("UpdateCertificate", 0, "no certificate version returned")
	}
	if err != nil {
		if certificates.IsSoftFailure(err) {
			return Result{}, handlererrors.Temporary(UpdateFailedReason, s.policy,
				fmt.Errorf("could not update OCI certificate: %w", err))
		}
		return Result{}, handlererrors.Permanent(UpdateFailedReason, err)
	}

	msg := fmt.Sprintf("OCI certificate %s current version was updated to %d", p.CertificateID, version)
	logger.Info(UpdatedReason+" | "+msg, "version", version)

	return Result{
		Reason:   UpdatedReason,
		Message:  msg,
		Version:  version,
		NotAfter: notAfter,
	}, nil
}
