package reconcilers

import (
	"context"
	"fmt"

	"github.com/3scale-ops/oci-cert-sync/pkg/certificates"
	handlererrors "github.com/3scale-ops/oci-cert-sync/pkg/reconcilers/certificate/errors"
	"github.com/go-logr/logr"
)

// Create imports the certificate held in the Secret as a new remote
// certificate. On success the returned Result carries the annotation
// that links the Secret to the remote certificate.
func (s *Syncer) Create(ctx context.Context, logger logr.Logger, p Payload) (Result, error) {
	logger = logger.WithValues("method", "Create")

	bundle, err := p.Bundle()
	if err != nil {
		logger.Error(err, fmt.Sprintf("make sure tls.crt and tls.key keys are present and valid for secret %s/%s", p.Namespace, p.Name))
		return Result{}, handlererrors.Permanent(CreationFailedReason, err)
	}
	notAfter := s.inspect(logger, bundle)

	name := p.CertificateName()
	logger.V(1).Info("creating certificate", "compartment", s.compartmentID, "certificateName", name)

	id, err := s.client.Create(ctx, s.compartmentID, name, bundle)
	if err == nil && id == "" {
		err = certificates.NewSoftFailureError("CreateCertificate", 0, "no certificate id returned")
	}
	if err != nil {
		if certificates.IsSoftFailure(err) {
			return Result{}, handlererrors.Temporary(CreationFailedReason, s.policy,
				fmt.Errorf("could not create OCI certificate using secret data: %w", err))
		}
		return Result{}, handlererrors.Permanent(CreationFailedReason, err)
	}

	msg := fmt.Sprintf("OCI certificate %s successfully created", id)
	logger.Info(CreatedReason+" | "+msg, "certificate-id", id)

	return Result{
		Reason:      CreatedReason,
		Message:     msg,
		Annotations: map[string]string{CertificateIDAnnotation: id},
		NotAfter:    notAfter,
	}, nil
}
