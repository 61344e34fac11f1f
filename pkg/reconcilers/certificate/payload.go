package reconcilers

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/3scale-ops/oci-cert-sync/pkg/certificates"
	"github.com/3scale-ops/oci-cert-sync/pkg/util/pki"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
)

const (
	// CertificateIDAnnotation links a Secret to its remote certificate
	CertificateIDAnnotation = "oci.oraclecloud.com/certificate-id"

	secretCertificate = corev1.TLSCertKey
	secretPrivateKey  = corev1.TLSPrivateKeyKey
)

// DecodeError is returned when the data of a Secret cannot be
// turned into a certificate bundle
type DecodeError struct {
	Key    string
	Reason string
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("invalid '%s': %s", e.Key, e.Reason)
}

// IsDecodeError returns true if the error is a DecodeError
func IsDecodeError(err error) bool {
	var de DecodeError
	return errors.As(err, &de)
}

// Payload is the part of a Secret the certificate handlers work with
type Payload struct {
	Namespace     string
	Name          string
	UID           types.UID
	CertificateID string
	Data          map[string][]byte
}

// PayloadFromSecret extracts a Payload from the given Secret
func PayloadFromSecret(secret *corev1.Secret) Payload {
	return Payload{
		Namespace:     secret.GetNamespace(),
		Name:          secret.GetName(),
		UID:           secret.GetUID(),
		CertificateID: secret.GetAnnotations()[CertificateIDAnnotation],
		Data:          secret.Data,
	}
}

// CertificateName returns the name of the remote certificate for this
// Secret. It is unique per Secret instance.
func (p Payload) CertificateName() string {
	return fmt.Sprintf("%s_%s_%s", p.Namespace, p.Name, p.UID)
}

// Bundle decodes the 'tls.crt' and 'tls.key' keys of the payload. The
// certificate must hold the leaf certificate followed by at least one
// chain certificate.
func (p Payload) Bundle() (certificates.Bundle, error) {
	crt, err := p.value(secretCertificate)
	if err != nil {
		return certificates.Bundle{}, err
	}
	key, err := p.value(secretPrivateKey)
	if err != nil {
		return certificates.Bundle{}, err
	}

	leaf, chain, ok := pki.LeafAndChain(crt)
	if !ok {
		return certificates.Bundle{}, DecodeError{
			Key:    secretCertificate,
			Reason: "failed to extract the PEM certificate and intermediate certificates",
		}
	}

	return certificates.Bundle{Certificate: leaf, Chain: chain, PrivateKey: key}, nil
}

func (p Payload) value(key string) (string, error) {
	v, ok := p.Data[key]
	if !ok || len(v) == 0 {
		return "", DecodeError{Key: key, Reason: "key is missing or empty"}
	}
	if !utf8.Valid(v) {
		return "", DecodeError{Key: key, Reason: "value is not valid UTF-8 text"}
	}
	return string(v), nil
}
