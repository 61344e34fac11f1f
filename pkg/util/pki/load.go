package pki

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// LoadX509Certificate loads a x509.Certificate object from the given bytes
func LoadX509Certificate(cert []byte) (*x509.Certificate, error) {

	cpb, _ := pem.Decode(cert)
	if cpb == nil {
		return nil, fmt.Errorf("error decoding certificate PEM block")
	}
	crt, err := x509.ParseCertificate(cpb.Bytes)
	if err != nil {
		return nil, err
	}

	return crt, nil
}
