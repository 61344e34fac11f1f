package pki

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"time"
)

// GeneratePrivateKey returns a new 2048 bits RSA key
func GeneratePrivateKey() (*rsa.PrivateKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	return priv, nil
}

// GenerateCertificate returns a PEM encoded certificate and its PEM encoded PKCS#8
// private key. The certificate is self-signed when issuerCert is nil, otherwise it
// is signed with signerKey.
func GenerateCertificate(issuerCert *x509.Certificate, signerKey interface{}, commonName string,
	notBefore time.Time, validFor time.Duration, isCA bool, dnsNames ...string) ([]byte, []byte, error) {

	priv, err := GeneratePrivateKey()
	if err != nil {
		return nil, nil, err
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, nil, err
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"oci-cert-sync"},
			CommonName:   commonName,
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(validFor),
		DNSNames:              dnsNames,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	if isCA {
		template.IsCA = true
		template.KeyUsage = x509.KeyUsageCertSign
		template.ExtKeyUsage = nil
	}

	var derBytes []byte
	if issuerCert == nil {
		// Self-signed
		derBytes, err = x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	} else {
		// CA signed
		derBytes, err = x509.CreateCertificate(rand.Reader, &template, issuerCert, &priv.PublicKey, signerKey)
	}
	if err != nil {
		return nil, nil, err
	}

	crtPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, err
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})

	return crtPEM, privPEM, nil
}

// GenerateChain returns a PEM bundle holding a leaf certificate followed by the
// intermediate and root certificates that issued it, plus the leaf private key.
func GenerateChain(commonName string, notBefore time.Time, validFor time.Duration) ([]byte, []byte, error) {

	rootPEM, rootKeyPEM, err := GenerateCertificate(nil, nil, "root-ca", notBefore, validFor, true)
	if err != nil {
		return nil, nil, err
	}
	root, rootKey, err := parsePair(rootPEM, rootKeyPEM)
	if err != nil {
		return nil, nil, err
	}

	intermediatePEM, intermediateKeyPEM, err := GenerateCertificate(root, rootKey, "intermediate-ca", notBefore, validFor, true)
	if err != nil {
		return nil, nil, err
	}
	intermediate, intermediateKey, err := parsePair(intermediatePEM, intermediateKeyPEM)
	if err != nil {
		return nil, nil, err
	}

	leafPEM, leafKeyPEM, err := GenerateCertificate(intermediate, intermediateKey, commonName, notBefore, validFor, false, commonName)
	if err != nil {
		return nil, nil, err
	}

	bundle := append(append(leafPEM, intermediatePEM...), rootPEM...)
	return bundle, leafKeyPEM, nil
}

func parsePair(certPEM, keyPEM []byte) (*x509.Certificate, interface{}, error) {
	cert, err := LoadX509Certificate(certPEM)
	if err != nil {
		return nil, nil, err
	}
	block, _ := pem.Decode(keyPEM)
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, nil, err
	}
	return cert, key, nil
}
