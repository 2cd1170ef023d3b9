package afip

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/smallstep/pkcs7"
)

// ErrCertificateExpired is returned before any network call when the signing
// certificate's validity window has already closed.
var ErrCertificateExpired = errors.New("signing certificate has expired")

// CMSSigner produces the signed message the authority's login service
// expects: the request document embedded in a SHA-256 CMS signed-data
// structure, DER encoded and wrapped in base64.
type CMSSigner struct {
	now func() time.Time
}

// NewCMSSigner creates a signer using the system clock
func NewCMSSigner() *CMSSigner {
	return &CMSSigner{now: time.Now}
}

// Sign embeds the document in a CMS signed-data structure using the PEM
// certificate and private key, and returns it base64 encoded.
func (s *CMSSigner) Sign(document []byte, certificatePEM, privateKeyPEM string) (string, error) {
	cert, err := parseCertificate(certificatePEM)
	if err != nil {
		return "", err
	}
	if s.now().After(cert.NotAfter) {
		return "", fmt.Errorf("%w: not valid after %s", ErrCertificateExpired, cert.NotAfter.Format(time.RFC3339))
	}

	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return "", err
	}

	signed, err := pkcs7.NewSignedData(document)
	if err != nil {
		return "", fmt.Errorf("afip: failed to build signed data: %w", err)
	}
	signed.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := signed.AddSigner(cert, key, pkcs7.SignerInfoConfig{}); err != nil {
		return "", fmt.Errorf("afip: failed to sign document: %w", err)
	}

	der, err := signed.Finish()
	if err != nil {
		return "", fmt.Errorf("afip: failed to encode signed data: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// parseCertificate decodes the first certificate block of a PEM bundle
func parseCertificate(certificatePEM string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(certificatePEM))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("afip: no certificate found in PEM data")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("afip: failed to parse certificate: %w", err)
	}
	return cert, nil
}

// parsePrivateKey decodes a PEM private key in PKCS#8, PKCS#1 or EC form
func parsePrivateKey(privateKeyPEM string) (interface{}, error) {
	block, _ := pem.Decode([]byte(privateKeyPEM))
	if block == nil {
		return nil, errors.New("afip: no private key found in PEM data")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, errors.New("afip: unsupported private key format")
}
