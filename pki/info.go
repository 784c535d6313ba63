package pki

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/jmcleod/tunnelca/internal/util"
)

// Certificate status values.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
)

// CertificateInfo is a printable summary of a certificate.
type CertificateInfo struct {
	Subject           string    `json:"subject" yaml:"subject"`
	Issuer            string    `json:"issuer" yaml:"issuer"`
	SerialNumber      int64     `json:"serial_number" yaml:"serial_number"`
	NotBefore         time.Time `json:"not_before" yaml:"not_before"`
	NotAfter          time.Time `json:"not_after" yaml:"not_after"`
	FingerprintSHA256 string    `json:"fingerprint_sha256" yaml:"fingerprint_sha256"`
	KeyAlgorithm      string    `json:"key_algorithm" yaml:"key_algorithm"`
	Status            string    `json:"status" yaml:"status"`
}

// Describe extracts the well-known fields of cert.
func Describe(cert *x509.Certificate) CertificateInfo {
	fingerprint := sha256.Sum256(cert.Raw)
	return CertificateInfo{
		Subject:           nameString(cert.RawSubject, cert.Subject.String()),
		Issuer:            nameString(cert.RawIssuer, cert.Issuer.String()),
		SerialNumber:      cert.SerialNumber.Int64(),
		NotBefore:         cert.NotBefore.UTC(),
		NotAfter:          cert.NotAfter.UTC(),
		FingerprintSHA256: util.HexEncode(fingerprint[:]),
		KeyAlgorithm:      keyAlgorithmString(cert),
		Status:            certStatus(cert, time.Now()),
	}
}

// nameString renders a DER name in encoding order when it only carries
// attributes Subject understands, and falls back to crypto/x509 otherwise.
func nameString(raw []byte, fallback string) string {
	s, err := ParseSubject(raw)
	if err != nil {
		return fallback
	}
	return s.String()
}

// certStatus reports whether now lies inside the validity window. Expiry is
// informational only; nothing refuses an expired CA.
func certStatus(cert *x509.Certificate, now time.Time) string {
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return StatusExpired
	}
	return StatusActive
}

func keyAlgorithmString(cert *x509.Certificate) string {
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		return fmt.Sprintf("RSA-%d", pub.N.BitLen())
	case *ecdsa.PublicKey:
		return fmt.Sprintf("ECDSA %s", pub.Curve.Params().Name)
	default:
		return cert.PublicKeyAlgorithm.String()
	}
}
