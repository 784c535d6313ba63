package pki

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

const (
	// DefaultValidityDays applies to both CA and leaf certificates.
	DefaultValidityDays = 7300

	// CASerial is reserved for the self-signed CA certificate.
	CASerial = 1
)

// CreateCA builds the self-signed root certificate for key. The issuer name
// equals the subject, the serial is CASerial and validity starts now.
// A non-positive validityDays selects DefaultValidityDays.
func CreateCA(subject Subject, key *KeyPair, validityDays int, digest Digest) (*x509.Certificate, error) {
	if key == nil || key.Private == nil {
		return nil, fmt.Errorf("%w: no CA key", ErrIssuance)
	}
	rawSubject, err := subject.Marshal()
	if err != nil {
		return nil, err
	}
	alg, err := signatureAlgorithm(key.Public(), digest.Hash())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	if validityDays <= 0 {
		validityDays = DefaultValidityDays
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(CASerial),
		RawSubject:            rawSubject,
		NotBefore:             now,
		NotAfter:              now.AddDate(0, 0, validityDays),
		SignatureAlgorithm:    alg,
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		ExtraExtensions:       []pkix.Extension{BasicConstraints(true)},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key.Private)
	if err != nil {
		return nil, fmt.Errorf("%w: creating CA certificate: %v", ErrIssuance, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing CA certificate: %v", ErrIssuance, err)
	}
	return cert, nil
}

// SignCSR issues a leaf certificate for csr under caCert. The request's
// self-signature is verified before anything else. Subject and public key
// come from the request, every request extension is copied with its
// criticality, and the signature uses the request's digest with caKey.
// A non-positive validityDays selects DefaultValidityDays.
func SignCSR(csr *x509.CertificateRequest, caKey crypto.Signer, caCert *x509.Certificate, serial int64, validityDays int) (*x509.Certificate, error) {
	if err := VerifyCSR(csr); err != nil {
		return nil, err
	}
	if caKey == nil || caCert == nil {
		return nil, fmt.Errorf("%w: CA key and certificate are required", ErrIssuance)
	}
	if serial <= 0 {
		return nil, fmt.Errorf("%w: serial must be positive, got %d", ErrIssuance, serial)
	}
	hash, err := hashOf(csr.SignatureAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuance, err)
	}
	alg, err := signatureAlgorithm(caKey.Public(), hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIssuance, err)
	}
	if validityDays <= 0 {
		validityDays = DefaultValidityDays
	}

	exts := make([]pkix.Extension, len(csr.Extensions))
	copy(exts, csr.Extensions)

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:       big.NewInt(serial),
		RawSubject:         csr.RawSubject,
		NotBefore:          now,
		NotAfter:           now.AddDate(0, 0, validityDays),
		SignatureAlgorithm: alg,
		ExtraExtensions:    exts,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, caCert, csr.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("%w: signing certificate: %v", ErrIssuance, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing certificate: %v", ErrIssuance, err)
	}
	return cert, nil
}
