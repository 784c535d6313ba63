package pki

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/youmark/pkcs8"
)

// PEM block types.
const (
	PEMCertificate        = "CERTIFICATE"
	PEMCertificateRequest = "CERTIFICATE REQUEST"
	PEMPrivateKey         = "PRIVATE KEY"
	pemRSAPrivateKey      = "RSA PRIVATE KEY"
)

// Format is a serialization format. Only PEM is supported.
type Format int

const (
	FormatPEM Format = iota
	FormatDER
)

func (f Format) String() string {
	switch f {
	case FormatPEM:
		return "pem"
	case FormatDER:
		return "der"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// Kind selects the object type Decode produces.
type Kind int

const (
	KindCertificate Kind = iota
	KindCertificateRequest
	KindPrivateKey
)

func (k Kind) String() string {
	switch k {
	case KindCertificate:
		return "certificate"
	case KindCertificateRequest:
		return "certificate request"
	case KindPrivateKey:
		return "private key"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Encode serializes a certificate, certificate request or private key.
func Encode(obj any, format Format) ([]byte, error) {
	if format != FormatPEM {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	switch v := obj.(type) {
	case *x509.Certificate:
		return EncodeCertificatePEM(v), nil
	case *x509.CertificateRequest:
		return EncodeCSRPEM(v), nil
	case *KeyPair:
		return EncodePrivateKeyPEM(v.Private)
	case crypto.Signer:
		return EncodePrivateKeyPEM(v)
	default:
		return nil, fmt.Errorf("%w: cannot encode %T as %s", ErrUnsupportedKind, obj, format)
	}
}

// Decode parses data into the object selected by kind: *x509.Certificate,
// *x509.CertificateRequest or crypto.Signer.
func Decode(data []byte, kind Kind, format Format) (any, error) {
	if format != FormatPEM {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	switch kind {
	case KindCertificate:
		return DecodeCertificatePEM(data)
	case KindCertificateRequest:
		return DecodeCSRPEM(data)
	case KindPrivateKey:
		return DecodePrivateKeyPEM(data)
	default:
		return nil, fmt.Errorf("%w: cannot decode %s", ErrUnsupportedKind, kind)
	}
}

// EncodeCertificatePEM returns cert as a CERTIFICATE PEM block.
func EncodeCertificatePEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: PEMCertificate, Bytes: cert.Raw})
}

// DecodeCertificatePEM parses the first PEM block of data as a certificate.
func DecodeCertificatePEM(data []byte) (*x509.Certificate, error) {
	block, err := decodeBlock(data, PEMCertificate)
	if err != nil {
		return nil, err
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return cert, nil
}

// EncodeCSRPEM returns csr as a CERTIFICATE REQUEST PEM block.
func EncodeCSRPEM(csr *x509.CertificateRequest) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: PEMCertificateRequest, Bytes: csr.Raw})
}

// DecodeCSRPEM parses the first PEM block of data as a certificate request.
// The signature is not checked here; see VerifyCSR.
func DecodeCSRPEM(data []byte) (*x509.CertificateRequest, error) {
	block, err := decodeBlock(data, PEMCertificateRequest)
	if err != nil {
		return nil, err
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return csr, nil
}

// EncodePrivateKeyPEM returns key as an unencrypted PKCS#8 PEM block.
func EncodePrivateKeyPEM(key crypto.PrivateKey) ([]byte, error) {
	der, err := pkcs8.MarshalPrivateKey(key, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrUnsupportedFormat, err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: PEMPrivateKey, Bytes: der}), nil
}

// DecodePrivateKeyPEM parses an unencrypted PKCS#8 private key. Legacy
// PKCS#1 "RSA PRIVATE KEY" blocks are accepted as well.
func DecodePrivateKeyPEM(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM data found", ErrDecode)
	}

	var (
		key any
		err error
	)
	switch block.Type {
	case PEMPrivateKey:
		key, err = pkcs8.ParsePKCS8PrivateKey(block.Bytes)
	case pemRSAPrivateKey:
		key, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrDecode, block.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrDecode, err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: key type %T cannot sign", ErrDecode, key)
	}
	return signer, nil
}

// KeyPairFromSigner wraps an RSA signer loaded from storage.
func KeyPairFromSigner(signer crypto.Signer) (*KeyPair, error) {
	priv, ok := signer.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: expected an RSA key, got %T", ErrDecode, signer)
	}
	return &KeyPair{Private: priv}, nil
}

func decodeBlock(data []byte, want string) (*pem.Block, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM data found", ErrDecode)
	}
	if block.Type != want {
		return nil, fmt.Errorf("%w: expected PEM block %q, got %q", ErrDecode, want, block.Type)
	}
	return block, nil
}
