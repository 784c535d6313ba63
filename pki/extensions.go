package pki

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var (
	oidExtensionBasicConstraints = asn1.ObjectIdentifier{2, 5, 29, 19}
	oidExtensionKeyUsage         = asn1.ObjectIdentifier{2, 5, 29, 15}
	oidExtensionExtendedKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 37}
	oidExtensionSubjectAltName   = asn1.ObjectIdentifier{2, 5, 29, 17}

	oidExtKeyUsageServerAuth  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 1}
	oidExtKeyUsageClientAuth  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 2}
	oidExtKeyUsageCodeSigning = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 3, 3}

	oidChallengePassword = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 7}
)

// ExtKeyUsage is the closed set of extended key usages a request may carry.
type ExtKeyUsage int

const (
	ExtKeyUsageNone ExtKeyUsage = iota
	ExtKeyUsageServerAuth
	ExtKeyUsageClientAuth
	ExtKeyUsageCodeSigning
)

// ParseExtKeyUsage maps "server_auth", "client_auth" or "code_signing" to
// an ExtKeyUsage. The empty string maps to ExtKeyUsageNone.
func ParseExtKeyUsage(s string) (ExtKeyUsage, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return ExtKeyUsageNone, nil
	case "server_auth":
		return ExtKeyUsageServerAuth, nil
	case "client_auth":
		return ExtKeyUsageClientAuth, nil
	case "code_signing":
		return ExtKeyUsageCodeSigning, nil
	default:
		return ExtKeyUsageNone, fmt.Errorf("%w: extended key usage %q", ErrUnsupportedExtension, s)
	}
}

func (u ExtKeyUsage) String() string {
	switch u {
	case ExtKeyUsageNone:
		return ""
	case ExtKeyUsageServerAuth:
		return "server_auth"
	case ExtKeyUsageClientAuth:
		return "client_auth"
	case ExtKeyUsageCodeSigning:
		return "code_signing"
	default:
		return fmt.Sprintf("ext_key_usage(%d)", int(u))
	}
}

// OID returns the object identifier for u.
func (u ExtKeyUsage) OID() (asn1.ObjectIdentifier, error) {
	switch u {
	case ExtKeyUsageServerAuth:
		return oidExtKeyUsageServerAuth, nil
	case ExtKeyUsageClientAuth:
		return oidExtKeyUsageClientAuth, nil
	case ExtKeyUsageCodeSigning:
		return oidExtKeyUsageCodeSigning, nil
	default:
		return nil, fmt.Errorf("%w: extended key usage %d", ErrUnsupportedExtension, int(u))
	}
}

// X509 returns the crypto/x509 constant for u.
func (u ExtKeyUsage) X509() x509.ExtKeyUsage {
	switch u {
	case ExtKeyUsageServerAuth:
		return x509.ExtKeyUsageServerAuth
	case ExtKeyUsageClientAuth:
		return x509.ExtKeyUsageClientAuth
	case ExtKeyUsageCodeSigning:
		return x509.ExtKeyUsageCodeSigning
	default:
		return x509.ExtKeyUsageAny
	}
}

// BasicConstraints returns a critical basic constraints extension. A CA
// extension carries no path length limit.
func BasicConstraints(isCA bool) pkix.Extension {
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		// cA is DEFAULT FALSE and must be omitted in DER when false.
		if isCA {
			b.AddASN1Boolean(true)
		}
	})
	return pkix.Extension{Id: oidExtensionBasicConstraints, Critical: true, Value: b.BytesOrPanic()}
}

// ExtendedKeyUsage returns a critical extended key usage extension holding
// the single usage kind.
func ExtendedKeyUsage(kind ExtKeyUsage) (pkix.Extension, error) {
	oid, err := kind.OID()
	if err != nil {
		return pkix.Extension{}, err
	}
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(oid)
	})
	value, err := b.Bytes()
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("%w: encoding extended key usage: %v", ErrUnsupportedExtension, err)
	}
	return pkix.Extension{Id: oidExtensionExtendedKeyUsage, Critical: true, Value: value}, nil
}

// SubjectAltNames returns a non-critical subject alternative name extension
// holding dNSName entries.
func SubjectAltNames(dnsNames []string) (pkix.Extension, error) {
	if len(dnsNames) == 0 {
		return pkix.Extension{}, fmt.Errorf("%w: subject alternative names: empty list", ErrUnsupportedExtension)
	}
	for _, name := range dnsNames {
		if name == "" || !isASCII(name) || strings.ContainsAny(name, " \t\r\n") {
			return pkix.Extension{}, fmt.Errorf("%w: invalid DNS name %q", ErrUnsupportedExtension, name)
		}
	}
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		for _, name := range dnsNames {
			b.AddASN1(cbasn1.Tag(2).ContextSpecific(), func(b *cryptobyte.Builder) {
				b.AddBytes([]byte(name))
			})
		}
	})
	value, err := b.Bytes()
	if err != nil {
		return pkix.Extension{}, fmt.Errorf("%w: encoding subject alternative names: %v", ErrUnsupportedExtension, err)
	}
	return pkix.Extension{Id: oidExtensionSubjectAltName, Value: value}, nil
}

// Attribute is a PKCS#10 request attribute with a single string value.
type Attribute struct {
	Type  asn1.ObjectIdentifier
	Value string
}

// ChallengePassword returns the PKCS#9 challengePassword attribute.
func ChallengePassword(value string) Attribute {
	return Attribute{Type: oidChallengePassword, Value: value}
}

// marshal encodes the attribute as SEQUENCE { type, SET { DirectoryString } }.
func (a Attribute) marshal() ([]byte, error) {
	tag := cbasn1.PrintableString
	if !isPrintable(a.Value) {
		tag = cbasn1.UTF8String
	}
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1ObjectIdentifier(a.Type)
		b.AddASN1(cbasn1.SET, func(b *cryptobyte.Builder) {
			b.AddASN1(tag, func(b *cryptobyte.Builder) {
				b.AddBytes([]byte(a.Value))
			})
		})
	})
	return b.Bytes()
}

// ExtensionFlags lists extensions on csr that a stricter CA would refuse to
// copy onto a leaf certificate. SignCSR still copies them; the result is
// meant for operator warnings.
func ExtensionFlags(csr *x509.CertificateRequest) []string {
	var flags []string
	for _, ext := range csr.Extensions {
		switch {
		case ext.Id.Equal(oidExtensionBasicConstraints):
			if isCA, ok := parseBasicConstraintsCA(ext.Value); ok && isCA {
				flags = append(flags, "basic constraints mark the subject as a CA")
			}
		case ext.Id.Equal(oidExtensionKeyUsage):
			if certSign, ok := parseKeyUsageCertSign(ext.Value); ok && certSign {
				flags = append(flags, "key usage grants certificate signing")
			}
		}
	}
	return flags
}

func parseBasicConstraintsCA(der []byte) (isCA, ok bool) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cbasn1.SEQUENCE) {
		return false, false
	}
	if seq.PeekASN1Tag(cbasn1.BOOLEAN) {
		if !seq.ReadASN1Boolean(&isCA) {
			return false, false
		}
	}
	return isCA, true
}

func parseKeyUsageCertSign(der []byte) (certSign, ok bool) {
	input := cryptobyte.String(der)
	var bits asn1.BitString
	if !input.ReadASN1BitString(&bits) {
		return false, false
	}
	// keyCertSign is bit 5 of KeyUsage.
	return bits.At(5) == 1, true
}
