package pki

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"sort"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// tagAttributes is the [0] IMPLICIT SET OF Attribute in CertificationRequestInfo.
var tagAttributes = cbasn1.Tag(0).Constructed().ContextSpecific()

// CSROptions carries the optional parts of a certificate request.
type CSROptions struct {
	ExtKeyUsage       ExtKeyUsage
	DNSNames          []string
	ChallengePassword string
	Digest            Digest
}

// BuildCSR creates a certificate request for subject, self-signed with key.
// The request always carries a critical basic constraints extension marking
// it as not a CA.
func BuildCSR(key crypto.Signer, subject Subject, opts CSROptions) (*x509.CertificateRequest, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: no signing key", ErrSigning)
	}
	rawSubject, err := subject.Marshal()
	if err != nil {
		return nil, err
	}
	hash := opts.Digest.Hash()
	alg, err := signatureAlgorithm(key.Public(), hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	exts := []pkix.Extension{BasicConstraints(false)}
	if opts.ExtKeyUsage != ExtKeyUsageNone {
		eku, err := ExtendedKeyUsage(opts.ExtKeyUsage)
		if err != nil {
			return nil, err
		}
		exts = append(exts, eku)
	}
	if len(opts.DNSNames) > 0 {
		san, err := SubjectAltNames(opts.DNSNames)
		if err != nil {
			return nil, err
		}
		exts = append(exts, san)
	}

	template := &x509.CertificateRequest{
		RawSubject:         rawSubject,
		SignatureAlgorithm: alg,
		ExtraExtensions:    exts,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}
	if opts.ChallengePassword != "" {
		der, err = addCSRAttribute(der, key, hash, ChallengePassword(opts.ChallengePassword))
		if err != nil {
			return nil, err
		}
	}
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing signed request: %v", ErrSigning, err)
	}
	return csr, nil
}

// addCSRAttribute inserts attr into the attributes of a DER request and
// signs the rewritten request info again with key.
func addCSRAttribute(der []byte, key crypto.Signer, hash crypto.Hash, attr Attribute) ([]byte, error) {
	encoded, err := attr.marshal()
	if err != nil {
		return nil, fmt.Errorf("%w: encoding attribute: %v", ErrSigning, err)
	}

	input := cryptobyte.String(der)
	var (
		request, info          cryptobyte.String
		version, subject, spki cryptobyte.String
		sigAlg, attrs          cryptobyte.String
		hasAttrs               bool
	)
	if !input.ReadASN1(&request, cbasn1.SEQUENCE) ||
		!request.ReadASN1(&info, cbasn1.SEQUENCE) ||
		!request.ReadASN1Element(&sigAlg, cbasn1.SEQUENCE) ||
		!info.ReadASN1Element(&version, cbasn1.INTEGER) ||
		!info.ReadASN1Element(&subject, cbasn1.SEQUENCE) ||
		!info.ReadASN1Element(&spki, cbasn1.SEQUENCE) ||
		!info.ReadOptionalASN1(&attrs, &hasAttrs, tagAttributes) {
		return nil, fmt.Errorf("%w: malformed certificate request", ErrSigning)
	}

	elements := [][]byte{encoded}
	for !attrs.Empty() {
		var elem cryptobyte.String
		if !attrs.ReadASN1Element(&elem, cbasn1.SEQUENCE) {
			return nil, fmt.Errorf("%w: malformed request attribute", ErrSigning)
		}
		elements = append(elements, elem)
	}
	// DER orders SET OF members by their encodings.
	sort.Slice(elements, func(i, j int) bool { return bytes.Compare(elements[i], elements[j]) < 0 })

	var tbs cryptobyte.Builder
	tbs.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddBytes(version)
		b.AddBytes(subject)
		b.AddBytes(spki)
		b.AddASN1(tagAttributes, func(b *cryptobyte.Builder) {
			for _, elem := range elements {
				b.AddBytes(elem)
			}
		})
	})
	tbsBytes, err := tbs.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request info: %v", ErrSigning, err)
	}

	h := hash.New()
	h.Write(tbsBytes)
	signature, err := key.Sign(rand.Reader, h.Sum(nil), hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	var out cryptobyte.Builder
	out.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddBytes(tbsBytes)
		b.AddBytes(sigAlg)
		b.AddASN1BitString(signature)
	})
	signed, err := out.Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ErrSigning, err)
	}
	return signed, nil
}

// ChallengePasswordOf returns the challengePassword attribute of csr, if any.
// crypto/x509 does not expose it, so the request info is walked directly.
func ChallengePasswordOf(csr *x509.CertificateRequest) (string, bool, error) {
	info := cryptobyte.String(csr.RawTBSCertificateRequest)
	var (
		body     cryptobyte.String
		attrs    cryptobyte.String
		hasAttrs bool
	)
	if !info.ReadASN1(&body, cbasn1.SEQUENCE) ||
		!body.SkipASN1(cbasn1.INTEGER) ||
		!body.SkipASN1(cbasn1.SEQUENCE) ||
		!body.SkipASN1(cbasn1.SEQUENCE) ||
		!body.ReadOptionalASN1(&attrs, &hasAttrs, tagAttributes) {
		return "", false, fmt.Errorf("%w: malformed certificate request", ErrDecode)
	}
	for !attrs.Empty() {
		var (
			attr   cryptobyte.String
			values cryptobyte.String
		)
		var oid asn1.ObjectIdentifier
		if !attrs.ReadASN1(&attr, cbasn1.SEQUENCE) || !attr.ReadASN1ObjectIdentifier(&oid) {
			return "", false, fmt.Errorf("%w: malformed request attribute", ErrDecode)
		}
		if !oid.Equal(oidChallengePassword) {
			continue
		}
		if !attr.ReadASN1(&values, cbasn1.SET) {
			return "", false, fmt.Errorf("%w: malformed challenge password", ErrDecode)
		}
		var (
			value cryptobyte.String
			tag   cbasn1.Tag
		)
		if !values.ReadAnyASN1(&value, &tag) {
			return "", false, fmt.Errorf("%w: malformed challenge password", ErrDecode)
		}
		switch tag {
		case cbasn1.PrintableString, cbasn1.UTF8String, cbasn1.IA5String, cbasn1.T61String:
			return string(value), true, nil
		default:
			return "", false, fmt.Errorf("%w: challenge password has unsupported string tag %d", ErrDecode, tag)
		}
	}
	return "", false, nil
}

// VerifyCSR checks the self-signature of csr. No certificate may be issued
// for a request that fails this check.
func VerifyCSR(csr *x509.CertificateRequest) error {
	if csr == nil {
		return fmt.Errorf("%w: no certificate request", ErrIssuance)
	}
	if err := csr.CheckSignature(); err != nil {
		return fmt.Errorf("%w: request signature does not verify: %v", ErrIssuance, err)
	}
	return nil
}
