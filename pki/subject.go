package pki

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jmcleod/tunnelca/internal/util"
)

var (
	oidCommonName         = asn1.ObjectIdentifier{2, 5, 4, 3}
	oidOrganization       = asn1.ObjectIdentifier{2, 5, 4, 10}
	oidCountry            = asn1.ObjectIdentifier{2, 5, 4, 6}
	oidProvince           = asn1.ObjectIdentifier{2, 5, 4, 8}
	oidLocality           = asn1.ObjectIdentifier{2, 5, 4, 7}
	oidOrganizationalUnit = asn1.ObjectIdentifier{2, 5, 4, 11}
	oidEmailAddress       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}
)

// Subject is a distinguished name. Attributes are always encoded in the
// order CN, O, C, ST, L, OU, Email, one attribute per RDN, so that equal
// subjects produce identical DER.
type Subject struct {
	CommonName         string
	Organization       string
	Country            string
	Province           string
	Locality           string
	OrganizationalUnit string
	Email              string
}

// SubjectOption sets an optional subject attribute.
type SubjectOption func(*Subject)

// WithOrganization sets O.
func WithOrganization(v string) SubjectOption {
	return func(s *Subject) { s.Organization = v }
}

// WithCountry sets C.
func WithCountry(v string) SubjectOption {
	return func(s *Subject) { s.Country = v }
}

// WithProvince sets ST.
func WithProvince(v string) SubjectOption {
	return func(s *Subject) { s.Province = v }
}

// WithLocality sets L.
func WithLocality(v string) SubjectOption {
	return func(s *Subject) { s.Locality = v }
}

// WithOrganizationalUnit sets OU.
func WithOrganizationalUnit(v string) SubjectOption {
	return func(s *Subject) { s.OrganizationalUnit = v }
}

// WithEmail sets the PKCS#9 emailAddress attribute.
func WithEmail(v string) SubjectOption {
	return func(s *Subject) { s.Email = v }
}

// BuildSubject assembles a Subject. All values are trimmed and NFC
// normalized. It fails with ErrInvalidSubject when the common name is empty
// or an attribute cannot be encoded; no partial Subject is returned.
func BuildSubject(cn string, opts ...SubjectOption) (Subject, error) {
	s := Subject{CommonName: cn}
	for _, opt := range opts {
		opt(&s)
	}
	s = s.normalized()
	if err := s.Validate(); err != nil {
		return Subject{}, err
	}
	return s, nil
}

func (s Subject) normalized() Subject {
	clean := func(v string) string { return util.Normalize(strings.TrimSpace(v)) }
	return Subject{
		CommonName:         clean(s.CommonName),
		Organization:       clean(s.Organization),
		Country:            clean(s.Country),
		Province:           clean(s.Province),
		Locality:           clean(s.Locality),
		OrganizationalUnit: clean(s.OrganizationalUnit),
		Email:              clean(s.Email),
	}
}

// Validate checks the invariants of a Subject.
func (s Subject) Validate() error {
	if s.CommonName == "" {
		return fmt.Errorf("%w: common name is required", ErrInvalidSubject)
	}
	if s.Country != "" && (len(s.Country) != 2 || !isPrintable(s.Country)) {
		return fmt.Errorf("%w: country must be a two-letter code, got %q", ErrInvalidSubject, s.Country)
	}
	if s.Email != "" && !isASCII(s.Email) {
		return fmt.Errorf("%w: email address must be ASCII", ErrInvalidSubject)
	}
	for _, v := range []string{s.CommonName, s.Organization, s.Province, s.Locality, s.OrganizationalUnit} {
		if !utf8.ValidString(v) {
			return fmt.Errorf("%w: attribute is not valid UTF-8", ErrInvalidSubject)
		}
	}
	return nil
}

// RDNSequence returns the subject as an RDN sequence in the fixed order.
func (s Subject) RDNSequence() pkix.RDNSequence {
	var seq pkix.RDNSequence
	add := func(oid asn1.ObjectIdentifier, v any) {
		seq = append(seq, pkix.RelativeDistinguishedNameSET{{Type: oid, Value: v}})
	}
	add(oidCommonName, s.CommonName)
	if s.Organization != "" {
		add(oidOrganization, s.Organization)
	}
	if s.Country != "" {
		add(oidCountry, s.Country)
	}
	if s.Province != "" {
		add(oidProvince, s.Province)
	}
	if s.Locality != "" {
		add(oidLocality, s.Locality)
	}
	if s.OrganizationalUnit != "" {
		add(oidOrganizationalUnit, s.OrganizationalUnit)
	}
	if s.Email != "" {
		add(oidEmailAddress, asn1.RawValue{Class: asn1.ClassUniversal, Tag: asn1.TagIA5String, Bytes: []byte(s.Email)})
	}
	return seq
}

// Marshal returns the DER encoding of the subject.
func (s Subject) Marshal() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	der, err := asn1.Marshal(s.RDNSequence())
	if err != nil {
		return nil, fmt.Errorf("%w: encoding subject: %v", ErrInvalidSubject, err)
	}
	return der, nil
}

// ParseSubject decodes a DER distinguished name produced by Marshal, or any
// name carrying only the supported attribute types. Unknown attribute types
// are rejected so that a round trip never silently drops data.
func ParseSubject(der []byte) (Subject, error) {
	var seq pkix.RDNSequence
	rest, err := asn1.Unmarshal(der, &seq)
	if err != nil {
		return Subject{}, fmt.Errorf("%w: subject: %v", ErrDecode, err)
	}
	if len(rest) != 0 {
		return Subject{}, fmt.Errorf("%w: trailing data after subject", ErrDecode)
	}
	var s Subject
	for _, rdn := range seq {
		for _, atv := range rdn {
			v, ok := atv.Value.(string)
			if !ok {
				return Subject{}, fmt.Errorf("%w: attribute %v is not a string", ErrDecode, atv.Type)
			}
			switch {
			case atv.Type.Equal(oidCommonName):
				s.CommonName = v
			case atv.Type.Equal(oidOrganization):
				s.Organization = v
			case atv.Type.Equal(oidCountry):
				s.Country = v
			case atv.Type.Equal(oidProvince):
				s.Province = v
			case atv.Type.Equal(oidLocality):
				s.Locality = v
			case atv.Type.Equal(oidOrganizationalUnit):
				s.OrganizationalUnit = v
			case atv.Type.Equal(oidEmailAddress):
				s.Email = v
			default:
				return Subject{}, fmt.Errorf("%w: unsupported subject attribute %v", ErrDecode, atv.Type)
			}
		}
	}
	return s, nil
}

// String formats the subject as a readable DN in encoding order.
func (s Subject) String() string {
	var parts []string
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	add("CN", s.CommonName)
	add("O", s.Organization)
	add("C", s.Country)
	add("ST", s.Province)
	add("L", s.Locality)
	add("OU", s.OrganizationalUnit)
	add("emailAddress", s.Email)
	return strings.Join(parts, ", ")
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// isPrintable reports whether s fits the ASN.1 PrintableString alphabet.
func isPrintable(s string) bool {
	for _, r := range s {
		switch {
		case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9':
		case strings.ContainsRune(" '()+,-./:=?", r):
		default:
			return false
		}
	}
	return true
}
