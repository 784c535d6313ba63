package pki

import "errors"

var (
	// ErrKeyGeneration is returned when a key pair cannot be generated, either
	// because the requested size is invalid for the algorithm or because the
	// random source failed.
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrInvalidSubject is returned when a subject is missing its common name.
	ErrInvalidSubject = errors.New("invalid subject")

	// ErrUnsupportedExtension is returned for extension kinds outside the
	// closed set understood by the builder.
	ErrUnsupportedExtension = errors.New("unsupported extension")

	// ErrSigning is returned when a request cannot be signed, typically because
	// the digest is not usable with the key type.
	ErrSigning = errors.New("signing failed")

	// ErrIssuance is returned when a certificate cannot be issued from a CSR.
	// A CSR whose self-signature does not verify always yields ErrIssuance.
	ErrIssuance = errors.New("certificate issuance failed")

	// ErrUnsupportedFormat is returned by the codec for any format but PEM.
	ErrUnsupportedFormat = errors.New("unsupported encoding format")

	// ErrUnsupportedKind is returned by the codec for objects other than
	// certificates, certificate requests and private keys.
	ErrUnsupportedKind = errors.New("unsupported object kind")

	// ErrDecode is returned when PEM data cannot be decoded or parsed.
	ErrDecode = errors.New("decode failed")
)
