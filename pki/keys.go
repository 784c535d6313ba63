package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"strings"
)

const (
	// DefaultKeyBits is the RSA modulus size used when none is configured.
	DefaultKeyBits = 2048

	// MinSafeKeyBits is the smallest modulus considered safe for production.
	MinSafeKeyBits = 2048

	// publicExponent is fixed; crypto/rsa always generates keys with e=65537.
	publicExponent = 65537
)

// KeyPair is an RSA key pair owned by whichever entity requested it (the CA
// or a leaf) until it is persisted.
type KeyPair struct {
	Private *rsa.PrivateKey
}

// Public returns the public half of the key pair.
func (k *KeyPair) Public() crypto.PublicKey {
	return &k.Private.PublicKey
}

// Bits returns the modulus size in bits.
func (k *KeyPair) Bits() int {
	return k.Private.N.BitLen()
}

// GenerateKey creates a fresh RSA key pair with public exponent 65537.
//
// Sizes below MinSafeKeyBits are not rejected here (crypto/rsa still refuses
// anything under 1024 bits); callers are expected to check WeakKeySize and
// refuse or flag them.
func GenerateKey(bits int) (*KeyPair, error) {
	if bits <= 0 {
		return nil, fmt.Errorf("%w: invalid key size %d", ErrKeyGeneration, bits)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("%w: generating RSA-%d key: %v", ErrKeyGeneration, bits, err)
	}
	if priv.E != publicExponent {
		return nil, fmt.Errorf("%w: unexpected public exponent %d", ErrKeyGeneration, priv.E)
	}
	return &KeyPair{Private: priv}, nil
}

// WeakKeySize reports whether bits is below the production minimum.
func WeakKeySize(bits int) bool {
	return bits < MinSafeKeyBits
}

// Digest selects the hash used for CSR and certificate signatures.
// The zero value is SHA-256.
type Digest int

const (
	SHA256 Digest = iota
	SHA384
	SHA512
)

// ParseDigest maps a configuration string to a Digest. The empty string
// selects SHA-256.
func ParseDigest(s string) (Digest, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "")) {
	case "", "sha256":
		return SHA256, nil
	case "sha384":
		return SHA384, nil
	case "sha512":
		return SHA512, nil
	default:
		return 0, fmt.Errorf("%w: unknown digest %q", ErrSigning, s)
	}
}

// Hash returns the crypto.Hash for d, or 0 when d is not a known digest.
func (d Digest) Hash() crypto.Hash {
	switch d {
	case SHA256:
		return crypto.SHA256
	case SHA384:
		return crypto.SHA384
	case SHA512:
		return crypto.SHA512
	default:
		return 0
	}
}

func (d Digest) String() string {
	switch d {
	case SHA256:
		return "sha256"
	case SHA384:
		return "sha384"
	case SHA512:
		return "sha512"
	default:
		return fmt.Sprintf("digest(%d)", int(d))
	}
}

// signatureAlgorithm picks the x509 signature algorithm for signing with a
// key of pub's type using hash h.
func signatureAlgorithm(pub crypto.PublicKey, h crypto.Hash) (x509.SignatureAlgorithm, error) {
	switch pub.(type) {
	case *rsa.PublicKey:
		switch h {
		case crypto.SHA256:
			return x509.SHA256WithRSA, nil
		case crypto.SHA384:
			return x509.SHA384WithRSA, nil
		case crypto.SHA512:
			return x509.SHA512WithRSA, nil
		}
	case *ecdsa.PublicKey:
		switch h {
		case crypto.SHA256:
			return x509.ECDSAWithSHA256, nil
		case crypto.SHA384:
			return x509.ECDSAWithSHA384, nil
		case crypto.SHA512:
			return x509.ECDSAWithSHA512, nil
		}
	default:
		return x509.UnknownSignatureAlgorithm, fmt.Errorf("unsupported key type %T", pub)
	}
	return x509.UnknownSignatureAlgorithm, fmt.Errorf("hash %v is not supported for %T keys", h, pub)
}

// hashOf returns the digest underlying a signature algorithm.
func hashOf(alg x509.SignatureAlgorithm) (crypto.Hash, error) {
	switch alg {
	case x509.SHA256WithRSA, x509.SHA256WithRSAPSS, x509.ECDSAWithSHA256:
		return crypto.SHA256, nil
	case x509.SHA384WithRSA, x509.SHA384WithRSAPSS, x509.ECDSAWithSHA384:
		return crypto.SHA384, nil
	case x509.SHA512WithRSA, x509.SHA512WithRSAPSS, x509.ECDSAWithSHA512:
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("unsupported signature algorithm %v", alg)
	}
}
