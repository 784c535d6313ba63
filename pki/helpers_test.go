package pki_test

import (
	"crypto/x509"
	"testing"

	"github.com/jmcleod/tunnelca/pki"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) *pki.KeyPair {
	t.Helper()
	key, err := pki.GenerateKey(pki.DefaultKeyBits)
	require.NoError(t, err)
	return key
}

func newCA(t *testing.T, cn string) (*pki.KeyPair, *x509.Certificate) {
	t.Helper()
	subject, err := pki.BuildSubject(cn, pki.WithOrganization("Acme"), pki.WithCountry("US"))
	require.NoError(t, err)
	key := newKey(t)
	cert, err := pki.CreateCA(subject, key, 0, pki.SHA256)
	require.NoError(t, err)
	return key, cert
}

func newCSR(t *testing.T, cn string, opts pki.CSROptions) (*pki.KeyPair, *x509.CertificateRequest) {
	t.Helper()
	subject, err := pki.BuildSubject(cn)
	require.NoError(t, err)
	key := newKey(t)
	csr, err := pki.BuildCSR(key.Private, subject, opts)
	require.NoError(t, err)
	return key, csr
}
