package pki_test

import (
	"bytes"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"testing"
	"time"

	"github.com/jmcleod/tunnelca/pki"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCA(t *testing.T) {
	before := time.Now().Add(-time.Second)
	key, cert := newCA(t, "Acme CA")

	assert.Equal(t, int64(pki.CASerial), cert.SerialNumber.Int64())
	assert.True(t, bytes.Equal(cert.RawSubject, cert.RawIssuer), "issuer equals subject")
	assert.Equal(t, "Acme CA", cert.Subject.CommonName)
	assert.True(t, cert.IsCA)
	assert.True(t, cert.BasicConstraintsValid)
	assert.Equal(t, x509.KeyUsageCertSign|x509.KeyUsageCRLSign, cert.KeyUsage)
	assert.True(t, key.Private.PublicKey.Equal(cert.PublicKey))
	require.NoError(t, cert.CheckSignatureFrom(cert))

	assert.False(t, cert.NotBefore.Before(before.Truncate(time.Second)))
	assert.WithinDuration(t, cert.NotBefore.AddDate(0, 0, pki.DefaultValidityDays), cert.NotAfter, time.Second)

	var bcCount int
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oidBasicConstraints) {
			bcCount++
			assert.True(t, ext.Critical)
		}
	}
	assert.Equal(t, 1, bcCount)
}

func TestCreateCA_Validity(t *testing.T) {
	subject, err := pki.BuildSubject("Short CA")
	require.NoError(t, err)
	cert, err := pki.CreateCA(subject, newKey(t), 30, pki.SHA384)
	require.NoError(t, err)
	assert.WithinDuration(t, cert.NotBefore.AddDate(0, 0, 30), cert.NotAfter, time.Second)
	assert.Equal(t, x509.SHA384WithRSA, cert.SignatureAlgorithm)
}

func TestCreateCA_Errors(t *testing.T) {
	_, err := pki.CreateCA(pki.Subject{}, newKey(t), 0, pki.SHA256)
	assert.ErrorIs(t, err, pki.ErrInvalidSubject)

	subject, err := pki.BuildSubject("CA")
	require.NoError(t, err)
	_, err = pki.CreateCA(subject, nil, 0, pki.SHA256)
	assert.ErrorIs(t, err, pki.ErrIssuance)
}

func TestSignCSR_AcmeScenario(t *testing.T) {
	caKey, caCert := newCA(t, "Acme CA")

	serverKey, serverCSR := newCSR(t, "server1", pki.CSROptions{ExtKeyUsage: pki.ExtKeyUsageServerAuth})
	server, err := pki.SignCSR(serverCSR, caKey.Private, caCert, 2, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(2), server.SerialNumber.Int64())
	assert.Equal(t, "Acme CA", server.Issuer.CommonName)
	assert.Equal(t, "server1", server.Subject.CommonName)
	assert.True(t, bytes.Equal(caCert.RawSubject, server.RawIssuer))
	assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}, server.ExtKeyUsage)
	assert.True(t, serverKey.Private.PublicKey.Equal(server.PublicKey))
	require.NoError(t, server.CheckSignatureFrom(caCert))

	var ekuCount int
	for _, ext := range server.Extensions {
		if ext.Id.String() == "2.5.29.37" {
			ekuCount++
		}
	}
	assert.Equal(t, 1, ekuCount)

	clientKey, clientCSR := newCSR(t, "client1", pki.CSROptions{ExtKeyUsage: pki.ExtKeyUsageClientAuth})
	client, err := pki.SignCSR(clientCSR, caKey.Private, caCert, 3, 0)
	require.NoError(t, err)

	assert.Equal(t, int64(3), client.SerialNumber.Int64())
	assert.Equal(t, server.Issuer.String(), client.Issuer.String())
	assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}, client.ExtKeyUsage)
	assert.False(t, clientKey.Private.Equal(serverKey.Private))

	pool := x509.NewCertPool()
	pool.AddCert(caCert)
	_, err = client.Verify(x509.VerifyOptions{Roots: pool, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}})
	require.NoError(t, err)
}

func TestSignCSR_CopiesEveryExtension(t *testing.T) {
	caKey, caCert := newCA(t, "Acme CA")
	_, csr := newCSR(t, "server1", pki.CSROptions{
		ExtKeyUsage: pki.ExtKeyUsageServerAuth,
		DNSNames:    []string{"vpn.example.com", "vpn-alt.example.com"},
	})

	cert, err := pki.SignCSR(csr, caKey.Private, caCert, 7, 365)
	require.NoError(t, err)

	for _, want := range csr.Extensions {
		var found bool
		for _, got := range cert.Extensions {
			if got.Id.Equal(want.Id) {
				found = true
				assert.Equal(t, want.Critical, got.Critical, want.Id.String())
				assert.Equal(t, want.Value, got.Value, want.Id.String())
			}
		}
		assert.True(t, found, "extension %s missing from certificate", want.Id)
	}
	assert.Equal(t, []string{"vpn.example.com", "vpn-alt.example.com"}, cert.DNSNames)
	assert.False(t, cert.IsCA)
	assert.WithinDuration(t, cert.NotBefore.AddDate(0, 0, 365), cert.NotAfter, time.Second)
}

func TestSignCSR_TracksRequestDigest(t *testing.T) {
	caKey, caCert := newCA(t, "Acme CA")
	_, csr := newCSR(t, "server1", pki.CSROptions{Digest: pki.SHA384})

	cert, err := pki.SignCSR(csr, caKey.Private, caCert, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, x509.SHA384WithRSA, cert.SignatureAlgorithm)
}

func TestSignCSR_RejectsBadSignature(t *testing.T) {
	caKey, caCert := newCA(t, "Acme CA")
	_, csr := newCSR(t, "server1", pki.CSROptions{ExtKeyUsage: pki.ExtKeyUsageServerAuth})

	cert, err := pki.SignCSR(tamperCSR(t, csr), caKey.Private, caCert, 2, 0)
	assert.ErrorIs(t, err, pki.ErrIssuance)
	assert.Nil(t, cert)
}

func TestSignCSR_InvalidSerial(t *testing.T) {
	caKey, caCert := newCA(t, "Acme CA")
	_, csr := newCSR(t, "server1", pki.CSROptions{})

	for _, serial := range []int64{0, -5} {
		_, err := pki.SignCSR(csr, caKey.Private, caCert, serial, 0)
		assert.ErrorIs(t, err, pki.ErrIssuance)
	}
	_, err := pki.SignCSR(csr, nil, caCert, 2, 0)
	assert.ErrorIs(t, err, pki.ErrIssuance)
}

func TestSignCSR_CopiesFlaggedExtensions(t *testing.T) {
	caKey, caCert := newCA(t, "Acme CA")
	key := newKey(t)
	subject, err := pki.BuildSubject("rogue")
	require.NoError(t, err)
	raw, err := subject.Marshal()
	require.NoError(t, err)

	// A request built outside BuildCSR that asks to be a CA.
	der, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		RawSubject:      raw,
		ExtraExtensions: []pkix.Extension{pki.BasicConstraints(true)},
	}, key.Private)
	require.NoError(t, err)
	csr, err := x509.ParseCertificateRequest(der)
	require.NoError(t, err)

	assert.NotEmpty(t, pki.ExtensionFlags(csr))
	cert, err := pki.SignCSR(csr, caKey.Private, caCert, 2, 0)
	require.NoError(t, err)
	assert.True(t, cert.IsCA)
}
