// Package authority runs a per-customer certificate authority on disk: it
// creates or loads the CA, issues leaf certificates with fresh keys and
// writes the client bundles that embed them.
package authority

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/jmcleod/tunnelca/config"
	"github.com/jmcleod/tunnelca/internal/util"
	"github.com/jmcleod/tunnelca/logging"
	"github.com/jmcleod/tunnelca/metrics"
	"github.com/jmcleod/tunnelca/pki"
	"github.com/jmcleod/tunnelca/serial"
	"github.com/jmcleod/tunnelca/storage"
	"github.com/spf13/afero"
)

// Authority issues certificates for any number of customers sharing one
// base directory. It is not safe for concurrent use on the same customer
// unless serials come from a storage backend.
type Authority struct {
	cfg     *config.Config
	fs      afero.Fs
	logger  *slog.Logger
	metrics *metrics.Recorder
	serials storage.Repository
	ledger  storage.Repository
}

// Option configures an Authority.
type Option func(*Authority)

// WithSerialStore keeps serial counters in repo instead of serials.ini.
// Required when the configured serial backend is not "ini".
func WithSerialStore(repo storage.Repository) Option {
	return func(a *Authority) { a.serials = repo }
}

// WithLedger records every issuance in repo.
func WithLedger(repo storage.Repository) Option {
	return func(a *Authority) { a.ledger = repo }
}

// WithMetrics replaces the default metrics recorder.
func WithMetrics(r *metrics.Recorder) Option {
	return func(a *Authority) { a.metrics = r }
}

// New returns an Authority working on fs.
func New(cfg *config.Config, fs afero.Fs, logger *slog.Logger, opts ...Option) (*Authority, error) {
	if cfg == nil {
		return nil, errors.New("authority: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("authority: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Authority{cfg: cfg, fs: fs, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = metrics.New(cfg.Metrics.Textfile)
		if err := a.metrics.Load(); err != nil {
			a.logger.Warn("starting metrics from zero", logging.Err(err))
		}
	}
	if cfg.Serial.Backend != config.BackendINI && a.serials == nil {
		return nil, fmt.Errorf("authority: serial backend %q needs a serial store", cfg.Serial.Backend)
	}
	return a, nil
}

// CA is a loaded or freshly created certificate authority.
type CA struct {
	Layout      Layout
	Certificate *x509.Certificate
	Created     bool

	key crypto.Signer
}

// InitCA loads the CA of customer, creating it first when neither ca.crt
// nor ca.key exists. Exactly one of the two files existing is an error.
func (a *Authority) InitCA(ctx context.Context, customer string) (*CA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	layout, err := NewLayout(a.cfg.BaseDir, customer)
	if err != nil {
		return nil, err
	}

	haveCert, err := exists(a.fs, layout.CACert())
	if err != nil {
		return nil, err
	}
	haveKey, err := exists(a.fs, layout.CAKey())
	if err != nil {
		return nil, err
	}

	switch {
	case haveCert && haveKey:
		return a.loadCA(layout)
	case haveCert || haveKey:
		return nil, fmt.Errorf("%w: %s has only one of %s and %s", ErrIncompleteCA, layout.Dir, caCertFile, caKeyFile)
	default:
		return a.createCA(layout)
	}
}

func (a *Authority) loadCA(layout Layout) (*CA, error) {
	cert, err := LoadCertificate(a.fs, layout.CACert())
	if err != nil {
		return nil, err
	}
	key, err := LoadPrivateKey(a.fs, layout.CAKey())
	if err != nil {
		return nil, err
	}
	a.logger.Debug("loaded CA",
		slog.String("customer", layout.Customer),
		slog.String("subject", pki.Describe(cert).Subject),
	)
	return &CA{Layout: layout, Certificate: cert, key: key}, nil
}

func (a *Authority) createCA(layout Layout) (*CA, error) {
	key, err := a.generateKey(layout.Customer)
	if err != nil {
		return nil, err
	}
	subject, err := a.cfg.Subject(util.Capitalize(layout.Customer) + " CA")
	if err != nil {
		return nil, err
	}
	cert, err := pki.CreateCA(subject, key, a.cfg.CAValidityDays, a.cfg.DigestValue())
	if err != nil {
		return nil, err
	}
	keyPEM, err := pki.EncodePrivateKeyPEM(key.Private)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(keyPEM)

	if err := mkdirAll(a.fs, layout.Dir); err != nil {
		return nil, err
	}
	// The key goes first: a CA is complete only once the certificate exists.
	if err := writeNew(a.fs, layout.CAKey(), keyPEM, secretMode); err != nil {
		return nil, err
	}
	if err := writeNew(a.fs, layout.CACert(), pki.EncodeCertificatePEM(cert), certMode); err != nil {
		return nil, err
	}
	if err := mkdirAll(a.fs, layout.CertsDir()); err != nil {
		return nil, err
	}

	a.logger.Info("created CA",
		slog.String("customer", layout.Customer),
		slog.String("subject", subject.String()),
		slog.String("dir", layout.Dir),
	)
	a.metrics.CACreated(layout.Customer)
	a.flushMetrics()
	return &CA{Layout: layout, Certificate: cert, Created: true, key: key.Private}, nil
}

func (a *Authority) generateKey(customer string) (*pki.KeyPair, error) {
	if pki.WeakKeySize(a.cfg.KeyBits) {
		a.logger.Warn("generating weak key",
			slog.String("customer", customer),
			slog.Int("bits", a.cfg.KeyBits),
		)
	}
	return pki.GenerateKey(a.cfg.KeyBits)
}

// IssueRequest describes one leaf certificate and its bundle.
type IssueRequest struct {
	Customer          string
	Name              string
	ExtKeyUsage       pki.ExtKeyUsage
	DNSNames          []string
	ChallengePassword string

	// Options are appended to the commonopts.txt boilerplate, one per line.
	Options []string
}

// Issued is the outcome of a successful Issue.
type Issued struct {
	SerialNumber int64
	Certificate  *x509.Certificate
	CertFile     string
	BundleFile   string
	Ledger       *Issuance
}

// Issue creates the CA if needed, generates a key pair for req.Name, signs a
// certificate for it with the next serial and writes both the certificate
// and the bundle. Customer and name are trimmed of surrounding space.
//
// With a ledger, the certificate is recorded before any file is written: a
// later file error can leave a ledger entry whose files are missing, but
// never a certificate on disk that the ledger does not know.
func (a *Authority) Issue(ctx context.Context, req IssueRequest) (*Issued, error) {
	req.Customer = strings.TrimSpace(req.Customer)
	req.Name = strings.TrimSpace(req.Name)
	if !util.FileSafe(req.Name) {
		return nil, fmt.Errorf("%w: certificate name %q", ErrInvalidName, req.Name)
	}
	ca, err := a.InitCA(ctx, req.Customer)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key, err := a.generateKey(req.Customer)
	if err != nil {
		return nil, err
	}
	subject, err := pki.BuildSubject(req.Name)
	if err != nil {
		return nil, err
	}
	csr, err := pki.BuildCSR(key.Private, subject, pki.CSROptions{
		ExtKeyUsage:       req.ExtKeyUsage,
		DNSNames:          req.DNSNames,
		ChallengePassword: req.ChallengePassword,
		Digest:            a.cfg.DigestValue(),
	})
	if err != nil {
		return nil, err
	}
	for _, flag := range pki.ExtensionFlags(csr) {
		a.logger.Warn("copying flagged request extension",
			slog.String("customer", req.Customer),
			slog.String("subject", subject.String()),
			slog.String("reason", flag),
		)
	}

	allocator, err := a.allocator(ca.Layout)
	if err != nil {
		return nil, err
	}
	serialNumber, err := allocator.Next(ctx)
	if err != nil {
		return nil, err
	}
	cert, err := pki.SignCSR(csr, ca.key, ca.Certificate, serialNumber, a.cfg.LeafValidityDays)
	if err != nil {
		return nil, err
	}
	a.logger.Info("created certificate",
		slog.Int64("serial", serialNumber),
		slog.String("subject", subject.CommonName),
		slog.String("customer", req.Customer),
	)

	certFile := ca.Layout.CertFile(serialNumber, req.Name)
	issued := &Issued{
		SerialNumber: serialNumber,
		Certificate:  cert,
		CertFile:     certFile,
		BundleFile:   ca.Layout.Bundle(req.Name),
	}
	if a.ledger != nil {
		entry := newIssuance(req.Customer, req.Name, req.ExtKeyUsage, cert, certFile)
		if err := recordIssuance(a.ledger, entry); err != nil {
			return nil, fmt.Errorf("recording issuance: %w", err)
		}
		issued.Ledger = &entry
	}

	certPEM := pki.EncodeCertificatePEM(cert)
	if err := mkdirAll(a.fs, ca.Layout.CertsDir()); err != nil {
		return nil, err
	}
	if err := writeNew(a.fs, certFile, certPEM, certMode); err != nil {
		return nil, err
	}

	if err := a.writeBundle(ca, certPEM, key, req.Options, issued.BundleFile); err != nil {
		return nil, err
	}

	a.metrics.CertificateIssued(req.Customer, req.ExtKeyUsage.String(), serialNumber)
	a.flushMetrics()
	return issued, nil
}

// flushMetrics writes the metrics textfile. Failures are only logged.
func (a *Authority) flushMetrics() {
	if err := a.metrics.Flush(); err != nil {
		a.logger.Warn("writing metrics failed", logging.Err(err))
	}
}

// writeBundle assembles and writes the client bundle. The leaf key PEM only
// exists in locked memory and in the bundle file.
func (a *Authority) writeBundle(ca *CA, certPEM []byte, key *pki.KeyPair, options []string, path string) error {
	boilerplate, err := a.boilerplate(ca.Layout, options)
	if err != nil {
		return err
	}
	keyPEM, err := pki.EncodePrivateKeyPEM(key.Private)
	if err != nil {
		return err
	}
	keyBuf, err := memguard.NewEnclave(keyPEM).Open()
	if err != nil {
		return fmt.Errorf("opening key buffer: %w", err)
	}
	defer keyBuf.Destroy()

	bundle := pki.AssembleBundle(boilerplate, pki.EncodeCertificatePEM(ca.Certificate), certPEM, keyBuf.Bytes())
	defer util.WipeBytes(bundle)
	return overwrite(a.fs, path, bundle, secretMode)
}

// boilerplate is commonopts.txt, if present, followed by options.
func (a *Authority) boilerplate(layout Layout, options []string) ([]byte, error) {
	common, err := readOptional(a.fs, layout.CommonOpts())
	if err != nil {
		return nil, err
	}
	if len(options) == 0 {
		return common, nil
	}
	var b strings.Builder
	b.Write(common)
	if len(common) > 0 && common[len(common)-1] != '\n' {
		b.WriteByte('\n')
	}
	for _, opt := range options {
		b.WriteString(opt)
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

func (a *Authority) allocator(layout Layout) (serial.Allocator, error) {
	if a.serials != nil {
		return serial.NewStoreRegistry(a.serials, layout.Customer), nil
	}
	if err := mkdirAll(a.fs, layout.Dir); err != nil {
		return nil, err
	}
	return serial.NewINIRegistry(a.fs, layout.Serials()), nil
}

// List returns the certificates issued for customer ordered by serial. With
// a ledger the entries come from it; otherwise the certs directory is read.
func (a *Authority) List(ctx context.Context, customer string) ([]Issuance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	layout, err := NewLayout(a.cfg.BaseDir, customer)
	if err != nil {
		return nil, err
	}
	if a.ledger != nil {
		return listIssuances(a.ledger, customer)
	}
	return a.scanCerts(layout)
}

// Find returns the ledger entry for serial.
func (a *Authority) Find(ctx context.Context, customer string, serialNumber int64) (*Issuance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.ledger == nil {
		return nil, ErrNoLedger
	}
	entry, err := findIssuance(a.ledger, customer, serialNumber)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// scanCerts describes every certificate in the certs directory.
func (a *Authority) scanCerts(layout Layout) ([]Issuance, error) {
	ok, err := exists(a.fs, layout.CertsDir())
	if err != nil || !ok {
		return nil, err
	}
	files, err := afero.ReadDir(a.fs, layout.CertsDir())
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrFileSystem, layout.CertsDir(), err)
	}
	var entries []Issuance
	for _, fi := range files {
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), ".crt") {
			continue
		}
		path := filepath.Join(layout.CertsDir(), fi.Name())
		cert, err := LoadCertificate(a.fs, path)
		if err != nil {
			return nil, err
		}
		info := pki.Describe(cert)
		_, name, _ := strings.Cut(strings.TrimSuffix(fi.Name(), ".crt"), "-")
		entries = append(entries, Issuance{
			Customer:          layout.Customer,
			Name:              name,
			SerialNumber:      info.SerialNumber,
			Subject:           info.Subject,
			ExtKeyUsage:       extKeyUsageOf(cert),
			DNSNames:          cert.DNSNames,
			NotBefore:         info.NotBefore,
			NotAfter:          info.NotAfter,
			FingerprintSHA256: info.FingerprintSHA256,
			CertFile:          path,
		})
	}
	sortBySerial(entries)
	return entries, nil
}

func extKeyUsageOf(cert *x509.Certificate) string {
	for _, u := range []pki.ExtKeyUsage{pki.ExtKeyUsageServerAuth, pki.ExtKeyUsageClientAuth, pki.ExtKeyUsageCodeSigning} {
		for _, got := range cert.ExtKeyUsage {
			if got == u.X509() {
				return u.String()
			}
		}
	}
	return ""
}
