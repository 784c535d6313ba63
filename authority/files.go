package authority

import (
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/jmcleod/tunnelca/internal/util"
	"github.com/jmcleod/tunnelca/pki"
	"github.com/spf13/afero"
)

const (
	caCertFile     = "ca.crt"
	caKeyFile      = "ca.key"
	serialsFile    = "serials.ini"
	commonOptsFile = "commonopts.txt"
	certsDir       = "certs"

	dirMode    fs.FileMode = 0o755
	certMode   fs.FileMode = 0o644
	secretMode fs.FileMode = 0o600
)

// Layout locates the files of one CA identity under
// <base>/<customer>/openvpn.
type Layout struct {
	Customer string
	Dir      string
}

// NewLayout returns the layout for customer under baseDir. Surrounding
// space is not part of the customer name.
func NewLayout(baseDir, customer string) (Layout, error) {
	customer = strings.TrimSpace(customer)
	if !util.FileSafe(customer) {
		return Layout{}, fmt.Errorf("%w: customer %q", ErrInvalidName, customer)
	}
	return Layout{Customer: customer, Dir: filepath.Join(baseDir, customer, "openvpn")}, nil
}

func (l Layout) CACert() string     { return filepath.Join(l.Dir, caCertFile) }
func (l Layout) CAKey() string      { return filepath.Join(l.Dir, caKeyFile) }
func (l Layout) Serials() string    { return filepath.Join(l.Dir, serialsFile) }
func (l Layout) CommonOpts() string { return filepath.Join(l.Dir, commonOptsFile) }
func (l Layout) CertsDir() string   { return filepath.Join(l.Dir, certsDir) }

// CertFile is certs/<serial>-<name>.crt.
func (l Layout) CertFile(serial int64, name string) string {
	return filepath.Join(l.CertsDir(), strconv.FormatInt(serial, 10)+"-"+name+".crt")
}

// Bundle is <customer>-<name>.ovpn.
func (l Layout) Bundle(name string) string {
	return filepath.Join(l.Dir, l.Customer+"-"+name+".ovpn")
}

// LoadCertificate reads a PEM certificate file.
func LoadCertificate(afs afero.Fs, path string) (*x509.Certificate, error) {
	data, err := readFile(afs, path)
	if err != nil {
		return nil, err
	}
	return pki.DecodeCertificatePEM(data)
}

// LoadCSR reads a PEM certificate request file.
func LoadCSR(afs afero.Fs, path string) (*x509.CertificateRequest, error) {
	data, err := readFile(afs, path)
	if err != nil {
		return nil, err
	}
	return pki.DecodeCSRPEM(data)
}

// LoadPrivateKey reads an unencrypted PKCS#8 PEM key file. The PEM text is
// kept in locked memory while it is parsed and wiped afterwards.
func LoadPrivateKey(afs afero.Fs, path string) (crypto.Signer, error) {
	data, err := readFile(afs, path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", pki.ErrDecode, path)
	}
	enclave := memguard.NewEnclave(data)
	buf, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("opening key buffer: %w", err)
	}
	defer buf.Destroy()
	return pki.DecodePrivateKeyPEM(buf.Bytes())
}

func readFile(afs afero.Fs, path string) ([]byte, error) {
	data, err := afero.ReadFile(afs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrFileSystem, path, err)
	}
	return data, nil
}

// writeNew creates path and fails if it already exists.
func writeNew(afs afero.Fs, path string, data []byte, mode fs.FileMode) error {
	f, err := afs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %w", ErrFileSystem, path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("%w: writing %s: %w", ErrFileSystem, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %w", ErrFileSystem, path, err)
	}
	return nil
}

// overwrite replaces the contents of path.
func overwrite(afs afero.Fs, path string, data []byte, mode fs.FileMode) error {
	if err := afero.WriteFile(afs, path, data, mode); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrFileSystem, path, err)
	}
	return nil
}

func mkdirAll(afs afero.Fs, dir string) error {
	if err := afs.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("%w: creating %s: %w", ErrFileSystem, dir, err)
	}
	return nil
}

func exists(afs afero.Fs, path string) (bool, error) {
	ok, err := afero.Exists(afs, path)
	if err != nil {
		return false, fmt.Errorf("%w: checking %s: %w", ErrFileSystem, path, err)
	}
	return ok, nil
}

// readOptional returns the contents of path, or nil when it does not exist.
func readOptional(afs afero.Fs, path string) ([]byte, error) {
	data, err := afero.ReadFile(afs, path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrFileSystem, path, err)
	}
	return data, nil
}
