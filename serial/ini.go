package serial

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"gopkg.in/ini.v1"
)

const (
	iniSection = "ca"
	iniKey     = "last_used_serial_number"
)

// INIRegistry keeps the last used serial in an INI file with a [ca] section.
// Calls on one registry are serialized; separate processes sharing the file
// are not coordinated (use StoreRegistry for that).
type INIRegistry struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

var _ Allocator = (*INIRegistry)(nil)

// NewINIRegistry returns a registry stored at path on fs.
func NewINIRegistry(fs afero.Fs, path string) *INIRegistry {
	return &INIRegistry{fs: fs, path: path}
}

// Path returns the registry file location.
func (r *INIRegistry) Path() string {
	return r.path
}

// Next persists and returns the next serial. A missing file is created
// holding First.
func (r *INIRegistry) Next(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	last, exists, err := r.read()
	if err != nil {
		return 0, err
	}
	next := First
	if exists {
		if next, err = successor(last); err != nil {
			return 0, fmt.Errorf("%s: %w", r.path, err)
		}
	}
	if err := r.write(next); err != nil {
		return 0, err
	}
	return next, nil
}

// Last returns the last persisted serial, or false when the registry file
// does not exist yet.
func (r *INIRegistry) Last() (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read()
}

func (r *INIRegistry) read() (int64, bool, error) {
	exists, err := afero.Exists(r.fs, r.path)
	if err != nil {
		return 0, false, fmt.Errorf("%w: checking %s: %v", ErrSerialStore, r.path, err)
	}
	if !exists {
		return 0, false, nil
	}
	data, err := afero.ReadFile(r.fs, r.path)
	if err != nil {
		return 0, false, fmt.Errorf("%w: reading %s: %v", ErrSerialStore, r.path, err)
	}
	n, err := parseINI(data)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s: %v", ErrSerialStore, r.path, err)
	}
	return n, true, nil
}

func parseINI(data []byte) (int64, error) {
	cfg, err := ini.Load(data)
	if err != nil {
		return 0, err
	}
	section, err := cfg.GetSection(iniSection)
	if err != nil {
		return 0, fmt.Errorf("missing [%s] section", iniSection)
	}
	if !section.HasKey(iniKey) {
		return 0, fmt.Errorf("missing %s", iniKey)
	}
	n, err := section.Key(iniKey).Int64()
	if err != nil {
		return 0, fmt.Errorf("%s is not an integer: %v", iniKey, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("%s must be positive, got %d", iniKey, n)
	}
	return n, nil
}

// write replaces the registry through a temporary file and a rename so a
// failed write never leaves a truncated registry behind.
func (r *INIRegistry) write(n int64) error {
	dir := filepath.Dir(r.path)
	if err := r.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrSerialStore, dir, err)
	}
	tmp, err := afero.TempFile(r.fs, dir, ".serials-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialStore, err)
	}
	tmpName := tmp.Name()
	content := fmt.Sprintf("[%s]\n%s=%d\n", iniSection, iniKey, n)
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		r.fs.Remove(tmpName)
		return fmt.Errorf("%w: writing %s: %v", ErrSerialStore, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		r.fs.Remove(tmpName)
		return fmt.Errorf("%w: writing %s: %v", ErrSerialStore, tmpName, err)
	}
	if err := r.fs.Rename(tmpName, r.path); err != nil {
		r.fs.Remove(tmpName)
		return fmt.Errorf("%w: replacing %s: %v", ErrSerialStore, r.path, err)
	}
	return nil
}
