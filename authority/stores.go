package authority

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmcleod/tunnelca/config"
	"github.com/jmcleod/tunnelca/storage"
	"github.com/jmcleod/tunnelca/storage/bbolt"
	"github.com/jmcleod/tunnelca/storage/memory"
	"github.com/jmcleod/tunnelca/storage/sqlite"
	bolt "go.etcd.io/bbolt"
)

// Store file names under the base directory. One database serves every
// customer; each customer is a separate scope.
const (
	BoltFile   = "tunnelca.db"
	SQLiteFile = "tunnelca.sqlite"
)

// OpenStore opens the repository for backend under baseDir. The "none" and
// "ini" backends have no repository and return nil.
func OpenStore(backend, baseDir string) (storage.Repository, error) {
	switch backend {
	case config.BackendNone, config.BackendINI:
		return nil, nil
	case config.BackendMemory:
		return memory.NewRepository(), nil
	case config.BackendBolt:
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating %s: %w", ErrFileSystem, baseDir, err)
		}
		repo, err := bbolt.NewRepositoryFromFile(filepath.Join(baseDir, BoltFile), &bolt.Options{Timeout: 5 * time.Second})
		if err != nil {
			return nil, err
		}
		return repo, nil
	case config.BackendSQLite:
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating %s: %w", ErrFileSystem, baseDir, err)
		}
		repo, err := sqlite.NewRepositoryFromFile(filepath.Join(baseDir, SQLiteFile))
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// Stores holds the repositories selected by a configuration. Serials and
// Ledger share one handle when they name the same backend.
type Stores struct {
	Serials storage.Repository
	Ledger  storage.Repository
}

// OpenStores opens the serial and ledger repositories named by cfg.
func OpenStores(cfg *config.Config) (*Stores, error) {
	serials, err := OpenStore(cfg.Serial.Backend, cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("opening serial store: %w", err)
	}
	if cfg.Ledger.Backend == cfg.Serial.Backend {
		return &Stores{Serials: serials, Ledger: serials}, nil
	}
	ledger, err := OpenStore(cfg.Ledger.Backend, cfg.BaseDir)
	if err != nil {
		if serials != nil {
			serials.Close()
		}
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	return &Stores{Serials: serials, Ledger: ledger}, nil
}

// Options returns the authority options for the opened stores.
func (s *Stores) Options() []Option {
	var opts []Option
	if s.Serials != nil {
		opts = append(opts, WithSerialStore(s.Serials))
	}
	if s.Ledger != nil {
		opts = append(opts, WithLedger(s.Ledger))
	}
	return opts
}

// Close closes every opened repository once.
func (s *Stores) Close() error {
	var err error
	if s.Serials != nil {
		err = s.Serials.Close()
	}
	if s.Ledger != nil && s.Ledger != s.Serials {
		if cerr := s.Ledger.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
