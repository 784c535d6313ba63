package bbolt

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmcleod/tunnelca/storage"
	"go.etcd.io/bbolt"
)

func newTestDB(t *testing.T) *bbolt.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger-test.db")
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBBoltStorage(t *testing.T) {
	s := NewRepository(newTestDB(t))
	scope := "acme"
	recordType := "certificate"
	recordID := "00000002"
	rec := storage.NewRecord([]byte(`{"serial":2}`), 1)

	t.Run("PutGet", func(t *testing.T) {
		err := s.Put(scope, recordType, recordID, rec)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := s.Get(scope, recordType, recordID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Version != rec.Version {
			t.Errorf("expected version %d, got %d", rec.Version, got.Version)
		}
		if string(got.Data) != string(rec.Data) {
			t.Errorf("expected data %q, got %q", rec.Data, got.Data)
		}
	})

	t.Run("List", func(t *testing.T) {
		s.Put(scope, recordType, "00000003", rec)
		ids, err := s.List(scope, recordType)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(ids) != 2 {
			t.Errorf("expected 2 IDs, got %d", len(ids))
		}
	})

	t.Run("PutCAS create-only", func(t *testing.T) {
		err := s.PutCAS(scope, "serial", "cas1", 0, rec)
		if err != nil {
			t.Fatalf("PutCAS (new) failed: %v", err)
		}

		err = s.PutCAS(scope, "serial", "cas1", 0, rec)
		if err != storage.ErrCASFailed {
			t.Errorf("expected ErrCASFailed, got %v", err)
		}
	})

	t.Run("PutCAS version match", func(t *testing.T) {
		err := s.Put(scope, "serial", "cas2", storage.NewRecord([]byte("2"), 1))
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		err = s.PutCAS(scope, "serial", "cas2", 1, storage.NewRecord([]byte("3"), 2))
		if err != nil {
			t.Fatalf("PutCAS (version match) failed: %v", err)
		}

		got, _ := s.Get(scope, "serial", "cas2")
		if got.Version != 2 || string(got.Data) != "3" {
			t.Errorf("expected version 2 with data 3, got %d with %q", got.Version, got.Data)
		}
	})

	t.Run("PutCAS version mismatch", func(t *testing.T) {
		s.Put(scope, "serial", "cas3", storage.NewRecord([]byte("5"), 5))

		err := s.PutCAS(scope, "serial", "cas3", 3, storage.NewRecord([]byte("6"), 6))
		if err != storage.ErrCASFailed {
			t.Errorf("expected ErrCASFailed, got %v", err)
		}
	})

	t.Run("PutCAS non-zero on missing record", func(t *testing.T) {
		err := s.PutCAS(scope, "serial", "cas-missing", 1, rec)
		if err != storage.ErrCASFailed {
			t.Errorf("expected ErrCASFailed for non-zero version on missing record, got %v", err)
		}
	})

	t.Run("Get Errors", func(t *testing.T) {
		_, err := s.Get("nonexistent-scope", recordType, recordID)
		if !errors.Is(err, storage.ErrNotFound) || !errors.Is(err, storage.ErrScopeNotFound) {
			t.Errorf("expected ErrNotFound and ErrScopeNotFound, got %v", err)
		}

		_, err = s.Get(scope, recordType, "nonexistent-record")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("List Nonexistent Scope", func(t *testing.T) {
		ids, err := s.List("nonexistent-scope", recordType)
		if err != nil {
			t.Errorf("expected no error for nonexistent scope in List, got %v", err)
		}
		if len(ids) != 0 {
			t.Errorf("expected 0 ids, got %d", len(ids))
		}
	})

	t.Run("List handles non-matching shorter keys without panic", func(t *testing.T) {
		err := s.Put(scope, "Z", "", rec)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		ids, err := s.List(scope, recordType)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(ids) == 0 {
			t.Fatal("expected certificate ids to be returned")
		}
		for _, id := range ids {
			if id == "" {
				t.Fatal("unexpected empty record ID from non-matching key prefix")
			}
		}
	})
}

func TestNewRepositoryFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	repo, err := NewRepositoryFromFile(path, nil)
	if err != nil {
		t.Fatalf("NewRepositoryFromFile failed: %v", err)
	}
	defer repo.Close()

	if repo.db == nil {
		t.Error("repo.db is nil")
	}

	_, err = NewRepositoryFromFile("/nonexistent/path/to/db", nil)
	if err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestBBoltBatch(t *testing.T) {
	s := NewRepository(newTestDB(t))
	scope := "acme"

	t.Run("atomic batch write", func(t *testing.T) {
		err := s.Batch(scope, func(tx storage.BatchTx) error {
			if err := tx.Put("certificate", "b1", storage.NewRecord([]byte("a"), 1)); err != nil {
				return err
			}
			if err := tx.PutCAS("serial", "last", 0, storage.NewRecord([]byte("2"), 1)); err != nil {
				return err
			}
			return tx.PutCAS("serial", "last", 1, storage.NewRecord([]byte("3"), 2))
		})
		if err != nil {
			t.Fatalf("Batch failed: %v", err)
		}

		got1, err := s.Get(scope, "certificate", "b1")
		if err != nil {
			t.Fatalf("Get b1 failed: %v", err)
		}
		if string(got1.Data) != "a" {
			t.Errorf("expected data 'a', got %q", got1.Data)
		}

		got2, err := s.Get(scope, "serial", "last")
		if err != nil {
			t.Fatalf("Get serial failed: %v", err)
		}
		if string(got2.Data) != "3" || got2.Version != 2 {
			t.Errorf("expected serial 3 at version 2, got %q at %d", got2.Data, got2.Version)
		}
	})

	t.Run("batch rollback on error", func(t *testing.T) {
		err := s.Batch(scope, func(tx storage.BatchTx) error {
			tx.Put("certificate", "rollback-test", storage.NewRecord([]byte("should-not-exist"), 1))
			return storage.ErrCASFailed
		})
		if err != storage.ErrCASFailed {
			t.Fatalf("expected ErrCASFailed, got %v", err)
		}

		_, err = s.Get(scope, "certificate", "rollback-test")
		if err == nil {
			t.Error("expected record to not exist after rollback")
		}
	})
}
