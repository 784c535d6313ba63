package memory

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/jmcleod/tunnelca/storage"
)

func TestMemoryRepository(t *testing.T) {
	repo := NewRepository()
	scope := "acme"
	recordType := "certificate"
	recordID := "00000002"
	rec := storage.NewRecord([]byte(`{"serial":2}`), 1)

	t.Run("PutAndGet", func(t *testing.T) {
		err := repo.Put(scope, recordType, recordID, rec)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := repo.Get(scope, recordType, recordID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if !bytes.Equal(got.Data, rec.Data) || got.Version != rec.Version {
			t.Errorf("Get returned wrong record: %+v", got)
		}

		// Test isolation (cloning)
		got.Data[0] = 'X'
		got2, _ := repo.Get(scope, recordType, recordID)
		if got2.Data[0] == 'X' {
			t.Error("Memory repository should return clones of records")
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := repo.Get("nonexistent", recordType, recordID)
		if !errors.Is(err, storage.ErrScopeNotFound) {
			t.Errorf("expected ErrScopeNotFound, got %v", err)
		}

		_, err = repo.Get(scope, recordType, "nonexistent")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		repo.Put(scope, recordType, "00000003", rec)
		repo.Put(scope, "serial", "last_used", rec)

		ids, err := repo.List(scope, recordType)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(ids) != 2 {
			t.Errorf("Expected 2 IDs, got %d: %v", len(ids), ids)
		}

		ids, _ = repo.List("nonexistent", recordType)
		if len(ids) != 0 {
			t.Errorf("Expected 0 IDs for nonexistent scope, got %d", len(ids))
		}
	})

	t.Run("PutCAS", func(t *testing.T) {
		repo := NewRepository()
		rec1 := storage.NewRecord([]byte("2"), 1)
		rec2 := storage.NewRecord([]byte("3"), 2)

		// Create-only (expectedVersion = 0)
		err := repo.PutCAS(scope, "serial", "last_used", 0, rec1)
		if err != nil {
			t.Fatalf("PutCAS create failed: %v", err)
		}

		// Version mismatch on create
		err = repo.PutCAS(scope, "other", "id", 1, rec1)
		if err != storage.ErrCASFailed {
			t.Errorf("Expected ErrCASFailed, got %v", err)
		}

		// Version match update
		err = repo.PutCAS(scope, "serial", "last_used", 1, rec2)
		if err != nil {
			t.Fatalf("PutCAS update failed: %v", err)
		}

		// Version mismatch update
		err = repo.PutCAS(scope, "serial", "last_used", 1, rec1)
		if err != storage.ErrCASFailed {
			t.Errorf("Expected ErrCASFailed, got %v", err)
		}
	})

	t.Run("Batch", func(t *testing.T) {
		repo := NewRepository()

		// Successful batch
		err := repo.Batch(scope, func(tx storage.BatchTx) error {
			if err := tx.Put("certificate", "id1", rec); err != nil {
				return err
			}
			return tx.PutCAS("serial", "last_used", 0, rec)
		})
		if err != nil {
			t.Fatalf("Batch failed: %v", err)
		}

		if _, err := repo.Get(scope, "certificate", "id1"); err != nil {
			t.Error("Record id1 should exist after batch")
		}

		// Failing batch (rollback)
		err = repo.Batch(scope, func(tx storage.BatchTx) error {
			tx.Put("certificate", "id3", rec)
			return fmt.Errorf("simulated error")
		})
		if err == nil {
			t.Error("Expected error from Batch, got nil")
		}

		if _, err := repo.Get(scope, "certificate", "id3"); err == nil {
			t.Error("Record id3 should NOT exist after failed batch")
		}

		// Rollback with pre-existing data
		_ = repo.Batch(scope, func(tx storage.BatchTx) error {
			tx.Put("certificate", "id1", storage.NewRecord([]byte("changed"), 9))
			return fmt.Errorf("simulated error")
		})
		got, _ := repo.Get(scope, "certificate", "id1")
		if got.Version != 1 {
			t.Errorf("Expected Version 1 after rollback, got %d", got.Version)
		}
	})
}
