// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jmcleod/tunnelca/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, dry runs, and single-process use cases.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]*storage.Record
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string]*storage.Record)}
}

func makeKey(recordType, recordID string) string {
	return recordType + ":" + recordID
}

func (r *Repository) Put(scope, recordType, recordID string, record *storage.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putLocked(scope, recordType, recordID, record)
}

func (r *Repository) putLocked(scope, recordType, recordID string, record *storage.Record) error {
	if _, ok := r.data[scope]; !ok {
		r.data[scope] = make(map[string]*storage.Record)
	}
	r.data[scope][makeKey(recordType, recordID)] = record.Clone()
	return nil
}

func (r *Repository) Get(scope, recordType, recordID string) (*storage.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(scope, recordType, recordID)
}

func (r *Repository) getLocked(scope, recordType, recordID string) (*storage.Record, error) {
	scopeData, ok := r.data[scope]
	if !ok {
		return nil, fmt.Errorf("%s: %w (%w)", scope, storage.ErrNotFound, storage.ErrScopeNotFound)
	}
	rec, ok := scopeData[makeKey(recordType, recordID)]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (r *Repository) List(scope, recordType string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	prefix := recordType + ":"
	for k := range r.data[scope] {
		if id, ok := strings.CutPrefix(k, prefix); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *Repository) PutCAS(scope, recordType, recordID string, expectedVersion uint64, record *storage.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putCASLocked(scope, recordType, recordID, expectedVersion, record)
}

func (r *Repository) putCASLocked(scope, recordType, recordID string, expectedVersion uint64, record *storage.Record) error {
	existing, err := r.getLocked(scope, recordType, recordID)
	if err != nil {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		return r.putLocked(scope, recordType, recordID, record)
	}
	if existing.Version != expectedVersion {
		return storage.ErrCASFailed
	}
	return r.putLocked(scope, recordType, recordID, record)
}

// Batch executes fn within a batch transaction. On error, all writes are rolled back.
func (r *Repository) Batch(scope string, fn func(tx storage.BatchTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshotScope(scope)

	tx := &memoryBatchTx{repo: r, scope: scope}
	if err := fn(tx); err != nil {
		r.restoreScope(scope, snapshot)
		return err
	}
	return nil
}

// Close is a no-op; it exists to satisfy storage.Repository.
func (r *Repository) Close() error {
	return nil
}

func (r *Repository) snapshotScope(scope string) map[string]*storage.Record {
	original, ok := r.data[scope]
	if !ok {
		return nil
	}
	cp := make(map[string]*storage.Record, len(original))
	for k, v := range original {
		cp[k] = v.Clone()
	}
	return cp
}

func (r *Repository) restoreScope(scope string, snapshot map[string]*storage.Record) {
	if snapshot == nil {
		delete(r.data, scope)
	} else {
		r.data[scope] = snapshot
	}
}

type memoryBatchTx struct {
	repo  *Repository
	scope string
}

func (tx *memoryBatchTx) Put(recordType, recordID string, record *storage.Record) error {
	return tx.repo.putLocked(tx.scope, recordType, recordID, record)
}

func (tx *memoryBatchTx) PutCAS(recordType, recordID string, expectedVersion uint64, record *storage.Record) error {
	return tx.repo.putCASLocked(tx.scope, recordType, recordID, expectedVersion, record)
}
