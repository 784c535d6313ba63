// Package storage provides the storage abstraction for versioned CA records
// such as serial counters and the issuance ledger.
package storage

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrScopeNotFound is returned when no record has ever been written to a scope.
	ErrScopeNotFound = errors.New("scope not found")

	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
)

// BatchTx provides Put and PutCAS within an atomic transaction.
// The scope is fixed for the batch, so methods don't require it.
type BatchTx interface {
	Put(recordType string, recordID string, record *Record) error
	PutCAS(recordType string, recordID string, expectedVersion uint64, record *Record) error
}

// Repository defines the interface for record storage. A scope groups the
// records of one CA identity.
type Repository interface {
	Put(scope string, recordType string, recordID string, record *Record) error
	Get(scope string, recordType string, recordID string) (*Record, error)
	List(scope string, recordType string) ([]string, error)
	PutCAS(scope string, recordType string, recordID string, expectedVersion uint64, record *Record) error
	Batch(scope string, fn func(tx BatchTx) error) error
	Close() error
}
