package serial

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jmcleod/tunnelca/storage"
)

const (
	storeRecordType = "serial"
	storeRecordID   = "last_used_serial_number"

	// DefaultMaxRetries bounds the compare-and-swap loop of StoreRegistry.
	DefaultMaxRetries = 16
)

// StoreRegistry keeps the last used serial in a storage.Repository and
// advances it with compare-and-swap, so concurrent callers sharing the
// repository never receive the same serial.
type StoreRegistry struct {
	repo       storage.Repository
	scope      string
	maxRetries int
}

var _ Allocator = (*StoreRegistry)(nil)

// StoreOption configures a StoreRegistry.
type StoreOption func(*StoreRegistry)

// WithMaxRetries sets how many CAS conflicts Next tolerates before failing.
func WithMaxRetries(n int) StoreOption {
	return func(r *StoreRegistry) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

// NewStoreRegistry returns a registry for the CA identified by scope.
func NewStoreRegistry(repo storage.Repository, scope string, opts ...StoreOption) *StoreRegistry {
	r := &StoreRegistry{repo: repo, scope: scope, maxRetries: DefaultMaxRetries}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Next persists and returns the next serial.
func (r *StoreRegistry) Next(ctx context.Context) (int64, error) {
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		next, err := r.tryNext()
		if errors.Is(err, storage.ErrCASFailed) {
			continue
		}
		return next, err
	}
	return 0, fmt.Errorf("%w: %s: gave up after %d conflicting updates", ErrSerialStore, r.scope, r.maxRetries)
}

func (r *StoreRegistry) tryNext() (int64, error) {
	current, err := r.repo.Get(r.scope, storeRecordType, storeRecordID)
	if errors.Is(err, storage.ErrNotFound) {
		if err := r.repo.PutCAS(r.scope, storeRecordType, storeRecordID, 0, encode(First, 1)); err != nil {
			return 0, casOrStoreError(err)
		}
		return First, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: reading %s: %v", ErrSerialStore, r.scope, err)
	}

	last, err := strconv.ParseInt(string(current.Data), 10, 64)
	if err != nil || last < 1 {
		return 0, fmt.Errorf("%w: %s: malformed serial %q", ErrSerialStore, r.scope, current.Data)
	}
	next, err := successor(last)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", r.scope, err)
	}
	if err := r.repo.PutCAS(r.scope, storeRecordType, storeRecordID, current.Version, encode(next, current.Version+1)); err != nil {
		return 0, casOrStoreError(err)
	}
	return next, nil
}

// Last returns the last persisted serial, or false when none was allocated yet.
func (r *StoreRegistry) Last() (int64, bool, error) {
	current, err := r.repo.Get(r.scope, storeRecordType, storeRecordID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: reading %s: %v", ErrSerialStore, r.scope, err)
	}
	last, err := strconv.ParseInt(string(current.Data), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s: malformed serial %q", ErrSerialStore, r.scope, current.Data)
	}
	return last, true, nil
}

func encode(n int64, version uint64) *storage.Record {
	return storage.NewRecord([]byte(strconv.FormatInt(n, 10)), version)
}

func casOrStoreError(err error) error {
	if errors.Is(err, storage.ErrCASFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrSerialStore, err)
}
