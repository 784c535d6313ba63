package storage

import "github.com/jmcleod/tunnelca/internal/util"

// Record is an opaque payload with a version used for compare-and-swap.
// Version 0 means "does not exist" to PutCAS, so stored records start at 1.
type Record struct {
	Version uint64 `json:"version,omitempty"`
	Data    []byte `json:"data"`
}

// NewRecord returns a record holding a copy of data at the given version.
func NewRecord(data []byte, version uint64) *Record {
	return &Record{Version: version, Data: util.CopyBytes(data)}
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return NewRecord(r.Data, r.Version)
}
