package authority

import (
	"errors"
	"fmt"
)

var (
	// ErrFileSystem is returned when a CA file cannot be read, created or
	// written.
	ErrFileSystem = errors.New("file system error")

	// ErrIncompleteCA is returned when only one of the CA certificate and CA
	// key files exists. It wraps ErrFileSystem.
	ErrIncompleteCA = fmt.Errorf("%w: incomplete CA", ErrFileSystem)

	// ErrInvalidName is returned for customer or certificate names that cannot
	// be used as a path element.
	ErrInvalidName = errors.New("invalid name")

	// ErrNoLedger is returned by ledger lookups when no ledger is configured.
	ErrNoLedger = errors.New("no issuance ledger configured")
)
