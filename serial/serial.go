// Package serial allocates certificate serial numbers for a CA.
//
// Serial 1 belongs to the CA certificate itself. A registry that has never
// been used hands out 2 first and every later call returns one more than the
// last persisted value.
package serial

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrSerialStore is returned when the registry cannot be read, parsed or
// written, or when it has no serial left to hand out.
var ErrSerialStore = errors.New("serial store failure")

// First is the first serial handed to a leaf certificate.
const First int64 = 2

// Allocator reserves the next serial number for one CA.
type Allocator interface {
	Next(ctx context.Context) (int64, error)
}

// successor returns the serial after last. The registry is left untouched
// once the int64 range is used up.
func successor(last int64) (int64, error) {
	if last == math.MaxInt64 {
		return 0, fmt.Errorf("%w: serial numbers exhausted at %d", ErrSerialStore, last)
	}
	return last + 1, nil
}
