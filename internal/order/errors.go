package order

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the aggregate. Callers branch with errors.Is; the
// concrete message carries the detail.
var (
	// ErrValidation marks malformed selectors or arguments, e.g. removing a
	// cart index that does not exist or does not match the given product.
	ErrValidation = errors.New("invalid argument")

	// ErrNotFound marks a referenced product, variant, customer or order
	// that is absent from its store.
	ErrNotFound = errors.New("not found")

	// ErrNoChange signals a detected no-op (identical checksum, identity
	// status transition). It is benign: nothing was mutated.
	ErrNoChange = errors.New("no change")

	// ErrPersistence marks a failed external-store call during flush. The
	// pending change buffer is left intact so the flush can be retried.
	ErrPersistence = errors.New("persistence failure")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func persistencef(err error, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %v", ErrPersistence, fmt.Sprintf(format, args...), err)
}
