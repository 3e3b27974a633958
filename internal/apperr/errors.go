// Package apperr holds the error kinds shared by every component. Domain
// packages wrap one of these sentinels so callers can branch with errors.Is
// without importing the domain package.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("not found")
	ErrBusinessRule         = errors.New("business rule violation")
	ErrConcurrencyExhausted = errors.New("concurrency retries exhausted")
)

// Validation returns an error of kind ErrValidation carrying msg.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFound(what, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
}

// Kind reports which sentinel err wraps, or nil for unclassified errors.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrNotFound, ErrBusinessRule, ErrConcurrencyExhausted} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
