package overlay

import (
	"errors"
	"fmt"
)

var (
	ErrSurfaceInit        = errors.New("surface init")
	ErrNotMounted         = errors.New("surface not mounted")
	ErrMissingCoordinates = errors.New("missing coordinates")
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrMissingID          = errors.New("missing id")
	ErrDuplicateKey       = errors.New("duplicate key")
)

// ItemError is a failure confined to a single item of one category. It is
// reported to the error sink and never aborts the pass.
type ItemError struct {
	Category Category
	Key      string
	Err      error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Category, e.Key, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

func itemError(c Category, key string, err error) error {
	return &ItemError{Category: c, Key: key, Err: err}
}
