package source

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedCRS is returned when a query asks for a CRS the layer
	// is not stored in and no transform is configured.
	ErrUnsupportedCRS = errors.New("source: unsupported crs")
	// ErrInvalidFilter is returned for a filter that does not parse.
	ErrInvalidFilter = errors.New("source: invalid filter")
	// ErrUnknownLayer is returned for queries on layers the source lacks.
	ErrUnknownLayer = errors.New("source: unknown layer")
	// ErrBadStatus is wrapped by StatusError.
	ErrBadStatus = errors.New("source: bad status")
)

// StatusError is returned when a remote endpoint answers with a non-2xx
// status.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("source: bad status %d", e.Status)
	}
	return fmt.Sprintf("source: bad status %d: %s", e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrBadStatus }
