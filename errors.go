package willowmap

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownLayer is returned when a layer ID is not registered.
	ErrUnknownLayer = errors.New("willowmap: unknown layer")
	// ErrDuplicateLayer is returned by AddLayer when the ID is taken.
	ErrDuplicateLayer = errors.New("willowmap: duplicate layer")
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("willowmap: invalid config")
	// ErrNoSource is returned when a layer has no source for its kind.
	ErrNoSource = errors.New("willowmap: layer has no source")
)

// TileError records the failure of a single tile fetch.
type TileError struct {
	Layer string
	Code  TileCode
	Scale float64
	Err   error
}

func (e *TileError) Error() string {
	return fmt.Sprintf("layer %s tile %s at scale %g: %v", e.Layer, e.Code, e.Scale, e.Err)
}

func (e *TileError) Unwrap() error { return e.Err }
