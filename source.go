package willowmap

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
)

// LayerKind selects how a layer's tiles are produced.
type LayerKind uint8

const (
	// VectorLayer tiles are built from features assigned to tiles.
	VectorLayer LayerKind = iota
	// RasterLayer tiles are images fetched per tile.
	RasterLayer
)

func (k LayerKind) String() string {
	if k == RasterLayer {
		return "raster"
	}
	return "vector"
}

// Layer describes one map layer handed to a RenderCoordinator.
type Layer struct {
	ID string
	// Kind picks the renderer: vector layers read Source, raster layers
	// read Raster.
	Kind LayerKind
	// Extent is the maximum extent the tile grid is laid over.
	Extent orb.Bound
	// CRS is passed through to the sources untouched.
	CRS string
	// Filter is passed through to the feature source untouched.
	Filter string

	Source FeatureSource
	Raster RasterSource
}

func (l *Layer) validate() error {
	if l.ID == "" {
		return fmt.Errorf("%w: layer without id", ErrInvalidConfig)
	}
	switch l.Kind {
	case VectorLayer:
		if l.Source == nil {
			return fmt.Errorf("layer %s: %w", l.ID, ErrNoSource)
		}
	case RasterLayer:
		if l.Raster == nil {
			return fmt.Errorf("layer %s: %w", l.ID, ErrNoSource)
		}
	default:
		return fmt.Errorf("%w: layer %s has unknown kind %d", ErrInvalidConfig, l.ID, l.Kind)
	}
	return nil
}

// Query is a bounding-box feature request.
type Query struct {
	Layer  string
	Bounds orb.Bound
	CRS    string
	Filter string
}

// FeatureSource returns the already-filtered features of a layer that
// intersect a box. Query is called off the loop, possibly concurrently for
// different tiles, and must honour ctx cancellation.
type FeatureSource interface {
	Query(ctx context.Context, q Query) ([]*Feature, error)
}

// FeatureSourceFunc adapts a function to FeatureSource.
type FeatureSourceFunc func(ctx context.Context, q Query) ([]*Feature, error)

func (f FeatureSourceFunc) Query(ctx context.Context, q Query) ([]*Feature, error) {
	return f(ctx, q)
}

// RasterQuery asks for the image of one tile.
type RasterQuery struct {
	Layer  string
	Code   TileCode
	Bounds orb.Bound
	Scale  float64
	CRS    string
	// Width and Height are the pixel dimensions the tile is drawn at.
	Width  int
	Height int
}

// RasterSource returns the encoded image (PNG, JPEG, GIF) of one tile.
type RasterSource interface {
	Fetch(ctx context.Context, q RasterQuery) ([]byte, error)
}

// RasterSourceFunc adapts a function to RasterSource.
type RasterSourceFunc func(ctx context.Context, q RasterQuery) ([]byte, error)

func (f RasterSourceFunc) Fetch(ctx context.Context, q RasterQuery) ([]byte, error) {
	return f(ctx, q)
}
