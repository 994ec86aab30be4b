package willowmap

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
)

// ScaleRenderer renders one layer at one scale. The coordinator depends only
// on this interface; vector and raster layers provide their own variant.
type ScaleRenderer interface {
	Layer() string
	Scale() float64
	// Level is the tile level used at this scale.
	Level() int
	// TileCodes lists the tiles covering view.
	TileCodes(view orb.Bound) []TileCode
	// Render requests the given tiles and returns how many were new.
	// panOrigin is the layer-space centre of the view they were computed for.
	Render(codes []TileCode, panOrigin orb.Point) int
	// Cancel abandons outstanding requests; resolved tiles stay.
	Cancel()
	IsComplete() bool
	Cache() *ScaleLevel
	Container() Container
	// Destroy cancels and removes the container from the surface.
	Destroy()
}

type rendererEnv struct {
	loop    *Loop
	surface Surface
	spawn   func(func())
	cfg     Config
	metrics *Metrics
	log     zerolog.Logger
}

func newScaleRenderer(env *rendererEnv, layer *Layer, scale float64, onRendered func(ScaleRendered)) ScaleRenderer {
	ctx, cancel := context.WithCancel(context.Background())
	base := scaleBase{
		env:       env,
		layer:     layer,
		scale:     scale,
		level:     tileLevelFor(layer.Extent, scale, env.cfg.maxLevel()),
		cache:     NewScaleLevel(layer.ID, scale, env.log, onRendered),
		container: env.surface.NewContainer(layer.ID, scale),
		ctx:       ctx,
		cancel:    cancel,
	}
	if layer.Kind == RasterLayer {
		return &rasterScale{scaleBase: base}
	}
	return &vectorScale{scaleBase: base, followed: make(map[TileCode]bool)}
}

// scaleBase holds what both renderer variants share.
type scaleBase struct {
	env       *rendererEnv
	layer     *Layer
	scale     float64
	level     int
	cache     *ScaleLevel
	container Container
	panOrigin orb.Point

	ctx       context.Context
	cancel    context.CancelFunc
	destroyed bool
}

func (b *scaleBase) Layer() string        { return b.layer.ID }
func (b *scaleBase) Scale() float64       { return b.scale }
func (b *scaleBase) Level() int           { return b.level }
func (b *scaleBase) IsComplete() bool     { return b.cache.IsComplete() }
func (b *scaleBase) Cache() *ScaleLevel   { return b.cache }
func (b *scaleBase) Container() Container { return b.container }

func (b *scaleBase) TileCodes(view orb.Bound) []TileCode {
	return TileCodesForView(b.level, b.layer.Extent, view)
}

func (b *scaleBase) Cancel() {
	b.cache.Cancel()
	b.cancel()
	b.ctx, b.cancel = context.WithCancel(context.Background())
}

func (b *scaleBase) Destroy() {
	if b.destroyed {
		return
	}
	b.destroyed = true
	b.cache.Cancel()
	b.cancel()
	b.env.surface.Remove(b.container)
}

// paint draws tile and reports a failure as a tile error.
func (b *scaleBase) paint(tile *Tile) error {
	if err := b.env.surface.Paint(b.container, tile); err != nil {
		return fmt.Errorf("paint tile %s: %w", tile.Code, err)
	}
	return nil
}

// fetchOffLoop runs work through the spawn function and posts its result
// back to the loop, where apply runs. The context is the one current when
// the fetch was started, so Cancel aborts it.
func fetchOffLoop[T any](b *scaleBase, work func(ctx context.Context) (T, error), apply func(ctx context.Context, v T, err error)) {
	ctx := b.ctx
	env := b.env
	layer := b.layer.ID
	start := time.Now()
	env.metrics.AddTilesInFlight(layer, 1)
	env.spawn(func() {
		v, err := work(ctx)
		env.loop.Post(func() {
			env.metrics.AddTilesInFlight(layer, -1)
			env.metrics.ObserveTileFetch(layer, err, time.Since(start))
			apply(ctx, v, err)
		})
	})
}

// vectorScale builds tiles from features: each result is assigned to its
// tile, painted, and its dependent tiles requested.
type vectorScale struct {
	scaleBase
	// followed marks tiles requested only as dependents; their own
	// dependents are not followed.
	followed map[TileCode]bool
}

func (r *vectorScale) Render(codes []TileCode, panOrigin orb.Point) int {
	r.panOrigin = panOrigin
	return r.cache.Ensure(codes, r.fetch)
}

func (r *vectorScale) Cancel() {
	r.scaleBase.Cancel()
	r.followed = make(map[TileCode]bool)
}

func (r *vectorScale) fetch(code TileCode, done FetchDone) {
	extent := r.layer.Extent
	q := Query{
		Layer:  r.layer.ID,
		Bounds: TileBounds(code, extent),
		CRS:    r.layer.CRS,
		Filter: r.layer.Filter,
	}
	pan := r.panOrigin
	src := r.layer.Source

	fetchOffLoop(&r.scaleBase, func(ctx context.Context) ([]*Feature, error) {
		return src.Query(ctx, q)
	}, func(ctx context.Context, features []*Feature, err error) {
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			done(nil, err)
			return
		}

		tile := NewTile(code, extent, r.scale)
		stats := AssignFeatures(tile, features, AssignOptions{
			Extent:      extent,
			Scale:       r.scale,
			PanOrigin:   pan,
			MaxScreenPx: r.env.cfg.MaxTileScreenPx,
		})
		r.env.metrics.ObserveAssign(r.layer.ID, stats)
		if stats.Clipped > 0 {
			r.env.log.Debug().Str("layer", r.layer.ID).Stringer("tile", code).Int("clipped", stats.Clipped).
				Msg("clipped oversized features")
		}

		if err := r.paint(tile); err != nil {
			done(nil, err)
			return
		}

		// Dependents join the current batch before this tile resolves, so
		// the batch cannot finish early.
		if r.env.cfg.FollowDependentTiles && !r.followed[code] {
			var deps []TileCode
			for _, d := range tile.DependentCodes() {
				if r.cache.State(d) == TileAbsent {
					r.followed[d] = true
					deps = append(deps, d)
				}
			}
			if len(deps) > 0 {
				r.cache.Ensure(deps, r.fetch)
			}
		}
		done(tile, nil)
	})
}

// rasterScale fetches one encoded image per tile.
type rasterScale struct {
	scaleBase
}

func (r *rasterScale) Render(codes []TileCode, panOrigin orb.Point) int {
	r.panOrigin = panOrigin
	return r.cache.Ensure(codes, r.fetch)
}

func (r *rasterScale) fetch(code TileCode, done FetchDone) {
	extent := r.layer.Extent
	bounds := TileBounds(code, extent)
	q := RasterQuery{
		Layer:  r.layer.ID,
		Code:   code,
		Bounds: bounds,
		Scale:  r.scale,
		CRS:    r.layer.CRS,
		Width:  pixelSpan(bounds.Max[0]-bounds.Min[0], r.scale),
		Height: pixelSpan(bounds.Max[1]-bounds.Min[1], r.scale),
	}
	src := r.layer.Raster

	fetchOffLoop(&r.scaleBase, func(ctx context.Context) ([]byte, error) {
		return src.Fetch(ctx, q)
	}, func(ctx context.Context, img []byte, err error) {
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			done(nil, err)
			return
		}
		tile := NewTile(code, extent, r.scale)
		tile.Image = img
		if err := r.paint(tile); err != nil {
			done(nil, err)
			return
		}
		done(tile, nil)
	})
}

// pixelSpan converts a layer-space length to whole screen pixels, at least 1.
func pixelSpan(length, scale float64) int {
	px := math.Round(length * scale)
	if math.IsNaN(px) || px < 1 {
		return 1
	}
	if px > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(px)
}
