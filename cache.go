package willowmap

import (
	"github.com/rs/zerolog"
)

// TileState is the lifecycle state of one tile code inside a ScaleLevel.
type TileState uint8

const (
	TileAbsent TileState = iota
	TileRequested
	TileLoaded
	TileFailed
)

func (s TileState) String() string {
	switch s {
	case TileRequested:
		return "requested"
	case TileLoaded:
		return "loaded"
	case TileFailed:
		return "failed"
	default:
		return "absent"
	}
}

// FetchDone resolves one requested tile. It must be called exactly once,
// on the loop, with either a tile or an error.
type FetchDone func(tile *Tile, err error)

// FetchFunc starts loading code and arranges for done to be called.
type FetchFunc func(code TileCode, done FetchDone)

// ScaleRendered is emitted when a fetch batch of a scale level resolves.
type ScaleRendered struct {
	Layer string
	Scale float64
	// Batch counts the batches of this scale level, starting at 1.
	Batch uint64
	// Epoch is the cancel generation the batch belongs to.
	Epoch uint64
	// Errors lists the tiles of this batch that failed.
	Errors []*TileError
}

type tileEntry struct {
	state TileState
	tile  *Tile
	err   *TileError
	epoch uint64
}

// ScaleLevel is the tile cache of one layer at one scale. It deduplicates
// fetches per tile code, counts outstanding fetches, and emits a single
// ScaleRendered event each time the outstanding count drops back to zero.
//
// A ScaleLevel is owned by one coordinator and used only on its loop.
type ScaleLevel struct {
	layer string
	scale float64
	log   zerolog.Logger

	entries map[TileCode]*tileEntry
	loading int

	epoch      uint64
	batch      uint64
	batchOpen  bool
	batchErrs  []*TileError
	ensuring   bool
	onRendered func(ScaleRendered)
}

// NewScaleLevel creates an empty cache. onRendered may be nil.
func NewScaleLevel(layer string, scale float64, log zerolog.Logger, onRendered func(ScaleRendered)) *ScaleLevel {
	return &ScaleLevel{
		layer:      layer,
		scale:      scale,
		log:        log,
		entries:    make(map[TileCode]*tileEntry),
		onRendered: onRendered,
	}
}

// Layer returns the layer ID the cache belongs to.
func (s *ScaleLevel) Layer() string { return s.layer }

// Scale returns the scale the cache renders.
func (s *ScaleLevel) Scale() float64 { return s.scale }

// Ensure requests every code not already requested or resolved. It returns
// the number of new requests. fetch may resolve synchronously; the rendered
// event is then emitted after all codes of the call have been requested.
func (s *ScaleLevel) Ensure(codes []TileCode, fetch FetchFunc) int {
	var fresh []TileCode
	for _, c := range codes {
		e := s.entries[c]
		if e != nil && e.state != TileAbsent {
			continue
		}
		if e == nil {
			e = &tileEntry{}
			s.entries[c] = e
		}
		e.state = TileRequested
		e.epoch = s.epoch
		e.tile = nil
		e.err = nil
		s.loading++
		fresh = append(fresh, c)
	}
	if len(fresh) == 0 {
		return 0
	}
	if !s.batchOpen {
		s.batchOpen = true
		s.batch++
		s.batchErrs = nil
	}

	nested := s.ensuring
	s.ensuring = true
	epoch := s.epoch
	for _, c := range fresh {
		code := c
		fetch(code, func(tile *Tile, err error) {
			s.complete(code, epoch, tile, err)
		})
	}
	if !nested {
		s.ensuring = false
		s.maybeRendered()
	}
	return len(fresh)
}

// Complete resolves code for the current epoch. Callers normally use the
// FetchDone handed to their FetchFunc instead.
func (s *ScaleLevel) Complete(code TileCode, tile *Tile, err error) {
	s.complete(code, s.epoch, tile, err)
}

func (s *ScaleLevel) complete(code TileCode, epoch uint64, tile *Tile, err error) {
	e := s.entries[code]
	if epoch != s.epoch || e == nil || e.epoch != epoch {
		s.log.Debug().Str("layer", s.layer).Stringer("tile", code).Float64("scale", s.scale).
			Uint64("epoch", epoch).Msg("dropping late tile result")
		return
	}
	if e.state != TileRequested {
		s.log.Warn().Str("layer", s.layer).Stringer("tile", code).Float64("scale", s.scale).
			Stringer("state", e.state).Msg("tile completed twice")
		return
	}

	if err != nil {
		e.state = TileFailed
		e.err = &TileError{Layer: s.layer, Code: code, Scale: s.scale, Err: err}
		s.batchErrs = append(s.batchErrs, e.err)
		s.log.Warn().Err(err).Str("layer", s.layer).Stringer("tile", code).Float64("scale", s.scale).
			Msg("tile fetch failed")
	} else {
		e.state = TileLoaded
		e.tile = tile
	}
	s.loading--
	if !s.ensuring {
		s.maybeRendered()
	}
}

func (s *ScaleLevel) maybeRendered() {
	if s.loading != 0 || !s.batchOpen {
		return
	}
	s.batchOpen = false
	ev := ScaleRendered{
		Layer:  s.layer,
		Scale:  s.scale,
		Batch:  s.batch,
		Epoch:  s.epoch,
		Errors: s.batchErrs,
	}
	s.batchErrs = nil
	if s.onRendered != nil {
		s.onRendered(ev)
	}
}

// Cancel abandons every outstanding request. Results arriving later for
// them are ignored; resolved tiles are kept. No rendered event is emitted
// for the abandoned batch.
func (s *ScaleLevel) Cancel() {
	s.epoch++
	for code, e := range s.entries {
		if e.state == TileRequested {
			delete(s.entries, code)
		}
	}
	s.loading = 0
	s.batchOpen = false
	s.batchErrs = nil
}

// Epoch returns the current cancel generation.
func (s *ScaleLevel) Epoch() uint64 { return s.epoch }

// Batch returns the number of batches started so far.
func (s *ScaleLevel) Batch() uint64 { return s.batch }

// State returns the state of code.
func (s *ScaleLevel) State(code TileCode) TileState {
	if e := s.entries[code]; e != nil {
		return e.state
	}
	return TileAbsent
}

// Tile returns the loaded tile for code.
func (s *ScaleLevel) Tile(code TileCode) (*Tile, bool) {
	e := s.entries[code]
	if e == nil || e.state != TileLoaded {
		return nil, false
	}
	return e.tile, true
}

// Tiles returns all loaded tiles ordered by code.
func (s *ScaleLevel) Tiles() []*Tile {
	tiles := make([]*Tile, 0, len(s.entries))
	for _, e := range s.entries {
		if e.state == TileLoaded && e.tile != nil {
			tiles = append(tiles, e.tile)
		}
	}
	sortTilesByCode(tiles)
	return tiles
}

// LoadingCount returns the number of outstanding requests.
func (s *ScaleLevel) LoadingCount() int { return s.loading }

// IsComplete reports whether no request is outstanding.
func (s *ScaleLevel) IsComplete() bool { return s.loading == 0 }

// Errors lists every failed tile of the scale level, ordered by code.
func (s *ScaleLevel) Errors() []*TileError {
	var errs []*TileError
	set := make(map[TileCode]struct{})
	for code, e := range s.entries {
		if e.state == TileFailed {
			set[code] = struct{}{}
		}
	}
	for _, code := range sortedCodes(set) {
		errs = append(errs, s.entries[code].err)
	}
	return errs
}
