package willowmap

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
)

// DefaultMaxTileScreenPx is the largest on-screen width or height (in pixels)
// a feature may have before it is clipped.
const DefaultMaxTileScreenPx = 10000

// Tile is the render payload of one TileCode at one scale. Its feature list
// is filled once by AssignFeatures and is read-only afterwards.
type Tile struct {
	Code   TileCode
	Bounds orb.Bound
	Scale  float64

	// Features owned by this tile, in source order. Entries with Clipped set
	// are copies owned by the tile.
	Features []*Feature

	// Clipped is set when at least one feature had to be clipped.
	Clipped bool

	// Image holds the encoded raster payload for raster layers.
	Image []byte

	dependents map[TileCode]struct{}
}

// NewTile creates an empty tile for code inside extent.
func NewTile(code TileCode, extent orb.Bound, scale float64) *Tile {
	return &Tile{
		Code:   code,
		Bounds: TileBounds(code, extent),
		Scale:  scale,
	}
}

// DependentCodes returns the tiles that hold geometry related to this tile's
// features, in Hilbert order.
func (t *Tile) DependentCodes() []TileCode {
	if len(t.dependents) == 0 {
		return nil
	}
	codes := make([]TileCode, 0, len(t.dependents))
	for c := range t.dependents {
		codes = append(codes, c)
	}
	SortTileCodes(codes)
	return codes
}

// HasDependent reports whether code was recorded as a dependent tile.
func (t *Tile) HasDependent(code TileCode) bool {
	_, ok := t.dependents[code]
	return ok
}

func (t *Tile) addDependent(code TileCode) bool {
	if code == t.Code {
		return false
	}
	if t.dependents == nil {
		t.dependents = make(map[TileCode]struct{})
	}
	if _, ok := t.dependents[code]; ok {
		return false
	}
	t.dependents[code] = struct{}{}
	return true
}

// AssignOptions carries the render-pass context for AssignFeatures.
type AssignOptions struct {
	// Extent is the layer's maximum extent.
	Extent orb.Bound
	// Scale is screen pixels per layer unit.
	Scale float64
	// PanOrigin is the layer-space point the screen is panned around.
	PanOrigin orb.Point
	// MaxScreenPx overrides DefaultMaxTileScreenPx when positive.
	MaxScreenPx int
}

func (o AssignOptions) maxScreenPx() int {
	if o.MaxScreenPx > 0 {
		return o.MaxScreenPx
	}
	return DefaultMaxTileScreenPx
}

// AssignStats summarizes one AssignFeatures pass.
type AssignStats struct {
	Owned      int
	Foreign    int
	Skipped    int
	Clipped    int
	Dependents int
}

// AssignFeatures adds to tile every candidate whose first coordinate lies in
// it. A candidate owned by another tile is left out and that tile's code is
// recorded as a dependent; an owned candidate records as dependents the
// other tiles its vertices fall in. Owned features larger than the screen
// limit are replaced by clipped copies. Candidates without geometry are
// skipped.
func AssignFeatures(tile *Tile, candidates []*Feature, opts AssignOptions) AssignStats {
	var stats AssignStats
	level := tile.Code.Level
	maxPx := opts.maxScreenPx()

	var maxScreen orb.Bound
	haveMaxScreen := false

	for _, f := range candidates {
		if f == nil {
			stats.Skipped++
			continue
		}
		first, ok := firstCoordinate(f.Geometry)
		if !ok {
			stats.Skipped++
			continue
		}
		owner := TileCodeAt(first, level, opts.Extent)
		if owner != tile.Code {
			stats.Foreign++
			if tile.addDependent(owner) {
				stats.Dependents++
			}
			continue
		}

		stats.Owned++
		if ExceedsScreenDimensions(f, opts.Scale, maxPx) {
			if !haveMaxScreen {
				maxScreen = MaxScreenBounds(tile, opts.PanOrigin, opts.Scale, maxPx)
				haveMaxScreen = true
			}
			f = f.clippedCopy(clip.Geometry(maxScreen, orb.Clone(f.Geometry)))
			tile.Clipped = true
			stats.Clipped++
		}
		tile.Features = append(tile.Features, f)

		if f.Geometry != nil {
			eachVertex(f.Geometry, func(p orb.Point) {
				if tile.addDependent(TileCodeAt(p, level, opts.Extent)) {
					stats.Dependents++
				}
			})
		}
	}
	return stats
}

// ExceedsScreenDimensions reports whether the feature's bounding box, drawn
// at scale, is wider or taller than maxPx screen pixels.
func ExceedsScreenDimensions(f *Feature, scale float64, maxPx int) bool {
	if f == nil || f.Geometry == nil || isEmptyGeometry(f.Geometry) {
		return false
	}
	b := f.Geometry.Bound()
	w := (b.Max[0] - b.Min[0]) * scale
	h := (b.Max[1] - b.Min[1]) * scale
	limit := float64(maxPx)
	return w > limit || h > limit
}

// MaxScreenBounds returns the layer-space box that keeps clipped geometry
// within maxPx screen pixels of the pan origin, rounded out to whole tiles.
// The box is at least one tile wide in each direction around the origin.
func MaxScreenBounds(tile *Tile, panOrigin orb.Point, scale float64, maxPx int) orb.Bound {
	w := tile.Bounds.Max[0] - tile.Bounds.Min[0]
	h := tile.Bounds.Max[1] - tile.Bounds.Min[1]
	nx := tilesWithin(w*scale, maxPx)
	ny := tilesWithin(h*scale, maxPx)
	return orb.Bound{
		Min: orb.Point{panOrigin[0] - float64(nx)*w, panOrigin[1] - float64(ny)*h},
		Max: orb.Point{panOrigin[0] + float64(nx)*w, panOrigin[1] + float64(ny)*h},
	}
}

func tilesWithin(tilePx float64, maxPx int) int {
	if !(tilePx > 0) || math.IsInf(tilePx, 0) {
		return 1
	}
	n := int(float64(maxPx) / tilePx)
	if n < 1 {
		return 1
	}
	return n
}

// sortedCodes returns the keys of set in Hilbert order.
func sortedCodes(set map[TileCode]struct{}) []TileCode {
	codes := make([]TileCode, 0, len(set))
	for c := range set {
		codes = append(codes, c)
	}
	SortTileCodes(codes)
	return codes
}

// sortTilesByCode orders tiles by code for stable iteration.
func sortTilesByCode(tiles []*Tile) {
	sort.Slice(tiles, func(i, j int) bool {
		a, b := tiles[i].Code, tiles[j].Code
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})
}
