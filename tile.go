package willowmap

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/google/hilbert"
	"github.com/paulmach/orb"
)

// MaxTileLevel is the deepest tile level ever produced. At level 30 a tile
// index still fits in an int32 and the extent/2^level division keeps
// enough float64 mantissa for the index arithmetic to stay exact.
const MaxTileLevel = 30

// tileTargetPx is the lower bound of a tile's on-screen edge. The level
// formula keeps a tile's screen area between tileTargetPx² and 4·tileTargetPx².
const tileTargetPx = 256

// TileCode addresses one tile of a layer: the level (zoom depth) and the
// column/row of the tile inside the 2^level × 2^level grid over the extent.
// TileCode is comparable and is used directly as a map key.
type TileCode struct {
	Level int
	X     int
	Y     int
}

// String formats the code as "level/x/y".
func (c TileCode) String() string {
	return strconv.Itoa(c.Level) + "/" + strconv.Itoa(c.X) + "/" + strconv.Itoa(c.Y)
}

// Valid reports whether the code lies inside the grid of its level.
func (c TileCode) Valid() bool {
	if c.Level < 0 || c.Level > MaxTileLevel {
		return false
	}
	n := 1 << c.Level
	return c.X >= 0 && c.X < n && c.Y >= 0 && c.Y < n
}

// ParseTileCode parses the "level/x/y" form produced by String.
func ParseTileCode(s string) (TileCode, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return TileCode{}, fmt.Errorf("parse tile code %q: want level/x/y", s)
	}
	var vals [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return TileCode{}, fmt.Errorf("parse tile code %q: %w", s, err)
		}
		vals[i] = v
	}
	c := TileCode{Level: vals[0], X: vals[1], Y: vals[2]}
	if !c.Valid() {
		return TileCode{}, fmt.Errorf("parse tile code %q: outside tile grid", s)
	}
	return c, nil
}

// TileLevelFor picks the tile level for a layer extent viewed at scale
// (screen pixels per layer unit):
//
//	level = floor(log4(extentArea / (256² / scale²)))
//
// clamped to [0, MaxTileLevel]. Degenerate extents or scales give level 0.
func TileLevelFor(extent orb.Bound, scale float64) int {
	return tileLevelFor(extent, scale, MaxTileLevel)
}

func tileLevelFor(extent orb.Bound, scale float64, maxLevel int) int {
	w := extent.Max[0] - extent.Min[0]
	h := extent.Max[1] - extent.Min[1]
	area := w * h
	if !(w > 0) || !(h > 0) || !(scale > 0) || math.IsInf(scale, 0) {
		return 0
	}
	tileArea := float64(tileTargetPx*tileTargetPx) / (scale * scale)
	level := math.Floor(math.Log(area/tileArea) / math.Log(4))
	if math.IsNaN(level) || level < 0 {
		return 0
	}
	if maxLevel > MaxTileLevel || maxLevel < 0 {
		maxLevel = MaxTileLevel
	}
	if level > float64(maxLevel) {
		return maxLevel
	}
	return int(level)
}

// TileSize returns the width and height of one tile at level.
func TileSize(extent orb.Bound, level int) (w, h float64) {
	if level < 0 {
		level = 0
	}
	div := math.Ldexp(1, level)
	return (extent.Max[0] - extent.Min[0]) / div, (extent.Max[1] - extent.Min[1]) / div
}

// TileBounds returns the layer-space box covered by code.
func TileBounds(code TileCode, extent orb.Bound) orb.Bound {
	w, h := TileSize(extent, code.Level)
	minX := extent.Min[0] + float64(code.X)*w
	minY := extent.Min[1] + float64(code.Y)*h
	return orb.Bound{
		Min: orb.Point{minX, minY},
		Max: orb.Point{minX + w, minY + h},
	}
}

// TileCodeAt returns the code of the tile at level containing p. Points
// outside the extent are clamped to the nearest edge tile, and points on a
// shared edge belong to the tile on their right/top.
func TileCodeAt(p orb.Point, level int, extent orb.Bound) TileCode {
	if level < 0 {
		level = 0
	}
	w, h := TileSize(extent, level)
	n := 1 << level
	return TileCode{
		Level: level,
		X:     clampIndex(math.Floor((p[0]-extent.Min[0])/w), n),
		Y:     clampIndex(math.Floor((p[1]-extent.Min[1])/h), n),
	}
}

func clampIndex(v float64, n int) int {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v >= float64(n) {
		return n - 1
	}
	return int(v)
}

// TileCodesForView lists the tiles at level that cover the part of view
// inside extent. A view disjoint from the extent, or an extent whose tiles
// would have non-positive size, yields no codes. The codes are returned in
// Hilbert-curve order so spatially close tiles are requested together.
func TileCodesForView(level int, extent, view orb.Bound) []TileCode {
	if level < 0 {
		level = 0
	}
	if level > MaxTileLevel {
		level = MaxTileLevel
	}
	w, h := TileSize(extent, level)
	if !(w > 0) || !(h > 0) {
		return nil
	}
	area, ok := intersectBounds(extent, view)
	if !ok {
		return nil
	}

	n := 1 << level
	x0 := clampRange(math.Floor((area.Min[0]-extent.Min[0])/w), n)
	x1 := clampRange(math.Ceil((area.Max[0]-extent.Min[0])/w), n)
	y0 := clampRange(math.Floor((area.Min[1]-extent.Min[1])/h), n)
	y1 := clampRange(math.Ceil((area.Max[1]-extent.Min[1])/h), n)
	// A zero-width intersection away from a grid line still touches one column.
	if x1 == x0 && area.Min[0] == area.Max[0] && x0 < n && !onGridLine(area.Min[0]-extent.Min[0], w) {
		x1 = x0 + 1
	}
	if y1 == y0 && area.Min[1] == area.Max[1] && y0 < n && !onGridLine(area.Min[1]-extent.Min[1], h) {
		y1 = y0 + 1
	}

	codes := make([]TileCode, 0, (x1-x0)*(y1-y0))
	for x := x0; x < x1; x++ {
		for y := y0; y < y1; y++ {
			codes = append(codes, TileCode{Level: level, X: x, Y: y})
		}
	}
	SortTileCodes(codes)
	return codes
}

func clampRange(v float64, n int) int {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > float64(n) {
		return n
	}
	return int(v)
}

func onGridLine(offset, size float64) bool {
	q := offset / size
	return q == math.Floor(q)
}

// SortTileCodes orders codes by level, then by position along the Hilbert
// curve of that level.
func SortTileCodes(codes []TileCode) {
	curves := make(map[int]*hilbert.Hilbert)
	keys := make(map[TileCode]int, len(codes))
	for _, c := range codes {
		keys[c] = hilbertIndex(curves, c)
	}
	sort.Slice(codes, func(i, j int) bool {
		a, b := codes[i], codes[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		ka, kb := keys[a], keys[b]
		if ka != kb {
			return ka < kb
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})
}

// hilbertIndex returns the distance of c along its level's Hilbert curve, or
// -1 when the curve cannot be built (levels past what the curve library
// supports fall back to row/column order).
func hilbertIndex(curves map[int]*hilbert.Hilbert, c TileCode) int {
	h, ok := curves[c.Level]
	if !ok {
		var err error
		h, err = hilbert.NewHilbert(1 << c.Level)
		if err != nil {
			h = nil
		}
		curves[c.Level] = h
	}
	if h == nil {
		return -1
	}
	t, err := h.MapInverse(c.X, c.Y)
	if err != nil {
		return -1
	}
	return t
}

// intersectBounds returns the overlap of a and b. Boxes that only share an
// edge overlap in a zero-area box; fully separated boxes report false.
func intersectBounds(a, b orb.Bound) (orb.Bound, bool) {
	minX := math.Max(a.Min[0], b.Min[0])
	minY := math.Max(a.Min[1], b.Min[1])
	maxX := math.Min(a.Max[0], b.Max[0])
	maxY := math.Min(a.Max[1], b.Max[1])
	if minX > maxX || minY > maxY {
		return orb.Bound{}, false
	}
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}, true
}
