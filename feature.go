package willowmap

import (
	"github.com/paulmach/orb"
)

// Feature is one geometry+attribute record as returned by a FeatureSource.
//
// Features handed to the core are treated as read-only. When a feature has
// to be clipped, the tile that owns it receives a copy with a replaced
// geometry and Clipped set; the source's record is never modified.
type Feature struct {
	ID         string
	Geometry   orb.Geometry
	Attributes map[string]any

	// Clipped is set on copies whose geometry was cut down to the
	// renderable screen range.
	Clipped bool
}

// Attribute returns a single attribute value.
func (f *Feature) Attribute(name string) (any, bool) {
	v, ok := f.Attributes[name]
	return v, ok
}

// clippedCopy returns a copy of f whose geometry is g. The attribute map is
// shared: attributes are never written by the core.
func (f *Feature) clippedCopy(g orb.Geometry) *Feature {
	return &Feature{
		ID:         f.ID,
		Geometry:   g,
		Attributes: f.Attributes,
		Clipped:    true,
	}
}

// firstCoordinate returns the first vertex of g in traversal order.
func firstCoordinate(g orb.Geometry) (orb.Point, bool) {
	switch g := g.(type) {
	case nil:
		return orb.Point{}, false
	case orb.Point:
		return g, true
	case orb.MultiPoint:
		if len(g) > 0 {
			return g[0], true
		}
	case orb.LineString:
		if len(g) > 0 {
			return g[0], true
		}
	case orb.Ring:
		if len(g) > 0 {
			return g[0], true
		}
	case orb.MultiLineString:
		for _, ls := range g {
			if p, ok := firstCoordinate(ls); ok {
				return p, true
			}
		}
	case orb.Polygon:
		for _, r := range g {
			if p, ok := firstCoordinate(r); ok {
				return p, true
			}
		}
	case orb.MultiPolygon:
		for _, poly := range g {
			if p, ok := firstCoordinate(poly); ok {
				return p, true
			}
		}
	case orb.Collection:
		for _, sub := range g {
			if p, ok := firstCoordinate(sub); ok {
				return p, true
			}
		}
	case orb.Bound:
		return g.Min, true
	}
	return orb.Point{}, false
}

// isEmptyGeometry reports whether g has no vertices at all.
func isEmptyGeometry(g orb.Geometry) bool {
	_, ok := firstCoordinate(g)
	return !ok
}

// eachVertex calls fn for every vertex of g.
func eachVertex(g orb.Geometry, fn func(orb.Point)) {
	switch g := g.(type) {
	case orb.Point:
		fn(g)
	case orb.MultiPoint:
		for _, p := range g {
			fn(p)
		}
	case orb.LineString:
		for _, p := range g {
			fn(p)
		}
	case orb.Ring:
		for _, p := range g {
			fn(p)
		}
	case orb.MultiLineString:
		for _, ls := range g {
			eachVertex(ls, fn)
		}
	case orb.Polygon:
		for _, r := range g {
			eachVertex(r, fn)
		}
	case orb.MultiPolygon:
		for _, poly := range g {
			eachVertex(poly, fn)
		}
	case orb.Collection:
		for _, sub := range g {
			eachVertex(sub, fn)
		}
	case orb.Bound:
		fn(g.Min)
		fn(g.Max)
	}
}
