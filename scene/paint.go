package scene

import (
	"bytes"
	"fmt"
	_ "image/jpeg" // raster tile decoders
	_ "image/png"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/paulmach/orb"

	"github.com/phanxgames/willowmap"
)

// paintVector builds the node for a vector tile. Every polygonal feature
// gets its own even-odd mesh; lines, points and outlines share one mesh
// drawn above the fills.
func paintVector(layer string, tile *willowmap.Tile, style StyleFunc) *Node {
	node := NewContainer(tile.Code.String())
	unit := 1 / tile.Scale

	var strokes meshBuilder
	for _, f := range tile.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		st := style(layer, f)
		var fill meshBuilder
		addGeometry(&fill, &strokes, f.Geometry, st, unit)
		if !fill.empty() {
			node.AddChild(newBoundedMesh(f.ID, fill, ebiten.FillRuleEvenOdd))
		}
	}
	if !strokes.empty() {
		node.AddChild(newBoundedMesh("strokes", strokes, ebiten.FillRuleFillAll))
	}
	return node
}

// addGeometry routes g into the fill or stroke builder. unit is layer units
// per screen pixel at the tile's scale.
func addGeometry(fill, strokes *meshBuilder, g orb.Geometry, st Style, unit float64) {
	width := st.StrokeWidth * unit
	switch g := g.(type) {
	case orb.Point:
		strokes.point(g, st.PointRadius*unit, st.Fill)
	case orb.MultiPoint:
		for _, p := range g {
			strokes.point(p, st.PointRadius*unit, st.Fill)
		}
	case orb.LineString:
		strokes.strokeLine(g, width, st.Stroke)
	case orb.MultiLineString:
		for _, ls := range g {
			strokes.strokeLine(ls, width, st.Stroke)
		}
	case orb.Ring:
		addPolygon(fill, strokes, orb.Polygon{g}, st, width)
	case orb.Polygon:
		addPolygon(fill, strokes, g, st, width)
	case orb.MultiPolygon:
		for _, p := range g {
			addPolygon(fill, strokes, p, st, width)
		}
	case orb.Bound:
		addPolygon(fill, strokes, g.ToPolygon(), st, width)
	case orb.Collection:
		for _, c := range g {
			addGeometry(fill, strokes, c, st, unit)
		}
	}
}

func addPolygon(fill, strokes *meshBuilder, p orb.Polygon, st Style, width float64) {
	if st.Fill.A > 0 {
		fill.fillPolygon(p, st.Fill)
	}
	for _, r := range p {
		strokes.strokeRing(r, width, st.Stroke)
	}
}

func newBoundedMesh(name string, b meshBuilder, rule ebiten.FillRule) *Node {
	n := NewMesh(name, b.verts, b.inds, rule)
	n.bounds = vertexBounds(b.verts)
	n.hasBounds = true
	return n
}

func vertexBounds(verts []ebiten.Vertex) orb.Bound {
	if len(verts) == 0 {
		return orb.Bound{}
	}
	b := orb.Bound{
		Min: orb.Point{float64(verts[0].DstX), float64(verts[0].DstY)},
		Max: orb.Point{float64(verts[0].DstX), float64(verts[0].DstY)},
	}
	for _, v := range verts[1:] {
		b = b.Extend(orb.Point{float64(v.DstX), float64(v.DstY)})
	}
	return b
}

// paintRaster decodes the tile's image payload and stretches it over the
// tile bounds. With flipY the first image row lies at the tile's max y.
func paintRaster(tile *willowmap.Tile, flipY bool) (*Node, error) {
	img, _, err := ebitenutil.NewImageFromReader(bytes.NewReader(tile.Image))
	if err != nil {
		return nil, fmt.Errorf("decode raster tile %s: %w", tile.Code, err)
	}
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w == 0 || h == 0 {
		img.Deallocate()
		return nil, fmt.Errorf("decode raster tile %s: empty image", tile.Code)
	}
	b := tile.Bounds
	n := NewSprite(tile.Code.String(), img)
	sx := (b.Max[0] - b.Min[0]) / float64(w)
	sy := (b.Max[1] - b.Min[1]) / float64(h)
	if flipY {
		n.SetPosition(b.Min[0], b.Max[1])
		n.SetScale(sx, -sy)
	} else {
		n.SetPosition(b.Min[0], b.Min[1])
		n.SetScale(sx, sy)
	}
	n.bounds = b
	n.hasBounds = true
	return n, nil
}
