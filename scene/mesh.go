package scene

import (
	"image/color"
	"math"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/paulmach/orb"
)

var whitePixelImage *ebiten.Image

// ensureWhitePixel returns a lazily-initialized 1x1 white pixel image.
func ensureWhitePixel() *ebiten.Image {
	if whitePixelImage == nil {
		whitePixelImage = ebiten.NewImage(1, 1)
		whitePixelImage.Fill(color.RGBA{R: 255, G: 255, B: 255, A: 255})
	}
	return whitePixelImage
}

// circleSegments is the number of fan triangles used for a point marker.
const circleSegments = 12

// meshBuilder accumulates white-pixel vertices in layer units.
type meshBuilder struct {
	verts []ebiten.Vertex
	inds  []uint32
}

func (b *meshBuilder) vertex(x, y float64, c Color) uint32 {
	r, g, bl, a := c.premultiplied()
	b.verts = append(b.verts, ebiten.Vertex{
		DstX:   float32(x),
		DstY:   float32(y),
		SrcX:   0.5,
		SrcY:   0.5,
		ColorR: r,
		ColorG: g,
		ColorB: bl,
		ColorA: a,
	})
	return uint32(len(b.verts) - 1)
}

func (b *meshBuilder) empty() bool { return len(b.inds) == 0 }

// fillPolygon fans every ring of p from one hub vertex. Drawn with the
// even-odd fill rule the overlapping fans cancel out to the polygon's area,
// holes and concave outlines included.
func (b *meshBuilder) fillPolygon(p orb.Polygon, c Color) {
	if len(p) == 0 || len(p[0]) < 3 {
		return
	}
	hub := b.vertex(p[0][0][0], p[0][0][1], c)
	for _, ring := range p {
		pts := openRing(ring)
		if len(pts) < 3 {
			continue
		}
		first := uint32(len(b.verts))
		for _, pt := range pts {
			b.vertex(pt[0], pt[1], c)
		}
		n := uint32(len(pts))
		for i := uint32(0); i < n; i++ {
			b.inds = append(b.inds, hub, first+i, first+(i+1)%n)
		}
	}
}

// strokeLine emits one quad per segment, width layer units wide.
func (b *meshBuilder) strokeLine(ls []orb.Point, width float64, c Color) {
	if width <= 0 || c.A <= 0 {
		return
	}
	half := width / 2
	for i := 0; i+1 < len(ls); i++ {
		a, e := ls[i], ls[i+1]
		px, py := perpendicular(a, e)
		px, py = px*half, py*half
		v0 := b.vertex(a[0]+px, a[1]+py, c)
		v1 := b.vertex(a[0]-px, a[1]-py, c)
		v2 := b.vertex(e[0]+px, e[1]+py, c)
		v3 := b.vertex(e[0]-px, e[1]-py, c)
		b.inds = append(b.inds, v0, v1, v2, v1, v3, v2)
	}
}

// strokeRing outlines a closed ring.
func (b *meshBuilder) strokeRing(r orb.Ring, width float64, c Color) {
	pts := openRing(r)
	if len(pts) < 2 {
		return
	}
	closed := make([]orb.Point, 0, len(pts)+1)
	closed = append(closed, pts...)
	closed = append(closed, pts[0])
	b.strokeLine(closed, width, c)
}

// point emits a filled circle of the given radius.
func (b *meshBuilder) point(p orb.Point, radius float64, c Color) {
	if radius <= 0 || c.A <= 0 {
		return
	}
	center := b.vertex(p[0], p[1], c)
	first := uint32(len(b.verts))
	for i := 0; i < circleSegments; i++ {
		sin, cos := math.Sincos(2 * math.Pi * float64(i) / circleSegments)
		b.vertex(p[0]+cos*radius, p[1]+sin*radius, c)
	}
	for i := uint32(0); i < circleSegments; i++ {
		b.inds = append(b.inds, center, first+i, first+(i+1)%circleSegments)
	}
}

// perpendicular returns the unit left-perpendicular of the segment from a to b.
func perpendicular(a, b orb.Point) (float64, float64) {
	dx := b[0] - a[0]
	dy := b[1] - a[1]
	ln := math.Sqrt(dx*dx + dy*dy)
	if ln < 1e-12 {
		return 0, -1
	}
	return -dy / ln, dx / ln
}

// openRing drops the closing point of a ring that repeats its first point.
func openRing(r orb.Ring) []orb.Point {
	if len(r) > 1 && r[0] == r[len(r)-1] {
		return r[:len(r)-1]
	}
	return r
}

// transformVertices applies an affine transform and alpha to src, writing
// the result into dst. dst must be at least len(src) in length.
func transformVertices(src, dst []ebiten.Vertex, transform [6]float64, alpha float32) {
	a, b, c, d, tx, ty := transform[0], transform[1], transform[2], transform[3], transform[4], transform[5]
	for i := range src {
		s := &src[i]
		ox := float64(s.DstX)
		oy := float64(s.DstY)
		dst[i] = ebiten.Vertex{
			DstX:   float32(a*ox + c*oy + tx),
			DstY:   float32(b*ox + d*oy + ty),
			SrcX:   s.SrcX,
			SrcY:   s.SrcY,
			ColorR: s.ColorR * alpha,
			ColorG: s.ColorG * alpha,
			ColorB: s.ColorB * alpha,
			ColorA: s.ColorA * alpha,
		}
	}
}

// ensureTransformedVerts grows the node's buffer to fit its vertices and
// never shrinks it.
func ensureTransformedVerts(n *Node) []ebiten.Vertex {
	need := len(n.Vertices)
	if cap(n.transformedVerts) < need {
		n.transformedVerts = make([]ebiten.Vertex, need)
	}
	n.transformedVerts = n.transformedVerts[:need]
	return n.transformedVerts
}
