package scene

import (
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/paulmach/orb"
)

// frameStats counts what the last Draw did.
type frameStats struct {
	containers int
	meshes     int
	sprites    int
	culled     int
	drawCalls  int
	drawTime   time.Duration
}

// Draw renders the visible containers onto screen through the camera.
func (s *MapScene) Draw(screen *ebiten.Image) {
	start := time.Now()
	s.stats = frameStats{}

	view := s.camera.computeViewMatrix()
	visible := s.camera.VisibleBounds()
	updateWorldTransform(s.root, identityTransform, 1, false)

	for _, c := range s.root.children {
		if !c.Visible {
			continue
		}
		s.stats.containers++
		s.drawNode(screen, c, view, visible)
	}

	s.stats.drawTime = time.Since(start)
	if s.debug {
		s.debugLog()
		s.drawOverlay(screen)
	}
	s.flushSnapshots(screen)
}

func (s *MapScene) drawNode(screen *ebiten.Image, n *Node, view [6]float64, visible orb.Bound) {
	if !n.Visible || n.worldAlpha <= 0 {
		return
	}
	if n.hasBounds && !n.bounds.Intersects(visible) {
		s.stats.culled++
		return
	}

	switch n.Type {
	case NodeTypeMesh:
		if len(n.Vertices) == 0 || len(n.Indices) == 0 {
			break
		}
		dst := ensureTransformedVerts(n)
		transformVertices(n.Vertices, dst, multiplyAffine(view, n.worldTransform), float32(n.worldAlpha))
		var op ebiten.DrawTrianglesOptions
		op.FillRule = n.FillRule
		op.AntiAlias = true
		screen.DrawTriangles32(dst, n.Indices, ensureWhitePixel(), &op)
		s.stats.meshes++
		s.stats.drawCalls++
	case NodeTypeSprite:
		if n.Image == nil {
			break
		}
		var op ebiten.DrawImageOptions
		op.GeoM = geoM(multiplyAffine(view, n.worldTransform))
		op.ColorScale.ScaleAlpha(float32(n.worldAlpha))
		op.Filter = ebiten.FilterLinear
		screen.DrawImage(n.Image, &op)
		s.stats.sprites++
		s.stats.drawCalls++
	}

	for _, child := range n.children {
		s.drawNode(screen, child, view, visible)
	}
}

// geoM converts a [6]float64 affine matrix into an ebiten.GeoM.
func geoM(m [6]float64) ebiten.GeoM {
	var g ebiten.GeoM
	g.SetElement(0, 0, m[0])
	g.SetElement(1, 0, m[1])
	g.SetElement(0, 1, m[2])
	g.SetElement(1, 1, m[3])
	g.SetElement(0, 2, m[4])
	g.SetElement(1, 2, m[5])
	return g
}
