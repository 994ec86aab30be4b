package scene

import (
	"math"

	"github.com/paulmach/orb"
)

// Rect is a screen-space rectangle with its origin at the top-left.
type Rect struct {
	X, Y, Width, Height float64
}

// Camera maps layer space onto the screen: the layer point (X, Y) sits at
// the viewport centre and one layer unit spans Zoom pixels.
type Camera struct {
	X, Y float64
	Zoom float64
	// FlipY draws layer y increasing upwards, as projected CRSs do.
	FlipY bool
	// Viewport is the screen-space rectangle the map renders into.
	Viewport Rect

	viewMatrix    [6]float64
	invViewMatrix [6]float64
	dirty         bool
}

func newCamera(viewport Rect) *Camera {
	return &Camera{Zoom: 1, Viewport: viewport, dirty: true}
}

// SetCenter moves the camera to a layer-space point.
func (c *Camera) SetCenter(x, y float64) {
	if c.X == x && c.Y == y {
		return
	}
	c.X, c.Y = x, y
	c.dirty = true
}

// SetZoom sets pixels per layer unit. Non-finite and non-positive values
// reset the zoom to 1.
func (c *Camera) SetZoom(z float64) {
	if math.IsNaN(z) || math.IsInf(z, 0) || z <= 0 {
		z = 1
	}
	if c.Zoom == z {
		return
	}
	c.Zoom = z
	c.dirty = true
}

// SetViewport resizes the screen rectangle.
func (c *Camera) SetViewport(r Rect) {
	if c.Viewport == r {
		return
	}
	c.Viewport = r
	c.dirty = true
}

// MarkDirty forces a recomputation of the view matrix.
func (c *Camera) MarkDirty() {
	c.dirty = true
}

// computeViewMatrix recomputes the cached view matrix if dirty.
//
// viewMatrix = Translate(cx, cy) * Scale(zoom, ±zoom) * Translate(-X, -Y)
// where cx, cy = viewport center.
func (c *Camera) computeViewMatrix() [6]float64 {
	if !c.dirty {
		return c.viewMatrix
	}
	c.dirty = false

	cx := c.Viewport.X + c.Viewport.Width/2
	cy := c.Viewport.Y + c.Viewport.Height/2
	zx, zy := c.Zoom, c.Zoom
	if c.FlipY {
		zy = -zy
	}
	c.viewMatrix = [6]float64{zx, 0, 0, zy, cx - zx*c.X, cy - zy*c.Y}
	c.invViewMatrix = invertAffine(c.viewMatrix)
	return c.viewMatrix
}

// WorldToScreen converts layer coordinates to screen coordinates.
func (c *Camera) WorldToScreen(wx, wy float64) (sx, sy float64) {
	c.computeViewMatrix()
	return transformPoint(c.viewMatrix, wx, wy)
}

// ScreenToWorld converts screen coordinates to layer coordinates.
func (c *Camera) ScreenToWorld(sx, sy float64) (wx, wy float64) {
	c.computeViewMatrix()
	return transformPoint(c.invViewMatrix, sx, sy)
}

// VisibleBounds returns the layer-space area under the viewport.
func (c *Camera) VisibleBounds() orb.Bound {
	return c.BoundsAt(c.X, c.Y, c.Zoom)
}

// BoundsAt returns the layer-space area the viewport would show if centred
// on (x, y) at zoom. Navigation uses it to compute target views.
func (c *Camera) BoundsAt(x, y, zoom float64) orb.Bound {
	if zoom <= 0 || math.IsNaN(zoom) || math.IsInf(zoom, 0) {
		zoom = 1
	}
	hw := c.Viewport.Width / (2 * zoom)
	hh := c.Viewport.Height / (2 * zoom)
	return orb.Bound{
		Min: orb.Point{x - hw, y - hh},
		Max: orb.Point{x + hw, y + hh},
	}
}

// ZoomAround returns the centre that keeps the layer point under screen
// position (sx, sy) fixed when the zoom changes to zoom.
func (c *Camera) ZoomAround(sx, sy, zoom float64) (x, y float64) {
	wx, wy := c.ScreenToWorld(sx, sy)
	if zoom <= 0 || math.IsNaN(zoom) || math.IsInf(zoom, 0) {
		return c.X, c.Y
	}
	cx := c.Viewport.X + c.Viewport.Width/2
	cy := c.Viewport.Y + c.Viewport.Height/2
	dy := (sy - cy) / zoom
	if c.FlipY {
		dy = -dy
	}
	return wx - (sx-cx)/zoom, wy - dy
}

// PanBy returns the centre after dragging the map by (dx, dy) pixels.
func (c *Camera) PanBy(dx, dy float64) (x, y float64) {
	if c.FlipY {
		dy = -dy
	}
	return c.X - dx/c.Zoom, c.Y - dy/c.Zoom
}
