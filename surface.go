package willowmap

// Container is the surface's handle for the tiles of one layer at one scale.
type Container interface {
	Layer() string
	Scale() float64
}

// Surface is the drawing surface the coordinator renders into. All methods
// are called on the loop and must not block.
type Surface interface {
	// NewContainer creates a hidden container placed behind all others.
	NewContainer(layer string, scale float64) Container
	Show(c Container)
	Hide(c Container)
	BringToFront(c Container)
	// SetTranslation centres the viewport on a layer-space point.
	SetTranslation(x, y float64)
	// SetScale sets screen pixels per layer unit.
	SetScale(factor float64)
	// Paint draws a resolved tile into c.
	Paint(c Container, tile *Tile) error
	// Remove destroys c and everything painted into it.
	Remove(c Container)
}
