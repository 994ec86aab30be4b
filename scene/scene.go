package scene

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/phanxgames/willowmap"
)

// ErrForeignContainer is returned when a container created by another
// surface, or already removed, is handed to a MapScene.
var ErrForeignContainer = errors.New("scene: container not owned by this scene")

// Options configures a MapScene.
type Options struct {
	Width, Height int
	// FlipY draws layer y increasing upwards.
	FlipY bool
	// Style picks feature styles; nil means DefaultStyle.
	Style StyleFunc
	// Debug enables per-frame draw statistics on the logger and an on-screen
	// overlay.
	Debug  bool
	Logger zerolog.Logger
}

// ScaleContainer holds the painted tiles of one layer at one scale. It is
// the willowmap.Container a MapScene hands out.
type ScaleContainer struct {
	node  *Node
	layer string
	scale float64
	tiles map[willowmap.TileCode]*Node
}

func (c *ScaleContainer) Layer() string  { return c.layer }
func (c *ScaleContainer) Scale() float64 { return c.scale }

// Node returns the container's scene node.
func (c *ScaleContainer) Node() *Node { return c.node }

// TileCount returns the number of painted tiles.
func (c *ScaleContainer) TileCount() int { return len(c.tiles) }

// HasTile reports whether code has been painted.
func (c *ScaleContainer) HasTile(code willowmap.TileCode) bool {
	_, ok := c.tiles[code]
	return ok
}

// MapScene is an ebiten-backed willowmap.Surface. Scale containers are
// direct children of the root, drawn back to front; the camera follows the
// translation and scale the coordinator sets.
type MapScene struct {
	root   *Node
	camera *Camera
	style  StyleFunc
	debug  bool
	log    zerolog.Logger

	containers map[*ScaleContainer]struct{}
	stats      frameStats
	overlay    *debugOverlay
	snapshots  []snapshotRequest
}

var _ willowmap.Surface = (*MapScene)(nil)

// NewMapScene creates an empty scene.
func NewMapScene(opts Options) *MapScene {
	style := opts.Style
	if style == nil {
		style = DefaultStyle
	}
	cam := newCamera(Rect{Width: float64(opts.Width), Height: float64(opts.Height)})
	cam.FlipY = opts.FlipY
	return &MapScene{
		root:       NewContainer("root"),
		camera:     cam,
		style:      style,
		debug:      opts.Debug,
		log:        opts.Logger.With().Str("component", "scene").Logger(),
		containers: make(map[*ScaleContainer]struct{}),
	}
}

// Root returns the scene's root node.
func (s *MapScene) Root() *Node { return s.root }

// Camera returns the scene's camera.
func (s *MapScene) Camera() *Camera { return s.camera }

// SetViewport resizes the drawing area; call it from ebiten's Layout.
func (s *MapScene) SetViewport(width, height int) {
	s.camera.SetViewport(Rect{Width: float64(width), Height: float64(height)})
}

// Containers returns the live containers back to front.
func (s *MapScene) Containers() []*ScaleContainer {
	out := make([]*ScaleContainer, 0, len(s.containers))
	for _, child := range s.root.children {
		for c := range s.containers {
			if c.node == child {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// NewContainer creates a hidden container behind all others.
func (s *MapScene) NewContainer(layer string, scale float64) willowmap.Container {
	c := &ScaleContainer{
		node:  NewContainer(fmt.Sprintf("%s@%g", layer, scale)),
		layer: layer,
		scale: scale,
		tiles: make(map[willowmap.TileCode]*Node),
	}
	c.node.Visible = false
	s.root.AddChildAt(c.node, 0)
	s.containers[c] = struct{}{}
	return c
}

func (s *MapScene) own(c willowmap.Container) (*ScaleContainer, bool) {
	sc, ok := c.(*ScaleContainer)
	if !ok {
		return nil, false
	}
	if _, live := s.containers[sc]; !live {
		return nil, false
	}
	return sc, true
}

// Show makes c visible.
func (s *MapScene) Show(c willowmap.Container) {
	if sc, ok := s.own(c); ok {
		sc.node.Visible = true
	}
}

// Hide makes c invisible; its tiles are kept.
func (s *MapScene) Hide(c willowmap.Container) {
	if sc, ok := s.own(c); ok {
		sc.node.Visible = false
	}
}

// BringToFront draws c above every other container.
func (s *MapScene) BringToFront(c willowmap.Container) {
	if sc, ok := s.own(c); ok {
		s.root.SetChildIndex(sc.node, len(s.root.children)-1)
	}
}

// SetTranslation centres the camera on a layer-space point.
func (s *MapScene) SetTranslation(x, y float64) {
	s.camera.SetCenter(x, y)
}

// SetScale sets the camera zoom in pixels per layer unit.
func (s *MapScene) SetScale(factor float64) {
	s.camera.SetZoom(factor)
}

// Paint draws tile into c, replacing an earlier painting of the same code.
func (s *MapScene) Paint(c willowmap.Container, tile *willowmap.Tile) error {
	sc, ok := s.own(c)
	if !ok {
		return ErrForeignContainer
	}
	var (
		node *Node
		err  error
	)
	if tile.Image != nil {
		node, err = paintRaster(tile, s.camera.FlipY)
		if err != nil {
			return err
		}
	} else {
		node = paintVector(sc.layer, tile, s.style)
	}
	if old, ok := sc.tiles[tile.Code]; ok {
		old.Dispose()
	}
	sc.tiles[tile.Code] = node
	sc.node.AddChild(node)
	s.log.Trace().
		Str("layer", sc.layer).
		Float64("scale", sc.scale).
		Stringer("tile", tile.Code).
		Int("features", len(tile.Features)).
		Msg("tile painted")
	return nil
}

// Remove destroys c and its tiles.
func (s *MapScene) Remove(c willowmap.Container) {
	sc, ok := s.own(c)
	if !ok {
		return
	}
	delete(s.containers, sc)
	sc.node.Dispose()
	sc.tiles = nil
}
