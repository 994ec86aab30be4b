package willowmap

import (
	"container/list"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
)

// Options configures a RenderCoordinator.
type Options struct {
	Config  Config
	Logger  zerolog.Logger
	Metrics *Metrics
	// Spawn runs a blocking fetch off the loop. Nil starts a goroutine.
	Spawn func(func())
	// OnScaleRendered fires when a navigation's scale is fully resolved on
	// every layer and its animation has completed.
	OnScaleRendered func(scale float64)
	// OnNavigationComplete fires once per animation run.
	OnNavigationComplete func()
}

type layerState struct {
	layer  *Layer
	scales map[float64]ScaleRenderer
	// lru orders scales by last use, most recent at the front.
	lru   *list.List
	elems map[float64]*list.Element
	// visible is the scale whose container is shown on top.
	visible    float64
	hasVisible bool
}

// pendingFetch is the debounced fetch waiting for its timer.
type pendingFetch struct {
	scale  float64
	origin orb.Point
	codes  map[string]map[TileCode]struct{}
}

// RenderCoordinator owns the scale caches of every layer and the navigation
// animator. It debounces tile fetches behind navigation and swaps the
// visible scale once the new scale is rendered and the animation is over.
//
// A coordinator belongs to one Loop; call its methods only on that loop
// (from the host's update callback or a function posted to the loop).
type RenderCoordinator struct {
	loop    *Loop
	surface Surface
	cfg     Config
	log     zerolog.Logger
	metrics *Metrics
	env     *rendererEnv

	onScaleRendered      func(float64)
	onNavigationComplete func()

	layers map[string]*layerState
	order  []string

	anim *NavigationAnimator

	hasView bool
	target  ViewState
	bounds  orb.Bound

	// epoch numbers navigations; flushed and swapped record the epoch whose
	// fetch was issued and whose swap was committed.
	epoch    uint64
	flushed  uint64
	swapped  uint64
	rendered bool
	animDone bool
	flushing bool

	pending *pendingFetch
	timer   *Timer
}

// NewRenderCoordinator creates a coordinator drawing into surface.
func NewRenderCoordinator(loop *Loop, surface Surface, opts Options) (*RenderCoordinator, error) {
	if loop == nil || surface == nil {
		return nil, fmt.Errorf("%w: coordinator needs a loop and a surface", ErrInvalidConfig)
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	spawn := opts.Spawn
	if spawn == nil {
		spawn = func(fn func()) { go fn() }
	}
	log := opts.Logger.With().Str("component", "coordinator").Logger()

	c := &RenderCoordinator{
		loop:                 loop,
		surface:              surface,
		cfg:                  opts.Config,
		log:                  log,
		metrics:              opts.Metrics,
		onScaleRendered:      opts.OnScaleRendered,
		onNavigationComplete: opts.OnNavigationComplete,
		layers:               make(map[string]*layerState),
	}
	c.env = &rendererEnv{
		loop:    loop,
		surface: surface,
		spawn:   spawn,
		cfg:     opts.Config,
		metrics: opts.Metrics,
		log:     log,
	}
	c.anim = NewNavigationAnimator(opts.Config.interpolation(), c.applyFrame, c.navigationComplete, log)
	return c, nil
}

// AddLayer registers a layer. If a view is active its tiles are requested
// right away.
func (c *RenderCoordinator) AddLayer(layer *Layer) error {
	if layer == nil {
		return fmt.Errorf("%w: nil layer", ErrInvalidConfig)
	}
	if err := layer.validate(); err != nil {
		return err
	}
	if _, ok := c.layers[layer.ID]; ok {
		return fmt.Errorf("add layer %s: %w", layer.ID, ErrDuplicateLayer)
	}
	c.layers[layer.ID] = &layerState{
		layer:  layer,
		scales: make(map[float64]ScaleRenderer),
		lru:    list.New(),
		elems:  make(map[float64]*list.Element),
	}
	c.order = append(c.order, layer.ID)
	c.log.Info().Str("layer", layer.ID).Stringer("kind", layer.Kind).Msg("layer added")

	if c.hasView {
		c.requestNow(c.layers[layer.ID])
	}
	return nil
}

// RemoveLayer destroys every scale of a layer and forgets it.
func (c *RenderCoordinator) RemoveLayer(id string) error {
	ls, ok := c.layers[id]
	if !ok {
		c.log.Warn().Str("layer", id).Msg("remove of unknown layer")
		return fmt.Errorf("remove layer %s: %w", id, ErrUnknownLayer)
	}
	c.destroyScales(ls)
	delete(c.layers, id)
	for i, o := range c.order {
		if o == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if c.pending != nil {
		delete(c.pending.codes, id)
	}
	c.log.Info().Str("layer", id).Msg("layer removed")
	c.checkRendered()
	return nil
}

// RefreshLayer discards every cached scale of a layer and re-requests the
// tiles of the current view.
func (c *RenderCoordinator) RefreshLayer(id string) error {
	ls, ok := c.layers[id]
	if !ok {
		c.log.Warn().Str("layer", id).Msg("refresh of unknown layer")
		return fmt.Errorf("refresh layer %s: %w", id, ErrUnknownLayer)
	}
	c.destroyScales(ls)
	c.log.Info().Str("layer", id).Msg("layer refreshed")
	if c.hasView {
		c.requestNow(ls)
	}
	return nil
}

// requestNow fetches the current view of one layer without debouncing, as a
// fresh navigation epoch so the result is swapped in once complete.
func (c *RenderCoordinator) requestNow(ls *layerState) {
	c.epoch++
	c.flushed = c.epoch
	c.rendered = false
	r := c.renderer(ls, c.target.Scale)
	r.Render(r.TileCodes(c.bounds), c.target.Center())
	c.checkRendered()
}

// Layers returns the registered layer IDs in insertion order.
func (c *RenderCoordinator) Layers() []string {
	return append([]string(nil), c.order...)
}

// NavigateTo moves the view to bounds at scale, animating over duration.
// Tile fetches for the new scale are debounced behind the animation. A call
// while a navigation is running extends it and adds its tiles to the
// pending fetch.
func (c *RenderCoordinator) NavigateTo(bounds orb.Bound, scale float64, duration time.Duration) {
	if !(scale > 0) || math.IsInf(scale, 0) {
		c.log.Warn().Float64("scale", scale).Msg("navigation to invalid scale ignored")
		return
	}
	to := ViewState{Scale: scale, X: (bounds.Min[0] + bounds.Max[0]) / 2, Y: (bounds.Min[1] + bounds.Max[1]) / 2}
	from := c.anim.Current()
	if !c.hasView {
		from = to
	}

	c.epoch++
	c.hasView = true
	c.target = to
	c.bounds = bounds
	c.rendered = false
	c.animDone = false

	c.schedule(bounds, to, duration)

	animate := c.cfg.AnimationEnabled && duration > 0
	switch {
	case !animate:
		c.metrics.IncNavigation("jump")
		c.anim.Cancel()
		c.anim.Start(from, to, 0)
	case c.anim.Running():
		c.metrics.IncNavigation("extend")
		c.anim.Extend(to, duration)
	default:
		c.metrics.IncNavigation("start")
		c.anim.Start(from, to, duration)
	}
}

// schedule merges the view's tile codes into the pending fetch and arms the
// single debounce timer.
func (c *RenderCoordinator) schedule(bounds orb.Bound, to ViewState, duration time.Duration) {
	if c.pending == nil || c.pending.scale != to.Scale {
		if c.pending != nil {
			c.log.Debug().Float64("scale", c.pending.scale).Msg("pending fetch superseded")
		}
		c.pending = &pendingFetch{scale: to.Scale, codes: make(map[string]map[TileCode]struct{})}
	}
	c.pending.origin = to.Center()
	for _, id := range c.order {
		ls := c.layers[id]
		level := tileLevelFor(ls.layer.Extent, to.Scale, c.cfg.maxLevel())
		set := c.pending.codes[id]
		if set == nil {
			set = make(map[TileCode]struct{})
			c.pending.codes[id] = set
		}
		for _, code := range TileCodesForView(level, ls.layer.Extent, bounds) {
			set[code] = struct{}{}
		}
	}

	delay := c.fetchDelay(duration)
	if delay <= 0 {
		if c.timer != nil {
			c.timer.Stop()
		}
		c.flush()
		return
	}
	if c.timer == nil {
		c.timer = c.loop.AfterFunc(delay, c.flush)
	} else {
		c.timer.Reset(delay)
	}
}

func (c *RenderCoordinator) fetchDelay(duration time.Duration) time.Duration {
	if !c.cfg.AnimationEnabled || duration <= c.cfg.FetchDelay {
		return 0
	}
	return min(c.cfg.FetchDelay, duration)
}

// flush issues the pending fetch.
func (c *RenderCoordinator) flush() {
	p := c.pending
	c.pending = nil
	if p == nil {
		return
	}
	c.flushed = c.epoch
	c.flushing = true
	for _, id := range c.order {
		codes := p.codes[id]
		ls := c.layers[id]
		r := c.renderer(ls, p.scale)
		if n := r.Render(sortedCodes(codes), p.origin); n > 0 {
			c.log.Debug().Str("layer", id).Float64("scale", p.scale).Int("tiles", n).Msg("tiles requested")
		}
	}
	c.flushing = false
	c.checkRendered()
}

// renderer returns the layer's renderer for scale, creating it and evicting
// the least recently used scale when over the limit.
func (c *RenderCoordinator) renderer(ls *layerState, scale float64) ScaleRenderer {
	if r, ok := ls.scales[scale]; ok {
		ls.lru.MoveToFront(ls.elems[scale])
		return r
	}
	id := ls.layer.ID
	r := newScaleRenderer(c.env, ls.layer, scale, func(ev ScaleRendered) {
		c.scaleLevelRendered(id, ev)
	})
	ls.scales[scale] = r
	ls.elems[scale] = ls.lru.PushFront(scale)
	c.surface.Show(r.Container())
	c.evict(ls)
	return r
}

func (c *RenderCoordinator) evict(ls *layerState) {
	limit := c.cfg.MaxCachedScales
	if limit <= 0 {
		return
	}
	for e := ls.lru.Back(); e != nil && ls.lru.Len() > limit; {
		prev := e.Prev()
		scale := e.Value.(float64)
		if !(ls.hasVisible && scale == ls.visible) && scale != c.target.Scale {
			ls.scales[scale].Destroy()
			delete(ls.scales, scale)
			delete(ls.elems, scale)
			ls.lru.Remove(e)
			c.log.Debug().Str("layer", ls.layer.ID).Float64("scale", scale).Msg("scale evicted")
		}
		e = prev
	}
}

func (c *RenderCoordinator) destroyScales(ls *layerState) {
	for scale, r := range ls.scales {
		r.Destroy()
		delete(ls.scales, scale)
		delete(ls.elems, scale)
	}
	ls.lru.Init()
	ls.hasVisible = false
}

func (c *RenderCoordinator) scaleLevelRendered(layer string, ev ScaleRendered) {
	c.metrics.IncScaleRendered()
	c.log.Debug().Str("layer", layer).Float64("scale", ev.Scale).Uint64("batch", ev.Batch).
		Int("errors", len(ev.Errors)).Msg("scale level rendered")
	if c.flushing || ev.Scale != c.target.Scale {
		return
	}
	c.checkRendered()
}

// checkRendered marks the current navigation rendered once its fetch has
// been issued and every layer's renderer at the target scale is complete.
// With no layers nothing is rendered and nothing fires.
func (c *RenderCoordinator) checkRendered() {
	if !c.hasView || c.flushed != c.epoch || c.pending != nil || len(c.order) == 0 {
		return
	}
	for _, id := range c.order {
		r, ok := c.layers[id].scales[c.target.Scale]
		if !ok || !r.IsComplete() {
			return
		}
	}
	c.rendered = true
	c.trySwap()
}

func (c *RenderCoordinator) navigationComplete() {
	c.animDone = true
	if c.onNavigationComplete != nil {
		c.onNavigationComplete()
	}
	c.trySwap()
}

// trySwap commits the visibility swap when both the render and the
// animation of the current navigation are done.
func (c *RenderCoordinator) trySwap() {
	if !c.rendered || !c.animDone || c.swapped == c.epoch {
		return
	}
	c.swapped = c.epoch
	scale := c.target.Scale
	for _, id := range c.order {
		ls := c.layers[id]
		r, ok := ls.scales[scale]
		if !ok {
			continue
		}
		c.surface.BringToFront(r.Container())
		c.surface.Show(r.Container())
		for s, other := range ls.scales {
			if s != scale {
				c.surface.Hide(other.Container())
			}
		}
		ls.visible = scale
		ls.hasVisible = true
	}
	c.log.Debug().Float64("scale", scale).Uint64("epoch", c.epoch).Msg("scale swapped in")
	if c.onScaleRendered != nil {
		c.onScaleRendered(scale)
	}
}

func (c *RenderCoordinator) applyFrame(v ViewState) {
	c.surface.SetScale(v.Scale)
	c.surface.SetTranslation(v.X, v.Y)
}

// Stop cancels the running animation. In-flight fetches continue and still
// fill their caches; no swap happens until the next navigation completes.
func (c *RenderCoordinator) Stop() {
	c.anim.Cancel()
}

// Update is the frame tick: it runs due loop work and advances the
// animation by dt.
func (c *RenderCoordinator) Update(dt time.Duration) {
	c.loop.Advance(dt)
	c.anim.Update(dt)
}

// View returns the navigation target.
func (c *RenderCoordinator) View() ViewState { return c.target }

// Bounds returns the view bounds of the navigation target.
func (c *RenderCoordinator) Bounds() orb.Bound { return c.bounds }

// Navigation returns a snapshot of the animator.
func (c *RenderCoordinator) Navigation() NavigationState { return c.anim.State() }

// Renderer returns a layer's renderer at scale.
func (c *RenderCoordinator) Renderer(layer string, scale float64) (ScaleRenderer, bool) {
	ls, ok := c.layers[layer]
	if !ok {
		return nil, false
	}
	r, ok := ls.scales[scale]
	return r, ok
}

// Scales returns the cached scales of a layer in ascending order.
func (c *RenderCoordinator) Scales(layer string) []float64 {
	ls, ok := c.layers[layer]
	if !ok {
		return nil
	}
	scales := make([]float64, 0, len(ls.scales))
	for s := range ls.scales {
		scales = append(scales, s)
	}
	sort.Float64s(scales)
	return scales
}

// Errors lists the failed tiles of a layer at the target scale.
func (c *RenderCoordinator) Errors(layer string) ([]*TileError, error) {
	ls, ok := c.layers[layer]
	if !ok {
		return nil, fmt.Errorf("errors of layer %s: %w", layer, ErrUnknownLayer)
	}
	r, ok := ls.scales[c.target.Scale]
	if !ok {
		return nil, nil
	}
	return r.Cache().Errors(), nil
}

// FetchPending reports whether a debounced fetch is waiting for its timer.
func (c *RenderCoordinator) FetchPending() bool {
	return c.timer != nil && c.timer.Armed()
}
