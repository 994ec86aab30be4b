package willowmap

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
)

type fakeContainer struct {
	layer   string
	scale   float64
	visible bool
	removed bool
	painted []TileCode
}

func (c *fakeContainer) Layer() string  { return c.layer }
func (c *fakeContainer) Scale() float64 { return c.scale }

// fakeSurface records containers back to front.
type fakeSurface struct {
	stack    []*fakeContainer
	scale    float64
	x, y     float64
	paintErr error
}

func (s *fakeSurface) NewContainer(layer string, scale float64) Container {
	c := &fakeContainer{layer: layer, scale: scale}
	s.stack = append([]*fakeContainer{c}, s.stack...)
	return c
}

func (s *fakeSurface) Show(c Container) { c.(*fakeContainer).visible = true }
func (s *fakeSurface) Hide(c Container) { c.(*fakeContainer).visible = false }

func (s *fakeSurface) BringToFront(c Container) {
	fc := c.(*fakeContainer)
	for i, o := range s.stack {
		if o == fc {
			s.stack = append(s.stack[:i], s.stack[i+1:]...)
			break
		}
	}
	s.stack = append(s.stack, fc)
}

func (s *fakeSurface) SetTranslation(x, y float64) { s.x, s.y = x, y }
func (s *fakeSurface) SetScale(f float64)          { s.scale = f }

func (s *fakeSurface) Paint(c Container, tile *Tile) error {
	if s.paintErr != nil {
		return s.paintErr
	}
	fc := c.(*fakeContainer)
	if fc.removed {
		panic("paint into removed container")
	}
	fc.painted = append(fc.painted, tile.Code)
	return nil
}

func (s *fakeSurface) Remove(c Container) { c.(*fakeContainer).removed = true }

func (s *fakeSurface) find(layer string, scale float64) *fakeContainer {
	for _, c := range s.stack {
		if c.layer == layer && c.scale == scale && !c.removed {
			return c
		}
	}
	return nil
}

func (s *fakeSurface) top() *fakeContainer {
	return s.stack[len(s.stack)-1]
}

// fakeSource serves features intersecting the query box and records
// every queried box.
type fakeSource struct {
	mu       sync.Mutex
	features []*Feature
	fail     map[orb.Bound]error
	queries  []orb.Bound
}

func (s *fakeSource) Query(ctx context.Context, q Query) ([]*Feature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q.Bounds)
	if err := s.fail[q.Bounds]; err != nil {
		return nil, err
	}
	var out []*Feature
	for _, f := range s.features {
		if f.Geometry.Bound().Intersects(q.Bounds) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *fakeSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queries)
}

func (s *fakeSource) queried(b orb.Bound) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.queries {
		if q == b {
			return true
		}
	}
	return false
}

// manualSpawn holds fetches until run is called.
type manualSpawn struct {
	fns []func()
}

func (m *manualSpawn) spawn(fn func()) { m.fns = append(m.fns, fn) }

func (m *manualSpawn) run() {
	fns := m.fns
	m.fns = nil
	for _, fn := range fns {
		fn()
	}
}

type coordFixture struct {
	loop      *Loop
	surface   *fakeSurface
	source    *fakeSource
	coord     *RenderCoordinator
	rendered  []float64
	navigated int
}

var testExtent = bound(0, 0, 1024, 1024)

func newCoordFixture(t *testing.T, cfg Config, spawn func(func())) *coordFixture {
	t.Helper()
	if spawn == nil {
		spawn = func(fn func()) { fn() }
	}
	fx := &coordFixture{
		loop:    NewLoop(),
		surface: &fakeSurface{},
		source:  &fakeSource{},
	}
	coord, err := NewRenderCoordinator(fx.loop, fx.surface, Options{
		Config:               cfg,
		Logger:               zerolog.Nop(),
		Metrics:              NewMetrics(),
		Spawn:                spawn,
		OnScaleRendered:      func(s float64) { fx.rendered = append(fx.rendered, s) },
		OnNavigationComplete: func() { fx.navigated++ },
	})
	if err != nil {
		t.Fatal(err)
	}
	fx.coord = coord
	if err := coord.AddLayer(&Layer{ID: "roads", Extent: testExtent, Source: fx.source}); err != nil {
		t.Fatal(err)
	}
	return fx
}

func noAnimation() Config {
	cfg := DefaultConfig()
	cfg.AnimationEnabled = false
	return cfg
}

func TestNavigateDebouncesIntoOneBatch(t *testing.T) {
	fx := newCoordFixture(t, DefaultConfig(), nil)

	fx.coord.NavigateTo(bound(0, 0, 400, 400), 0.6, time.Second)
	fx.coord.Update(100 * time.Millisecond)
	fx.coord.NavigateTo(bound(600, 0, 900, 400), 0.6, time.Second)

	if fx.source.count() != 0 {
		t.Fatalf("fetched %d tiles inside the debounce window", fx.source.count())
	}
	if !fx.coord.FetchPending() || fx.loop.Pending() != 1 {
		t.Fatalf("pending = %v, loop work = %d, want one timer", fx.coord.FetchPending(), fx.loop.Pending())
	}
	if st := fx.coord.Navigation(); !st.Running || st.CurrentScale != 0.6 {
		t.Errorf("navigation = %+v", st)
	}

	fx.coord.Update(350 * time.Millisecond)

	want := []orb.Bound{
		TileBounds(TileCode{1, 0, 0}, testExtent),
		TileBounds(TileCode{1, 1, 0}, testExtent),
	}
	got := append([]orb.Bound(nil), fx.source.queries...)
	sort.Slice(got, func(i, j int) bool { return got[i].Min[0] < got[j].Min[0] })
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("queries mismatch (-want +got):\n%s", diff)
	}
	if len(fx.rendered) != 0 {
		t.Fatal("swapped before the animation completed")
	}

	fx.coord.Update(time.Second)
	if diff := cmp.Diff([]float64{0.6}, fx.rendered); diff != "" {
		t.Errorf("rendered mismatch (-want +got):\n%s", diff)
	}
	if fx.navigated != 1 {
		t.Errorf("navigation completed %d times, want 1", fx.navigated)
	}
	if fx.surface.scale != 0.6 || fx.surface.x != 750 || fx.surface.y != 200 {
		t.Errorf("surface at scale %v (%v, %v)", fx.surface.scale, fx.surface.x, fx.surface.y)
	}
}

func TestNavigateToNewScaleReplacesPending(t *testing.T) {
	fx := newCoordFixture(t, DefaultConfig(), nil)

	fx.coord.NavigateTo(bound(0, 0, 400, 400), 0.6, time.Second)
	fx.coord.Update(50 * time.Millisecond)
	fx.coord.NavigateTo(bound(0, 0, 200, 200), 1.2, time.Second)
	fx.coord.Update(2 * time.Second)

	if diff := cmp.Diff([]float64{1.2}, fx.coord.Scales("roads")); diff != "" {
		t.Errorf("scales mismatch (-want +got):\n%s", diff)
	}
	if fx.source.queried(TileBounds(TileCode{1, 0, 0}, testExtent)) {
		t.Error("transient scale was fetched")
	}
	if diff := cmp.Diff([]float64{1.2}, fx.rendered); diff != "" {
		t.Errorf("rendered mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderedFiresOnceDespiteFailures(t *testing.T) {
	fx := newCoordFixture(t, noAnimation(), nil)
	bad := TileBounds(TileCode{1, 1, 0}, testExtent)
	fx.source.fail = map[orb.Bound]error{bad: errors.New("timeout")}

	fx.coord.NavigateTo(bound(0, 0, 1024, 400), 0.6, 0)
	fx.loop.Drain()

	if diff := cmp.Diff([]float64{0.6}, fx.rendered); diff != "" {
		t.Errorf("rendered mismatch (-want +got):\n%s", diff)
	}
	errs, err := fx.coord.Errors("roads")
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 1 || errs[0].Code != (TileCode{1, 1, 0}) {
		t.Errorf("errors = %v", errs)
	}
	c := fx.surface.find("roads", 0.6)
	if diff := cmp.Diff([]TileCode{{1, 0, 0}}, c.painted); diff != "" {
		t.Errorf("painted mismatch (-want +got):\n%s", diff)
	}

	fx.coord.NavigateTo(bound(0, 0, 1024, 400), 0.6, 0)
	fx.loop.Drain()
	if fx.source.count() != 2 {
		t.Errorf("failed tile retried: %d queries", fx.source.count())
	}
}

func TestSwapWaitsForRenderAfterAnimation(t *testing.T) {
	spawn := &manualSpawn{}
	fx := newCoordFixture(t, DefaultConfig(), spawn.spawn)

	fx.coord.NavigateTo(bound(0, 0, 400, 400), 0.6, 200*time.Millisecond)
	if len(spawn.fns) != 1 {
		t.Fatalf("short navigation spawned %d fetches, want 1 immediately", len(spawn.fns))
	}
	fx.coord.Update(time.Second)
	if fx.navigated != 1 || len(fx.rendered) != 0 {
		t.Fatalf("navigated = %d, rendered = %v", fx.navigated, fx.rendered)
	}

	spawn.run()
	fx.coord.Update(0)
	if diff := cmp.Diff([]float64{0.6}, fx.rendered); diff != "" {
		t.Errorf("rendered mismatch (-want +got):\n%s", diff)
	}
}

func TestJumpWithoutAnimation(t *testing.T) {
	fx := newCoordFixture(t, noAnimation(), nil)

	fx.coord.NavigateTo(bound(0, 0, 400, 400), 0.6, 5*time.Second)

	if fx.surface.scale != 0.6 || fx.navigated != 1 {
		t.Fatalf("scale = %v, navigated = %d", fx.surface.scale, fx.navigated)
	}
	if fx.coord.FetchPending() {
		t.Fatal("fetch delayed with animation disabled")
	}
	fx.loop.Drain()
	if len(fx.rendered) != 1 {
		t.Errorf("rendered = %v", fx.rendered)
	}
}

func TestSwapShowsNewScaleOnTop(t *testing.T) {
	fx := newCoordFixture(t, noAnimation(), nil)

	fx.coord.NavigateTo(bound(0, 0, 400, 400), 0.3, 0)
	fx.loop.Drain()
	fx.coord.NavigateTo(bound(0, 0, 400, 400), 0.6, 0)
	fx.loop.Drain()

	oldC, newC := fx.surface.find("roads", 0.3), fx.surface.find("roads", 0.6)
	if fx.surface.top() != newC {
		t.Error("new scale is not on top")
	}
	if !newC.visible || oldC.visible {
		t.Errorf("visible: new = %v, old = %v", newC.visible, oldC.visible)
	}
}

func TestDependentTilesFollowedOneHop(t *testing.T) {
	fx := newCoordFixture(t, noAnimation(), nil)
	fx.source.features = []*Feature{
		{ID: "road", Geometry: orb.LineString{{100, 100}, {700, 100}}},
		{ID: "river", Geometry: orb.LineString{{700, 100}, {700, 700}}},
	}

	fx.coord.NavigateTo(bound(0, 0, 400, 400), 0.6, 0)
	fx.loop.Drain()

	r, ok := fx.coord.Renderer("roads", 0.6)
	if !ok {
		t.Fatal("no renderer at 0.6")
	}
	cache := r.Cache()
	if cache.State(TileCode{1, 1, 0}) != TileLoaded {
		t.Errorf("dependent tile state = %v, want loaded", cache.State(TileCode{1, 1, 0}))
	}
	if cache.State(TileCode{1, 1, 1}) != TileAbsent {
		t.Errorf("second-hop tile state = %v, want absent", cache.State(TileCode{1, 1, 1}))
	}
	tile, _ := cache.Tile(TileCode{1, 1, 0})
	if len(tile.Features) != 1 || tile.Features[0].ID != "river" {
		t.Errorf("dependent tile features = %v", tile.Features)
	}
	if len(fx.rendered) != 1 {
		t.Errorf("rendered = %v, want one batch including dependents", fx.rendered)
	}
}

func TestScaleEviction(t *testing.T) {
	cfg := noAnimation()
	cfg.MaxCachedScales = 2
	fx := newCoordFixture(t, cfg, nil)

	for _, s := range []float64{0.3, 0.6, 1.2} {
		fx.coord.NavigateTo(bound(0, 0, 400, 400), s, 0)
		fx.loop.Drain()
	}

	if diff := cmp.Diff([]float64{0.6, 1.2}, fx.coord.Scales("roads")); diff != "" {
		t.Errorf("scales mismatch (-want +got):\n%s", diff)
	}
	for _, c := range fx.surface.stack {
		if c.scale == 0.3 && !c.removed {
			t.Error("evicted scale container not removed")
		}
	}
}

func TestRemoveLayerDropsLateResults(t *testing.T) {
	spawn := &manualSpawn{}
	fx := newCoordFixture(t, noAnimation(), spawn.spawn)

	fx.coord.NavigateTo(bound(0, 0, 400, 400), 0.6, 0)
	if err := fx.coord.RemoveLayer("roads"); err != nil {
		t.Fatal(err)
	}
	spawn.run()
	fx.loop.Drain()

	if len(fx.coord.Layers()) != 0 {
		t.Errorf("Layers = %v", fx.coord.Layers())
	}
	if err := fx.coord.RemoveLayer("roads"); !errors.Is(err, ErrUnknownLayer) {
		t.Errorf("second remove = %v, want ErrUnknownLayer", err)
	}
}

func TestRemoveLastLayerFiresNothing(t *testing.T) {
	spawn := &manualSpawn{}
	fx := newCoordFixture(t, noAnimation(), spawn.spawn)

	fx.coord.NavigateTo(bound(0, 0, 400, 400), 0.6, 0)
	if fx.navigated != 1 {
		t.Fatalf("navigated = %d, want 1", fx.navigated)
	}
	if err := fx.coord.RemoveLayer("roads"); err != nil {
		t.Fatal(err)
	}
	spawn.run()
	fx.coord.Update(time.Second)

	if len(fx.rendered) != 0 {
		t.Errorf("rendered = %v with no layers left", fx.rendered)
	}
}

func TestStopKeepsFetchesAndSkipsSwap(t *testing.T) {
	spawn := &manualSpawn{}
	fx := newCoordFixture(t, DefaultConfig(), spawn.spawn)

	fx.coord.NavigateTo(bound(0, 0, 400, 400), 0.6, time.Second)
	fx.coord.Update(400 * time.Millisecond)
	if len(spawn.fns) == 0 {
		t.Fatal("fetch not issued after the debounce delay")
	}
	fx.coord.Stop()
	spawn.run()
	fx.coord.Update(2 * time.Second)

	if fx.navigated != 0 {
		t.Errorf("navigation completed %d times after stop", fx.navigated)
	}
	if len(fx.rendered) != 0 {
		t.Errorf("rendered = %v, want no swap after stop", fx.rendered)
	}
	if fx.coord.Navigation().Running {
		t.Error("navigation still running after stop")
	}
	r, ok := fx.coord.Renderer("roads", 0.6)
	if !ok {
		t.Fatal("no renderer at the stopped scale")
	}
	if _, ok := r.Cache().Tile(TileCode{1, 0, 0}); !ok {
		t.Error("late fetch did not fill the cache")
	}
}

func TestRefreshLayerRefetches(t *testing.T) {
	fx := newCoordFixture(t, noAnimation(), nil)
	fx.coord.NavigateTo(bound(0, 0, 400, 400), 0.6, 0)
	fx.loop.Drain()
	old := fx.surface.find("roads", 0.6)

	if err := fx.coord.RefreshLayer("roads"); err != nil {
		t.Fatal(err)
	}
	fx.loop.Drain()

	if !old.removed {
		t.Error("old container kept after refresh")
	}
	if fx.source.count() != 2 {
		t.Errorf("queries = %d, want 2", fx.source.count())
	}
	if diff := cmp.Diff([]float64{0.6, 0.6}, fx.rendered); diff != "" {
		t.Errorf("rendered mismatch (-want +got):\n%s", diff)
	}
	if c := fx.surface.find("roads", 0.6); c == nil || !c.visible {
		t.Error("refreshed scale not visible")
	}
}

func TestAddLayerValidation(t *testing.T) {
	fx := newCoordFixture(t, DefaultConfig(), nil)

	err := fx.coord.AddLayer(&Layer{ID: "roads", Extent: testExtent, Source: fx.source})
	if !errors.Is(err, ErrDuplicateLayer) {
		t.Errorf("duplicate = %v", err)
	}
	if err := fx.coord.AddLayer(&Layer{ID: "sat", Kind: RasterLayer, Extent: testExtent}); !errors.Is(err, ErrNoSource) {
		t.Errorf("raster without source = %v", err)
	}
	if _, err := fx.coord.Errors("nope"); !errors.Is(err, ErrUnknownLayer) {
		t.Errorf("Errors(unknown) = %v", err)
	}
}

func TestRasterLayer(t *testing.T) {
	fx := newCoordFixture(t, noAnimation(), nil)
	var queries []RasterQuery
	raster := RasterSourceFunc(func(_ context.Context, q RasterQuery) ([]byte, error) {
		queries = append(queries, q)
		return []byte("png"), nil
	})
	if err := fx.coord.AddLayer(&Layer{ID: "sat", Kind: RasterLayer, Extent: testExtent, Raster: raster}); err != nil {
		t.Fatal(err)
	}

	fx.coord.NavigateTo(bound(0, 0, 400, 400), 0.6, 0)
	fx.loop.Drain()

	if len(queries) != 1 {
		t.Fatalf("raster queries = %d, want 1", len(queries))
	}
	if queries[0].Width != 307 || queries[0].Height != 307 {
		t.Errorf("raster size = %dx%d, want 307x307", queries[0].Width, queries[0].Height)
	}
	r, _ := fx.coord.Renderer("sat", 0.6)
	tile, ok := r.Cache().Tile(TileCode{1, 0, 0})
	if !ok || string(tile.Image) != "png" {
		t.Errorf("raster tile = %+v", tile)
	}
	if len(fx.rendered) != 1 {
		t.Errorf("rendered = %v, want one swap across both layers", fx.rendered)
	}
}

func TestPaintFailureCountsAsTileError(t *testing.T) {
	fx := newCoordFixture(t, noAnimation(), nil)
	fx.surface.paintErr = errors.New("gpu lost")

	fx.coord.NavigateTo(bound(0, 0, 400, 400), 0.6, 0)
	fx.loop.Drain()

	errs, _ := fx.coord.Errors("roads")
	if len(errs) != 1 || len(fx.rendered) != 1 {
		t.Errorf("errors = %v, rendered = %v", errs, fx.rendered)
	}
}

func TestNavigateToInvalidScaleIgnored(t *testing.T) {
	fx := newCoordFixture(t, noAnimation(), nil)
	fx.coord.NavigateTo(bound(0, 0, 10, 10), 0, 0)
	if fx.navigated != 0 || fx.source.count() != 0 {
		t.Errorf("navigated = %d, queries = %d", fx.navigated, fx.source.count())
	}
}
