package willowmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
)

func newTestTile(code TileCode, extent orb.Bound) *Tile {
	return NewTile(code, extent, 1)
}

func TestAssignOwnedFeatureRecordsDependent(t *testing.T) {
	extent := bound(0, 0, 1000, 1000)
	tile := newTestTile(TileCode{1, 0, 0}, extent)
	f := &Feature{ID: "road", Geometry: orb.LineString{{5, 5}, {600, 5}}}

	stats := AssignFeatures(tile, []*Feature{f}, AssignOptions{Extent: extent, Scale: 0.1})

	if len(tile.Features) != 1 || tile.Features[0] != f {
		t.Fatalf("Features = %v, want the road", tile.Features)
	}
	if diff := cmp.Diff([]TileCode{{1, 1, 0}}, tile.DependentCodes()); diff != "" {
		t.Errorf("dependents mismatch (-want +got):\n%s", diff)
	}
	if stats.Owned != 1 || stats.Dependents != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAssignForeignFeatureRecordsOwner(t *testing.T) {
	extent := bound(0, 0, 1000, 1000)
	tile := newTestTile(TileCode{1, 0, 0}, extent)
	f := &Feature{ID: "road", Geometry: orb.LineString{{600, 5}, {5, 5}}}

	stats := AssignFeatures(tile, []*Feature{f}, AssignOptions{Extent: extent, Scale: 0.1})

	if len(tile.Features) != 0 {
		t.Errorf("foreign feature was added: %v", tile.Features)
	}
	if !tile.HasDependent(TileCode{1, 1, 0}) {
		t.Errorf("owner tile not recorded, dependents = %v", tile.DependentCodes())
	}
	if stats.Foreign != 1 {
		t.Errorf("Foreign = %d, want 1", stats.Foreign)
	}
}

func TestAssignSkipsEmptyGeometry(t *testing.T) {
	extent := bound(0, 0, 1000, 1000)
	tile := newTestTile(TileCode{0, 0, 0}, extent)
	candidates := []*Feature{
		nil,
		{ID: "nil"},
		{ID: "empty", Geometry: orb.LineString{}},
		{ID: "empty polygon", Geometry: orb.Polygon{}},
		{ID: "ok", Geometry: orb.Point{1, 1}},
	}

	stats := AssignFeatures(tile, candidates, AssignOptions{Extent: extent, Scale: 1})

	if len(tile.Features) != 1 || tile.Features[0].ID != "ok" {
		t.Errorf("Features = %v, want only ok", tile.Features)
	}
	if stats.Skipped != 4 {
		t.Errorf("Skipped = %d, want 4", stats.Skipped)
	}
}

func TestAssignSingleOwnership(t *testing.T) {
	extent := bound(0, 0, 1000, 1000)
	features := []*Feature{
		{ID: "a", Geometry: orb.Point{10, 10}},
		{ID: "b", Geometry: orb.LineString{{900, 10}, {10, 900}}},
		{ID: "c", Geometry: orb.Polygon{{{400, 400}, {600, 400}, {600, 600}, {400, 600}, {400, 400}}}},
		{ID: "d", Geometry: orb.MultiPoint{{999, 999}, {1, 1}}},
		{ID: "e", Geometry: orb.Point{500, 500}},
	}

	seen := make(map[string]TileCode)
	for _, code := range TileCodesForView(1, extent, extent) {
		tile := newTestTile(code, extent)
		AssignFeatures(tile, features, AssignOptions{Extent: extent, Scale: 1})
		for _, f := range tile.Features {
			if prev, ok := seen[f.ID]; ok {
				t.Errorf("feature %s owned by %v and %v", f.ID, prev, code)
			}
			seen[f.ID] = code
		}
	}
	if len(seen) != len(features) {
		t.Errorf("%d features owned, want %d", len(seen), len(features))
	}
	if seen["e"] != (TileCode{1, 1, 1}) {
		t.Errorf("feature on shared corner owned by %v, want 1/1/1", seen["e"])
	}
}

func TestExceedsScreenDimensions(t *testing.T) {
	f := &Feature{Geometry: orb.LineString{{0, 0}, {100, 20}}}
	tests := []struct {
		scale float64
		want  bool
	}{
		{1, false},
		{100, false},
		{100.5, true},
		{500, true},
	}
	for _, tt := range tests {
		if got := ExceedsScreenDimensions(f, tt.scale, DefaultMaxTileScreenPx); got != tt.want {
			t.Errorf("scale %v: got %v, want %v", tt.scale, got, tt.want)
		}
	}
	tall := &Feature{Geometry: orb.LineString{{0, 0}, {1, 200}}}
	if !ExceedsScreenDimensions(tall, 60, DefaultMaxTileScreenPx) {
		t.Error("height over the limit not detected")
	}
	if ExceedsScreenDimensions(&Feature{}, 1e9, DefaultMaxTileScreenPx) {
		t.Error("empty geometry reported as oversized")
	}
}

func TestAssignClipsOversizedFeature(t *testing.T) {
	extent := bound(0, 0, 1000, 1000)
	tile := newTestTile(TileCode{1, 0, 0}, extent)
	tile.Scale = 100
	original := orb.LineString{{5, 5}, {5000, 5}}
	f := &Feature{ID: "long", Geometry: original, Attributes: map[string]any{"name": "long"}}
	opts := AssignOptions{Extent: extent, Scale: 100, PanOrigin: orb.Point{100, 100}}

	stats := AssignFeatures(tile, []*Feature{f}, opts)

	if stats.Clipped != 1 || !tile.Clipped {
		t.Fatalf("stats = %+v, tile clipped = %v", stats, tile.Clipped)
	}
	got := tile.Features[0]
	if got == f || !got.Clipped {
		t.Fatalf("tile holds %+v, want a clipped copy", got)
	}
	if f.Clipped {
		t.Error("source feature marked clipped")
	}
	if diff := cmp.Diff(orb.LineString{{5, 5}, {5000, 5}}, f.Geometry); diff != "" {
		t.Errorf("source geometry changed (-want +got):\n%s", diff)
	}

	box := MaxScreenBounds(tile, opts.PanOrigin, opts.Scale, DefaultMaxTileScreenPx)
	b := got.Geometry.Bound()
	if !box.Contains(b.Min) || !box.Contains(b.Max) {
		t.Errorf("clipped bounds %v outside %v", b, box)
	}
	if v, _ := got.Attribute("name"); v != "long" {
		t.Errorf("clipped copy lost attributes: %v", got.Attributes)
	}
}

func TestAssignClipOutsideBoxClearsGeometry(t *testing.T) {
	extent := bound(0, 0, 100000, 100000)
	tile := newTestTile(TileCode{3, 7, 7}, extent)
	f := &Feature{ID: "far", Geometry: orb.LineString{{90000, 90000}, {99000, 90000}}}
	opts := AssignOptions{Extent: extent, Scale: 10, PanOrigin: orb.Point{0, 0}, MaxScreenPx: 1000}

	AssignFeatures(tile, []*Feature{f}, opts)

	if len(tile.Features) != 1 {
		t.Fatalf("Features = %v", tile.Features)
	}
	if g := tile.Features[0].Geometry; g != nil {
		t.Errorf("geometry = %v, want cleared", g)
	}
}

func TestMaxScreenBounds(t *testing.T) {
	extent := bound(0, 0, 1000, 1000)
	tile := newTestTile(TileCode{2, 1, 1}, extent)

	// 250 units at scale 4 is 1000px per tile: ten tiles fit in 10000px.
	b := MaxScreenBounds(tile, orb.Point{300, 300}, 4, DefaultMaxTileScreenPx)
	assertNear(t, "min x", b.Min[0], 300-2500)
	assertNear(t, "max y", b.Max[1], 300+2500)

	// A tile larger than the limit still spans one tile each way.
	b = MaxScreenBounds(tile, orb.Point{0, 0}, 100, DefaultMaxTileScreenPx)
	assertNear(t, "min x", b.Min[0], -250)
	assertNear(t, "max x", b.Max[0], 250)
}
