package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/phanxgames/willowmap"
	"github.com/phanxgames/willowmap/source"
)

var testExtent = orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1024, 1024}}

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	mem := source.NewMemorySource()
	mem.AddLayer("roads", "EPSG:3857")
	mem.Add("roads",
		&willowmap.Feature{ID: "a", Geometry: orb.LineString{{100, 100}, {700, 100}}, Attributes: map[string]any{"kind": "major"}},
		&willowmap.Feature{ID: "b", Geometry: orb.LineString{{600, 120}, {300, 120}}, Attributes: map[string]any{"kind": "minor"}},
		&willowmap.Feature{ID: "c", Geometry: orb.Point{900, 900}, Attributes: map[string]any{"kind": "minor"}},
	)
	return NewHandler(zerolog.Nop(), willowmap.NewMetrics(), []Layer{
		{ID: "roads", CRS: "EPSG:3857", Extent: testExtent, Source: mem},
		{ID: "broken", Extent: testExtent, Source: willowmap.FeatureSourceFunc(func(context.Context, willowmap.Query) ([]*willowmap.Feature, error) {
			return nil, errors.New("connection reset")
		})},
	})
}

func serve(h *Handler, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v: %s", err, rr.Body.String())
	}
	return body
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	errObj, ok := decodeBody(t, rr)["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error envelope, got: %s", rr.Body.String())
	}
	if errObj["code"] != code {
		t.Fatalf("expected %s, got %v", code, errObj["code"])
	}
}

func featureIDs(t *testing.T, rr *httptest.ResponseRecorder) (*geojson.FeatureCollection, []string) {
	t.Helper()
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("content type = %q", ct)
	}
	fc, err := geojson.UnmarshalFeatureCollection(rr.Body.Bytes())
	if err != nil {
		t.Fatalf("decode collection: %v", err)
	}
	var ids []string
	for _, f := range fc.Features {
		ids = append(ids, f.ID.(string))
	}
	return fc, ids
}

func TestHealthz_OK(t *testing.T) {
	h := newTestHandler(t)
	rr := serve(h, "/healthz")
	if rr.Code != http.StatusOK || decodeBody(t, rr)["ok"] != true {
		t.Fatalf("healthz = %d %s", rr.Code, rr.Body.String())
	}
}

func TestLayers_List(t *testing.T) {
	h := newTestHandler(t)
	rr := serve(h, "/api/v1/layers")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Layers []source.RemoteLayer `json:"layers"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	want := []source.RemoteLayer{
		{ID: "broken", Extent: [4]float64{0, 0, 1024, 1024}},
		{ID: "roads", CRS: "EPSG:3857", Extent: [4]float64{0, 0, 1024, 1024}},
	}
	if diff := cmp.Diff(want, body.Layers); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestFeatures_BBoxAndFilter(t *testing.T) {
	h := newTestHandler(t)

	_, ids := featureIDs(t, serve(h, "/api/v1/layers/roads/features?bbox=0,0,1024,200"))
	if diff := cmp.Diff([]string{"a", "b"}, ids); diff != "" {
		t.Errorf("bbox mismatch (-want +got):\n%s", diff)
	}

	_, ids = featureIDs(t, serve(h, "/api/v1/layers/roads/features?filter=kind%3Dminor"))
	if diff := cmp.Diff([]string{"b", "c"}, ids); diff != "" {
		t.Errorf("filter mismatch (-want +got):\n%s", diff)
	}
}

func TestFeatures_Errors(t *testing.T) {
	h := newTestHandler(t)

	expectError(t, serve(h, "/api/v1/layers/rivers/features"), http.StatusNotFound, "unknown_layer")
	expectError(t, serve(h, "/api/v1/layers/roads/features?bbox=1,2,3"), http.StatusBadRequest, "invalid_bbox")
	expectError(t, serve(h, "/api/v1/layers/roads/features?crs=EPSG:4326"), http.StatusBadRequest, "unsupported_crs")
	expectError(t, serve(h, "/api/v1/layers/roads/features?filter=kind"), http.StatusBadRequest, "invalid_filter")
	expectError(t, serve(h, "/api/v1/layers/broken/features"), http.StatusBadGateway, "source_failed")
}

func TestTiles_AssignsOwnedFeatures(t *testing.T) {
	h := newTestHandler(t)

	// Tile 1/0/0 covers 0..512 on both axes. "a" starts inside it and
	// crosses into 1/1/0; "b" starts in 1/1/0 and only passes through.
	fc, ids := featureIDs(t, serve(h, "/api/v1/layers/roads/tiles/1/0/0?scale=1"))
	if diff := cmp.Diff([]string{"a"}, ids); diff != "" {
		t.Errorf("features mismatch (-want +got):\n%s", diff)
	}
	if fc.ExtraMembers["tile"] != "1/0/0" {
		t.Errorf("tile = %v", fc.ExtraMembers["tile"])
	}
	if fc.ExtraMembers["clipped"] != false {
		t.Errorf("clipped = %v", fc.ExtraMembers["clipped"])
	}
	if diff := cmp.Diff([]any{"1/1/0"}, fc.ExtraMembers["dependents"]); diff != "" {
		t.Errorf("dependents mismatch (-want +got):\n%s", diff)
	}
}

func TestTiles_ClipsAtHighScale(t *testing.T) {
	h := newTestHandler(t)

	fc, ids := featureIDs(t, serve(h, "/api/v1/layers/roads/tiles/1/0/0?scale=100&panX=256&panY=256"))
	if diff := cmp.Diff([]string{"a"}, ids); diff != "" {
		t.Fatalf("features mismatch (-want +got):\n%s", diff)
	}
	if fc.ExtraMembers["clipped"] != true || fc.Features[0].Properties["clipped"] != true {
		t.Errorf("expected clipped tile, got %v", fc.ExtraMembers)
	}

	metrics := serve(h, "/metrics").Body.String()
	if !strings.Contains(metrics, `willowmap_features_clipped_total{layer="roads"} 1`) {
		t.Errorf("clip not counted:\n%s", metrics)
	}
}

func TestTiles_BadRequests(t *testing.T) {
	h := newTestHandler(t)

	expectError(t, serve(h, "/api/v1/layers/roads/tiles/1/0/0"), http.StatusBadRequest, "invalid_scale")
	expectError(t, serve(h, "/api/v1/layers/roads/tiles/1/0/0?scale=-2"), http.StatusBadRequest, "invalid_scale")
	expectError(t, serve(h, "/api/v1/layers/roads/tiles/1/0/0?scale=Inf"), http.StatusBadRequest, "invalid_scale")
	expectError(t, serve(h, "/api/v1/layers/roads/tiles/1/2/0?scale=1"), http.StatusBadRequest, "invalid_tile")
	expectError(t, serve(h, "/api/v1/layers/roads/tiles/1/0/0?scale=1&panX=west"), http.StatusBadRequest, "invalid_pan")
	expectError(t, serve(h, "/api/v1/layers/nope/tiles/0/0/0?scale=1"), http.StatusNotFound, "unknown_layer")
}

func TestMetrics_RecordsRoutePattern(t *testing.T) {
	h := newTestHandler(t)
	serve(h, "/api/v1/layers/roads/features")

	body := serve(h, "/metrics").Body.String()
	want := `willowmap_http_requests_total{method="GET",path="/api/v1/layers/{layer}/features",status="200"} 1`
	if !strings.Contains(body, want) {
		t.Errorf("expected %q in:\n%s", want, body)
	}
}
