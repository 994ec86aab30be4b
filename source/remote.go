package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/phanxgames/willowmap"
)

// FeaturesPath is the feature query route served by the tileserver.
const FeaturesPath = "/api/v1/layers/{layer}/features"

// LayersPath lists the layers a tileserver serves.
const LayersPath = "/api/v1/layers"

// RemoteLayer is one entry of a tileserver layer listing.
type RemoteLayer struct {
	ID     string     `json:"id"`
	CRS    string     `json:"crs,omitempty"`
	Extent [4]float64 `json:"extent"`
}

// Bound returns the layer extent.
func (l RemoteLayer) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{l.Extent[0], l.Extent[1]}, Max: orb.Point{l.Extent[2], l.Extent[3]}}
}

// FetchLayers reads the layer listing of a tileserver.
func FetchLayers(ctx context.Context, d Dispatcher) ([]RemoteLayer, error) {
	resp, err := d.Execute(ctx, Request{Path: LayersPath})
	if err != nil {
		return nil, err
	}
	var body struct {
		Layers []RemoteLayer `json:"layers"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("decode layer listing: %w", err)
	}
	return body.Layers, nil
}

// RemoteSource queries features from a tileserver-compatible service and
// decodes the GeoJSON answer.
type RemoteSource struct {
	Dispatcher Dispatcher
	// Path is the feature route; {layer} is replaced by the query layer.
	// Empty means FeaturesPath.
	Path string
}

var _ willowmap.FeatureSource = (*RemoteSource)(nil)

// NewRemoteSource creates a source over d using the default route.
func NewRemoteSource(d Dispatcher) *RemoteSource {
	return &RemoteSource{Dispatcher: d, Path: FeaturesPath}
}

// Query implements willowmap.FeatureSource.
func (s *RemoteSource) Query(ctx context.Context, q willowmap.Query) ([]*willowmap.Feature, error) {
	path := s.Path
	if path == "" {
		path = FeaturesPath
	}
	params := url.Values{}
	params.Set("bbox", FormatBBox(q.Bounds))
	if q.CRS != "" {
		params.Set("crs", q.CRS)
	}
	if q.Filter != "" {
		params.Set("filter", q.Filter)
	}
	resp, err := s.Dispatcher.Execute(ctx, Request{
		Path:   strings.ReplaceAll(path, "{layer}", url.PathEscape(q.Layer)),
		Query:  params,
		Header: map[string][]string{"Accept": {"application/geo+json"}},
	})
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode features for layer %s: %w", q.Layer, err)
	}
	return FromGeoJSON(fc), nil
}

// RemoteRaster fetches tile images from a templated route. The template
// may use {layer}, {z}, {x}, {y}, {width}, {height} and {bbox}.
type RemoteRaster struct {
	Dispatcher Dispatcher
	Template   string
}

var _ willowmap.RasterSource = (*RemoteRaster)(nil)

// Fetch implements willowmap.RasterSource.
func (s *RemoteRaster) Fetch(ctx context.Context, q willowmap.RasterQuery) ([]byte, error) {
	r := strings.NewReplacer(
		"{layer}", url.PathEscape(q.Layer),
		"{z}", strconv.Itoa(q.Code.Level),
		"{x}", strconv.Itoa(q.Code.X),
		"{y}", strconv.Itoa(q.Code.Y),
		"{width}", strconv.Itoa(q.Width),
		"{height}", strconv.Itoa(q.Height),
		"{bbox}", FormatBBox(q.Bounds),
	)
	path, rawQuery, _ := strings.Cut(r.Replace(s.Template), "?")
	var params url.Values
	if rawQuery != "" {
		var err error
		if params, err = url.ParseQuery(rawQuery); err != nil {
			return nil, fmt.Errorf("raster template %q: %w", s.Template, err)
		}
	}
	resp, err := s.Dispatcher.Execute(ctx, Request{Path: path, Query: params})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// FormatBBox writes b as "minx,miny,maxx,maxy".
func FormatBBox(b orb.Bound) string {
	return strings.Join([]string{
		strconv.FormatFloat(b.Min[0], 'f', -1, 64),
		strconv.FormatFloat(b.Min[1], 'f', -1, 64),
		strconv.FormatFloat(b.Max[0], 'f', -1, 64),
		strconv.FormatFloat(b.Max[1], 'f', -1, 64),
	}, ",")
}

// ParseBBox parses the "minx,miny,maxx,maxy" form.
func ParseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox %q: want minx,miny,maxx,maxy", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bbox %q: %w", s, err)
		}
		v[i] = f
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}
