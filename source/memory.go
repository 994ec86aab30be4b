package source

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/phanxgames/willowmap"
)

// rectTolerance is the minimum side of an indexed rectangle; rtreego
// rejects zero-length sides, which points and axis-aligned lines have.
const rectTolerance = 1e-9

// TransformFunc reprojects a geometry between two CRS identifiers. The
// source treats it as a black box.
type TransformFunc func(g orb.Geometry, from, to string) (orb.Geometry, error)

// MemoryOption configures a MemorySource.
type MemoryOption func(*MemorySource)

// WithTransform lets queries ask for CRSs other than a layer's own.
func WithTransform(fn TransformFunc) MemoryOption {
	return func(s *MemorySource) { s.transform = fn }
}

// WithLogger sets the source's logger.
func WithLogger(log zerolog.Logger) MemoryOption {
	return func(s *MemorySource) { s.log = log }
}

// LayerInfo summarizes one stored layer.
type LayerInfo struct {
	ID     string    `json:"id"`
	CRS    string    `json:"crs,omitempty"`
	Count  int       `json:"count"`
	Bounds orb.Bound `json:"-"`
}

// MemorySource is an in-memory feature store with one R-tree per layer.
// It is safe for concurrent use.
type MemorySource struct {
	mu        sync.RWMutex
	layers    map[string]*memLayer
	transform TransformFunc
	log       zerolog.Logger
}

type memLayer struct {
	crs    string
	tree   *rtreego.Rtree
	byID   map[string]*indexedFeature
	seq    int
	bounds orb.Bound
}

// indexedFeature adapts a feature to rtreego.Spatial. seq preserves
// insertion order, which R-tree searches do not.
type indexedFeature struct {
	feature *willowmap.Feature
	rect    rtreego.Rect
	seq     int
}

func (f *indexedFeature) Bounds() rtreego.Rect { return f.rect }

var _ willowmap.FeatureSource = (*MemorySource)(nil)

// NewMemorySource creates an empty store.
func NewMemorySource(opts ...MemoryOption) *MemorySource {
	s := &MemorySource{
		layers: make(map[string]*memLayer),
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddLayer declares a layer stored in crs. Declaring an existing layer
// only updates its CRS.
func (s *MemorySource) AddLayer(id, crs string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layerLocked(id).crs = crs
}

func (s *MemorySource) layerLocked(id string) *memLayer {
	l, ok := s.layers[id]
	if !ok {
		// 2D, min=25 children, max=50 children
		l = &memLayer{
			tree: rtreego.NewTree(2, 25, 50),
			byID: make(map[string]*indexedFeature),
		}
		s.layers[id] = l
	}
	return l
}

// Add stores features in layer, creating the layer if needed. A feature
// whose ID is already stored replaces the old one. Features without
// geometry are skipped.
func (s *MemorySource) Add(layer string, features ...*willowmap.Feature) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.layerLocked(layer)
	added := 0
	replaced := false
	for _, f := range features {
		if f == nil || f.Geometry == nil {
			continue
		}
		rect, err := boundToRect(f.Geometry.Bound())
		if err != nil {
			s.log.Warn().Err(err).Str("layer", layer).Str("feature", f.ID).Msg("feature not indexed")
			continue
		}
		if old, ok := l.byID[f.ID]; ok && f.ID != "" {
			l.tree.Delete(old)
			replaced = true
		}
		l.seq++
		idx := &indexedFeature{feature: f, rect: rect, seq: l.seq}
		l.tree.Insert(idx)
		if f.ID != "" {
			l.byID[f.ID] = idx
		}
		if l.tree.Size() == 1 {
			l.bounds = f.Geometry.Bound()
		} else {
			l.bounds = l.bounds.Union(f.Geometry.Bound())
		}
		added++
	}
	if replaced {
		l.recomputeBounds()
	}
	return added
}

// Remove deletes the feature with id from layer.
func (s *MemorySource) Remove(layer, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.layers[layer]
	if !ok {
		return false
	}
	idx, ok := l.byID[id]
	if !ok {
		return false
	}
	delete(l.byID, id)
	if !l.tree.Delete(idx) {
		return false
	}
	l.recomputeBounds()
	return true
}

// recomputeBounds rebuilds the layer bounds from the indexed features, so
// they shrink after a replace or a removal. Every indexed rectangle lies
// within the previous bounds; the search box is padded because rtreego does
// not count touching edges as intersecting.
func (l *memLayer) recomputeBounds() {
	old := l.bounds
	l.bounds = orb.Bound{}
	if l.tree.Size() == 0 {
		return
	}
	rect, err := boundToRect(old.Pad(1))
	if err != nil {
		return
	}
	first := true
	for _, h := range l.tree.SearchIntersect(rect) {
		b := h.(*indexedFeature).feature.Geometry.Bound()
		if first {
			l.bounds, first = b, false
			continue
		}
		l.bounds = l.bounds.Union(b)
	}
}

// LoadGeoJSON reads a FeatureCollection into layer. Feature IDs come from
// the GeoJSON id member, then an "id" property, then the position in the
// collection.
func (s *MemorySource) LoadGeoJSON(layer string, r io.Reader) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read geojson for layer %s: %w", layer, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return 0, fmt.Errorf("decode geojson for layer %s: %w", layer, err)
	}
	return s.Add(layer, FromGeoJSON(fc)...), nil
}

// FromGeoJSON converts a FeatureCollection into willowmap features.
func FromGeoJSON(fc *geojson.FeatureCollection) []*willowmap.Feature {
	out := make([]*willowmap.Feature, 0, len(fc.Features))
	for i, gf := range fc.Features {
		id := ""
		switch {
		case gf.ID != nil:
			id = fmt.Sprint(gf.ID)
		case gf.Properties["id"] != nil:
			id = fmt.Sprint(gf.Properties["id"])
		default:
			id = fmt.Sprint(i)
		}
		out = append(out, &willowmap.Feature{
			ID:         id,
			Geometry:   gf.Geometry,
			Attributes: map[string]any(gf.Properties),
		})
	}
	return out
}

// ToGeoJSON converts features into a FeatureCollection. Clipped features
// carry a "clipped" property; a clipped feature whose geometry was cut away
// entirely is kept with a null geometry so it still counts as clipped.
func ToGeoJSON(fs []*willowmap.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range fs {
		if f == nil || (f.Geometry == nil && !f.Clipped) {
			continue
		}
		gf := geojson.NewFeature(f.Geometry)
		gf.ID = f.ID
		for k, v := range f.Attributes {
			gf.Properties[k] = v
		}
		if f.Clipped {
			gf.Properties["clipped"] = true
		}
		fc.Append(gf)
	}
	return fc
}

// Layers lists the stored layers by ID.
func (s *MemorySource) Layers() []LayerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LayerInfo, 0, len(s.layers))
	for id, l := range s.layers {
		out = append(out, LayerInfo{ID: id, CRS: l.crs, Count: l.tree.Size(), Bounds: l.bounds})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Query returns the features of q.Layer intersecting q.Bounds that pass
// q.Filter, in insertion order. Inverted bounds give an empty result.
func (s *MemorySource) Query(ctx context.Context, q willowmap.Query) ([]*willowmap.Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter, err := ParseFilter(q.Filter)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	l, ok := s.layers[q.Layer]
	var crs string
	if ok {
		crs = l.crs
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLayer, q.Layer)
	}

	reproject := q.CRS != "" && crs != "" && q.CRS != crs
	if reproject && s.transform == nil {
		return nil, fmt.Errorf("%w: layer %s is stored in %s, query asks for %s", ErrUnsupportedCRS, q.Layer, crs, q.CRS)
	}

	bounds := q.Bounds
	if bounds.Max[0] < bounds.Min[0] || bounds.Max[1] < bounds.Min[1] {
		return nil, nil
	}
	if reproject {
		g, err := s.transform(bounds.ToPolygon(), q.CRS, crs)
		if err != nil {
			return nil, fmt.Errorf("transform query bounds: %w", err)
		}
		bounds = g.Bound()
	}
	rect, err := boundToRect(bounds)
	if err != nil {
		return nil, nil
	}

	s.mu.RLock()
	hits := l.tree.SearchIntersect(rect)
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		return hits[i].(*indexedFeature).seq < hits[j].(*indexedFeature).seq
	})

	out := make([]*willowmap.Feature, 0, len(hits))
	for _, h := range hits {
		f := h.(*indexedFeature).feature
		if !filter.Match(f.Attributes) {
			continue
		}
		if reproject {
			g, err := s.transform(orb.Clone(f.Geometry), crs, q.CRS)
			if err != nil {
				return nil, fmt.Errorf("transform feature %s: %w", f.ID, err)
			}
			f = &willowmap.Feature{ID: f.ID, Geometry: g, Attributes: f.Attributes}
		}
		out = append(out, f)
	}
	return out, nil
}

// boundToRect converts b to an R-tree rectangle, padding degenerate sides.
func boundToRect(b orb.Bound) (rtreego.Rect, error) {
	w := b.Max[0] - b.Min[0]
	h := b.Max[1] - b.Min[1]
	if w < rectTolerance {
		w = rectTolerance
	}
	if h < rectTolerance {
		h = rectTolerance
	}
	return rtreego.NewRect(rtreego.Point{b.Min[0], b.Min[1]}, []float64{w, h})
}
