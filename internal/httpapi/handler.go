// Package httpapi serves layer features and server-assigned tiles over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/phanxgames/willowmap"
	"github.com/phanxgames/willowmap/source"
)

// Layer is one served layer.
type Layer struct {
	ID     string
	CRS    string
	Extent orb.Bound
	Source willowmap.FeatureSource
}

type Handler struct {
	log     zerolog.Logger
	metrics *willowmap.Metrics
	layers  map[string]Layer
	maxPx   int
}

func NewHandler(log zerolog.Logger, m *willowmap.Metrics, layers []Layer) *Handler {
	h := &Handler{log: log, metrics: m, layers: make(map[string]Layer, len(layers))}
	for _, l := range layers {
		h.layers[l.ID] = l
	}
	return h
}

// SetMaxScreenPx overrides the clipping limit used by the tile route.
func (h *Handler) SetMaxScreenPx(px int) { h.maxPx = px }

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(h.accessLog)

	r.Get("/healthz", h.handleHealthz)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Route("/api/v1/layers", func(r chi.Router) {
		r.Get("/", h.handleListLayers)
		r.Route("/{layer}", func(r chi.Router) {
			r.Get("/features", h.handleFeatures)
			r.Get("/tiles/{level}/{x}/{y}", h.handleTile)
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		h.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), time.Since(start))

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string) {
	h.writeJSON(w, status, "application/json", map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	})
}

// writeSourceError maps a source failure onto a status and error code.
func (h *Handler) writeSourceError(w http.ResponseWriter, r *http.Request, layer string, err error) {
	switch {
	case errors.Is(err, source.ErrUnknownLayer):
		h.writeError(w, http.StatusNotFound, "unknown_layer", err.Error())
	case errors.Is(err, source.ErrUnsupportedCRS):
		h.writeError(w, http.StatusBadRequest, "unsupported_crs", err.Error())
	case errors.Is(err, source.ErrInvalidFilter):
		h.writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
	case r.Context().Err() != nil:
		h.writeError(w, http.StatusServiceUnavailable, "cancelled", "request cancelled")
	default:
		h.log.Error().Err(err).Str("layer", layer).Msg("source query failed")
		h.writeError(w, http.StatusBadGateway, "source_failed", "layer source failed")
	}
}

func (h *Handler) layer(w http.ResponseWriter, r *http.Request) (Layer, bool) {
	id := chi.URLParam(r, "layer")
	l, ok := h.layers[id]
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown_layer", "unknown layer "+strconv.Quote(id))
	}
	return l, ok
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, "application/json", map[string]any{"ok": true})
}

func (h *Handler) handleListLayers(w http.ResponseWriter, r *http.Request) {
	out := make([]source.RemoteLayer, 0, len(h.layers))
	for _, l := range h.layers {
		out = append(out, source.RemoteLayer{
			ID:     l.ID,
			CRS:    l.CRS,
			Extent: [4]float64{l.Extent.Min[0], l.Extent.Min[1], l.Extent.Max[0], l.Extent.Max[1]},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	h.writeJSON(w, http.StatusOK, "application/json", map[string]any{"layers": out})
}

func (h *Handler) handleFeatures(w http.ResponseWriter, r *http.Request) {
	l, ok := h.layer(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	bounds := l.Extent
	if v := q.Get("bbox"); v != "" {
		b, err := source.ParseBBox(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_bbox", err.Error())
			return
		}
		bounds = b
	}
	crs := q.Get("crs")
	if crs == "" {
		crs = l.CRS
	}

	fs, err := l.Source.Query(r.Context(), willowmap.Query{
		Layer:  l.ID,
		Bounds: bounds,
		CRS:    crs,
		Filter: q.Get("filter"),
	})
	if err != nil {
		h.writeSourceError(w, r, l.ID, err)
		return
	}
	h.writeJSON(w, http.StatusOK, "application/geo+json", source.ToGeoJSON(fs))
}

// handleTile assigns the features of one tile the way a client renderer
// would and returns them with the tile's dependent codes.
func (h *Handler) handleTile(w http.ResponseWriter, r *http.Request) {
	l, ok := h.layer(w, r)
	if !ok {
		return
	}
	code, err := willowmap.ParseTileCode(chi.URLParam(r, "level") + "/" + chi.URLParam(r, "x") + "/" + chi.URLParam(r, "y"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_tile", err.Error())
		return
	}

	q := r.URL.Query()
	scale, err := strconv.ParseFloat(q.Get("scale"), 64)
	if err != nil || !(scale > 0) || math.IsInf(scale, 0) {
		h.writeError(w, http.StatusBadRequest, "invalid_scale", "scale must be a positive number")
		return
	}

	tile := willowmap.NewTile(code, l.Extent, scale)
	pan := tile.Bounds.Center()
	for i, key := range []string{"panX", "panY"} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_pan", key+" must be a number")
			return
		}
		pan[i] = f
	}

	fs, err := l.Source.Query(r.Context(), willowmap.Query{
		Layer:  l.ID,
		Bounds: tile.Bounds,
		CRS:    l.CRS,
		Filter: q.Get("filter"),
	})
	if err != nil {
		h.writeSourceError(w, r, l.ID, err)
		return
	}

	stats := willowmap.AssignFeatures(tile, fs, willowmap.AssignOptions{
		Extent:      l.Extent,
		Scale:       scale,
		PanOrigin:   pan,
		MaxScreenPx: h.maxPx,
	})
	h.metrics.ObserveAssign(l.ID, stats)

	deps := tile.DependentCodes()
	depStrs := make([]string, 0, len(deps))
	for _, c := range deps {
		depStrs = append(depStrs, c.String())
	}

	fc := source.ToGeoJSON(tile.Features)
	fc.ExtraMembers = map[string]any{
		"tile":       code.String(),
		"clipped":    tile.Clipped,
		"dependents": depStrs,
	}
	h.writeJSON(w, http.StatusOK, "application/geo+json", fc)
}
