// Package postgis serves layer features from PostGIS tables.
package postgis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"github.com/phanxgames/willowmap"
	"github.com/phanxgames/willowmap/source"
)

// DBTX is the part of pgxpool.Pool or pgx.Tx the source needs.
type DBTX interface {
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
}

// Table maps a layer onto a table. Empty column names take the defaults
// id, geom and properties.
type Table struct {
	Name       string `yaml:"table"`
	IDColumn   string `yaml:"idColumn"`
	GeomColumn string `yaml:"geomColumn"`
	// PropsColumn is a jsonb column of feature attributes.
	PropsColumn string `yaml:"propsColumn"`
	// SRID is the table's spatial reference; 0 means 3857.
	SRID int `yaml:"srid"`
}

func (t Table) withDefaults() Table {
	if t.IDColumn == "" {
		t.IDColumn = "id"
	}
	if t.GeomColumn == "" {
		t.GeomColumn = "geom"
	}
	if t.PropsColumn == "" {
		t.PropsColumn = "properties"
	}
	if t.SRID == 0 {
		t.SRID = 3857
	}
	return t
}

// Source is a willowmap.FeatureSource over PostGIS.
type Source struct {
	db     DBTX
	tables map[string]Table
	log    zerolog.Logger
}

var _ willowmap.FeatureSource = (*Source)(nil)

// Open connects a pool and verifies connectivity early.
func Open(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	p, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgis pool: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgis: %w", err)
	}
	return p, nil
}

// New creates a source serving one table per layer ID.
func New(db DBTX, tables map[string]Table, log zerolog.Logger) *Source {
	ts := make(map[string]Table, len(tables))
	for id, t := range tables {
		ts[id] = t.withDefaults()
	}
	return &Source{db: db, tables: ts, log: log.With().Str("component", "postgis").Logger()}
}

// Layers lists the configured layer IDs.
func (s *Source) Layers() []source.LayerInfo {
	out := make([]source.LayerInfo, 0, len(s.tables))
	for id, t := range s.tables {
		out = append(out, source.LayerInfo{ID: id, CRS: "EPSG:" + strconv.Itoa(t.SRID)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Query implements willowmap.FeatureSource.
func (s *Source) Query(ctx context.Context, q willowmap.Query) ([]*willowmap.Feature, error) {
	t, ok := s.tables[q.Layer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", source.ErrUnknownLayer, q.Layer)
	}
	if q.Bounds.Max[0] < q.Bounds.Min[0] || q.Bounds.Max[1] < q.Bounds.Min[1] {
		return nil, nil
	}
	filter, err := source.ParseFilter(q.Filter)
	if err != nil {
		return nil, err
	}
	srid := t.SRID
	if q.CRS != "" {
		if srid, err = ParseSRID(q.CRS); err != nil {
			return nil, err
		}
	}

	sql, args := buildQuery(t, q, srid, filter)
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query layer %s: %w", q.Layer, err)
	}
	defer rows.Close()

	var out []*willowmap.Feature
	for rows.Next() {
		var (
			id    string
			geom  []byte
			props map[string]any
		)
		if err := rows.Scan(&id, &geom, &props); err != nil {
			return nil, fmt.Errorf("scan layer %s: %w", q.Layer, err)
		}
		g, err := geojson.UnmarshalGeometry(geom)
		if err != nil {
			s.log.Warn().Err(err).Str("layer", q.Layer).Str("feature", id).Msg("undecodable geometry skipped")
			continue
		}
		out = append(out, &willowmap.Feature{ID: id, Geometry: g.Geometry(), Attributes: props})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read layer %s: %w", q.Layer, err)
	}
	return out, nil
}

// buildQuery renders the bbox query. Identifiers are quoted; every value
// is a bind parameter. Filter clauses compare the text form of jsonb
// attributes.
func buildQuery(t Table, q willowmap.Query, srid int, filter source.Filter) (string, []any) {
	geom := pgx.Identifier{t.GeomColumn}.Sanitize()
	args := []any{q.Bounds.Min[0], q.Bounds.Min[1], q.Bounds.Max[0], q.Bounds.Max[1], srid}

	envelope := "ST_MakeEnvelope($1, $2, $3, $4, $5)"
	selectGeom := geom
	if srid != t.SRID {
		envelope = fmt.Sprintf("ST_Transform(%s, %d)", envelope, t.SRID)
		selectGeom = fmt.Sprintf("ST_Transform(%s, $5)", geom)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s::text, ST_AsGeoJSON(%s), COALESCE(%s, '{}'::jsonb)\nFROM %s\nWHERE %s && %s",
		pgx.Identifier{t.IDColumn}.Sanitize(),
		selectGeom,
		pgx.Identifier{t.PropsColumn}.Sanitize(),
		pgx.Identifier(strings.Split(t.Name, ".")).Sanitize(),
		geom, envelope,
	)
	props := pgx.Identifier{t.PropsColumn}.Sanitize()
	for _, c := range filter {
		args = append(args, c.Key, c.Value)
		fmt.Fprintf(&b, "\n  AND %s ->> $%d = $%d", props, len(args)-1, len(args))
	}
	fmt.Fprintf(&b, "\nORDER BY %s", pgx.Identifier{t.IDColumn}.Sanitize())
	return b.String(), args
}

// ParseSRID accepts "EPSG:3857" or a bare number.
func ParseSRID(crs string) (int, error) {
	s := strings.TrimSpace(crs)
	if i := strings.LastIndex(s, ":"); i >= 0 {
		if !strings.EqualFold(s[:i], "EPSG") {
			return 0, fmt.Errorf("%w: %s", source.ErrUnsupportedCRS, crs)
		}
		s = s[i+1:]
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s", source.ErrUnsupportedCRS, crs)
	}
	return n, nil
}
