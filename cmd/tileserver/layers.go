package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/phanxgames/willowmap"
	"github.com/phanxgames/willowmap/internal/httpapi"
	"github.com/phanxgames/willowmap/source"
	"github.com/phanxgames/willowmap/source/postgis"
)

var errNoDatabase = errors.New("postgis layer configured without DATABASE_URL")

// layersFile is the YAML layer catalog.
type layersFile struct {
	MaxTileScreenPx int          `yaml:"maxTileScreenPx"`
	Layers          []layerEntry `yaml:"layers"`
}

type layerEntry struct {
	ID     string     `yaml:"id"`
	CRS    string     `yaml:"crs"`
	Extent [4]float64 `yaml:"extent"`
	// GeoJSON is a FeatureCollection file loaded into memory at startup.
	// Relative paths resolve against the catalog file.
	GeoJSON string         `yaml:"geojson"`
	PostGIS *postgis.Table `yaml:"postgis"`
}

func (e layerEntry) extent() orb.Bound {
	return orb.Bound{Min: orb.Point{e.Extent[0], e.Extent[1]}, Max: orb.Point{e.Extent[2], e.Extent[3]}}
}

func parseLayersFile(data []byte) (layersFile, error) {
	var f layersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return layersFile{}, fmt.Errorf("%w: %v", willowmap.ErrInvalidConfig, err)
	}
	seen := make(map[string]bool, len(f.Layers))
	for i, l := range f.Layers {
		switch {
		case l.ID == "":
			return layersFile{}, fmt.Errorf("%w: layer %d has no id", willowmap.ErrInvalidConfig, i)
		case seen[l.ID]:
			return layersFile{}, fmt.Errorf("%w: duplicate layer %s", willowmap.ErrInvalidConfig, l.ID)
		case (l.GeoJSON == "") == (l.PostGIS == nil):
			return layersFile{}, fmt.Errorf("%w: layer %s needs exactly one of geojson or postgis", willowmap.ErrInvalidConfig, l.ID)
		case !(l.Extent[2] > l.Extent[0] && l.Extent[3] > l.Extent[1]):
			return layersFile{}, fmt.Errorf("%w: layer %s has an empty extent", willowmap.ErrInvalidConfig, l.ID)
		}
		seen[l.ID] = true
	}
	return f, nil
}

// buildLayers loads the GeoJSON layers concurrently and binds the PostGIS
// layers to pool. pool may be nil when no PostGIS layer is configured.
func buildLayers(ctx context.Context, f layersFile, baseDir string, pool *pgxpool.Pool, log zerolog.Logger) ([]httpapi.Layer, error) {
	mem := source.NewMemorySource(source.WithLogger(log))
	tables := make(map[string]postgis.Table)

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range f.Layers {
		if l.PostGIS != nil {
			tables[l.ID] = *l.PostGIS
			continue
		}
		mem.AddLayer(l.ID, l.CRS)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			path := l.GeoJSON
			if !filepath.IsAbs(path) {
				path = filepath.Join(baseDir, path)
			}
			r, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("layer %s: %w", l.ID, err)
			}
			defer r.Close()
			n, err := mem.LoadGeoJSON(l.ID, r)
			if err != nil {
				return err
			}
			log.Info().Str("layer", l.ID).Int("features", n).Msg("geojson layer loaded")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var pg *postgis.Source
	tableCRS := make(map[string]string)
	if len(tables) > 0 {
		if pool == nil {
			return nil, errNoDatabase
		}
		pg = postgis.New(pool, tables, log)
		for _, info := range pg.Layers() {
			tableCRS[info.ID] = info.CRS
		}
	}

	out := make([]httpapi.Layer, 0, len(f.Layers))
	for _, l := range f.Layers {
		var src willowmap.FeatureSource = mem
		crs := l.CRS
		if l.PostGIS != nil {
			src = pg
			if crs == "" {
				crs = tableCRS[l.ID]
			}
		}
		out = append(out, httpapi.Layer{ID: l.ID, CRS: crs, Extent: l.extent(), Source: src})
	}
	return out, nil
}
