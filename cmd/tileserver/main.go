// Command tileserver serves map layers as GeoJSON features and
// server-assigned tiles.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/phanxgames/willowmap"
	"github.com/phanxgames/willowmap/internal/httpapi"
	"github.com/phanxgames/willowmap/source/postgis"
)

func main() {
	addr := envOr("HTTP_ADDR", ":8080")
	logLevel := envOr("LOG_LEVEL", "info")
	databaseURL := envOr("DATABASE_URL", "")
	layersPath := envOr("LAYERS", "layers.yaml")

	logger := willowmap.NewLogger(logLevel, os.Stdout).With().Str("service", "tileserver").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	data, err := os.ReadFile(layersPath)
	if err != nil {
		logger.Fatal().Err(err).Str("path", layersPath).Msg("failed to read layers file")
	}
	catalog, err := parseLayersFile(data)
	if err != nil {
		logger.Fatal().Err(err).Str("path", layersPath).Msg("invalid layers file")
	}

	var pool *pgxpool.Pool
	if databaseURL != "" {
		p, err := postgis.Open(ctx, databaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer p.Close()
		pool = p
	}

	layers, err := buildLayers(ctx, catalog, filepath.Dir(layersPath), pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build layers")
	}

	h := httpapi.NewHandler(logger, willowmap.NewMetrics(), layers)
	h.SetMaxScreenPx(catalog.MaxTileScreenPx)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", addr).Int("layers", len(layers)).Msg("tileserver listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("http server error")
	}
	logger.Info().Msg("shutdown complete")
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
