// Package app assembles the stores described by a Config into a running
// service: metadata engine, blob tree, bucket registry and object store.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilupskalvis/kvblob/internal/blobstore"
	"github.com/kilupskalvis/kvblob/internal/bucket"
	"github.com/kilupskalvis/kvblob/internal/config"
	"github.com/kilupskalvis/kvblob/internal/logger"
	"github.com/kilupskalvis/kvblob/internal/metastore"
	"github.com/kilupskalvis/kvblob/internal/metrics"
	"github.com/kilupskalvis/kvblob/internal/objectstore"
	"github.com/kilupskalvis/kvblob/internal/server"
)

// App holds the opened stores. Close releases the metadata engine.
type App struct {
	Config  *config.Config
	Meta    metastore.Store
	Blobs   *blobstore.Layout
	Buckets *bucket.Registry
	Objects *objectstore.Store
	Metrics *metrics.Metrics
}

// Open creates the data directory and opens every store. A nil registerer
// disables metrics.
func Open(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	meta, err := metastore.Open(ctx, cfg.MetaOptions())
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	blobs, err := blobstore.NewLayout(cfg.BlobRoot(), blobstore.WithStagedWrites(cfg.Storage.StagedWrites))
	if err != nil {
		meta.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}

	buckets := bucket.NewRegistry(meta, bucket.WithMetrics(m))
	objects := objectstore.New(meta, buckets, blobs, objectstore.WithMetrics(m))

	logger.Debug().
		Str("engine", cfg.Meta.Engine).
		Str("blobs", blobs.Root()).
		Bool("staged_writes", cfg.Storage.StagedWrites).
		Msg("stores opened")

	return &App{
		Config:  cfg,
		Meta:    meta,
		Blobs:   blobs,
		Buckets: buckets,
		Objects: objects,
		Metrics: m,
	}, nil
}

// Close closes the metadata store.
func (a *App) Close() error {
	return a.Meta.Close()
}

// Handler builds the HTTP handler for the app. gatherer backs /metrics.
func (a *App) Handler(gatherer prometheus.Gatherer) (http.Handler, func(), error) {
	maxSize, err := a.Config.Server.MaxObjectBytes()
	if err != nil {
		return nil, nil, err
	}

	cfg := server.DefaultConfig()
	cfg.MaxObjectSize = maxSize
	cfg.RequestsPerSecond = a.Config.Server.RequestsPerSecond
	cfg.Burst = a.Config.Server.Burst
	cfg.AdminToken = a.Config.Server.AdminToken
	cfg.Webhooks = server.NewWebhookNotifier(a.Config.Server.WebhookURLs, *logger.Global())
	if cfg.Webhooks != nil {
		logger.Info().Int("count", len(a.Config.Server.WebhookURLs)).Msg("webhooks configured")
	}

	h, cleanup := server.Handler(server.Deps{
		Meta:     a.Meta,
		Buckets:  a.Buckets,
		Objects:  a.Objects,
		Metrics:  a.Metrics,
		Gatherer: gatherer,
		Logger:   *logger.Global(),
	}, cfg)
	return h, cleanup, nil
}

// ListenConfig converts the server section into listener settings.
func (a *App) ListenConfig() server.ListenConfig {
	s := a.Config.Server
	return server.ListenConfig{
		Addr:            s.Listen,
		TLSCert:         s.TLSCert,
		TLSKey:          s.TLSKey,
		ReadTimeout:     s.ReadTimeout,
		WriteTimeout:    s.WriteTimeout,
		IdleTimeout:     s.IdleTimeout,
		ShutdownTimeout: s.ShutdownTimeout,
	}
}
