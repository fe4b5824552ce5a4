// Package main provides the fsxd binary entry point: the virtual
// filesystem service's daemon. It loads configuration from environment
// variables, opens the metadata store and blob tiers, wires the filesystem
// engine and watch broadcaster, and serves the RPC/streaming/watch HTTP
// surface.
//
// The application flow:
//  1. Load and validate configuration.
//  2. Open the metadata store.
//  3. Start the metrics manager.
//  4. Open the blob tiers and wire the filesystem engine and watch
//     broadcaster.
//  5. Start the HTTP server.
//
// It blocks until the server exits with an error (other than
// http.ErrServerClosed).
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/dot-do/fsx/internal/blobstore"
	"github.com/dot-do/fsx/internal/blobstore/coldtier"
	"github.com/dot-do/fsx/internal/blobstore/warmtier"
	"github.com/dot-do/fsx/internal/config"
	"github.com/dot-do/fsx/internal/fsengine"
	"github.com/dot-do/fsx/internal/metastore"
	"github.com/dot-do/fsx/internal/metrics"
	"github.com/dot-do/fsx/internal/rpcx"
	"github.com/dot-do/fsx/internal/watch"
)

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "err", err)
		os.Exit(2)
	}
	return cfg
}

func ensureDataDirs(cfg *config.Config) {
	for _, dir := range []string{cfg.DataDir, cfg.ColdTierDir(), cfg.WarmTierDir()} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			slog.Error("create data directory", "dir", dir, "err", err)
			os.Exit(3)
		}
	}
}

func openMetaStore(cfg *config.Config) *metastore.Store {
	meta, err := metastore.Open(cfg.SQLiteDSN())
	if err != nil {
		slog.Error("open metadata store", "err", err)
		os.Exit(4)
	}
	return meta
}

func openBlobStore(cfg *config.Config, meta *metastore.Store, mgr *metrics.Manager) *blobstore.Store {
	warm, err := warmtier.Open(cfg.WarmTierDir())
	if err != nil {
		slog.Error("open warm tier", "err", err)
		os.Exit(5)
	}
	cold, err := coldtier.Open(cfg.ColdTierDir())
	if err != nil {
		slog.Error("open cold tier", "err", err)
		os.Exit(5)
	}
	blobs, err := blobstore.New(meta, warm, cold, cfg.BlobCacheSize,
		blobstore.WithHotThreshold(cfg.HotThresholdBytes),
		blobstore.WithMetrics(mgr),
	)
	if err != nil {
		slog.Error("init blob store", "err", err)
		os.Exit(5)
	}
	return blobs
}

func buildEngine(cfg *config.Config, meta *metastore.Store, blobs *blobstore.Store, mgr *metrics.Manager, broadcaster *watch.Broadcaster) *fsengine.Engine {
	return fsengine.New(meta, blobs, "/",
		fsengine.WithEventSink(broadcaster),
		fsengine.WithMetrics(mgr),
		fsengine.WithCleanupConfig(fsengine.CleanupConfig{
			MinOrphanCount: cfg.CleanupMinOrphanCount,
			MinOrphanAgeMs: cfg.CleanupMinOrphanAgeMs,
			BatchSize:      cfg.CleanupBatchSize,
			Async:          cfg.CleanupAsync,
		}),
	)
}

func buildBroadcaster(cfg *config.Config, mgr *metrics.Manager) (*watch.Broadcaster, *watch.Index) {
	index := watch.NewIndex(cfg.WatchMaxPatternsPerSub)
	broadcaster := watch.New(index, watch.Config{
		BatchWindowMs:       cfg.WatchBatchWindowMs,
		MaxBatchSize:        cfg.WatchMaxBatchSize,
		WindowMs:            cfg.WatchRateWindowMs,
		MaxMessages:         cfg.WatchRateMaxMessages,
		BurstWindowMs:       cfg.WatchBurstWindowMs,
		BurstMaxMessages:    cfg.WatchBurstMaxMessages,
		HeartbeatIntervalMs: cfg.WatchHeartbeatIntervalMs,
		MaxMissedPongs:      cfg.WatchMaxMissedPongs,
		IdleTimeoutMs:       cfg.WatchIdleTimeoutMs,
		MaxSubscribers:      cfg.WatchMaxSubscribers,
		Metrics:             mgr,
		Logger:              slog.Default(),
	})
	return broadcaster, index
}

func buildHandler(engine *fsengine.Engine, broadcaster *watch.Broadcaster, index *watch.Index, db *sql.DB, dataDir string) http.Handler {
	readiness := func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		if _, err := os.ReadDir(dataDir); err != nil {
			return err
		}
		return nil
	}
	h := rpcx.New(engine, broadcaster, index, rpcx.Config{
		MaxBody:     64 << 20,
		IngressRate: 0, // disabled by default; set via Config if a proxy isn't already throttling
		Readiness:   readiness,
		Logger:      slog.Default(),
	})
	return h.Router()
}

func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second, // streaming reads may take longer than the teacher's secret-fetch endpoint
		IdleTimeout:  120 * time.Second,
	}
}

func run() error {
	cfg := loadConfig()
	ensureDataDirs(cfg)

	meta := openMetaStore(cfg)
	defer meta.Close()

	ctx := context.Background()
	mgr := metrics.New(meta.DB(), metrics.Config{FlushInterval: 5 * time.Second, Logger: slog.Default()})
	if err := mgr.InitSchema(ctx); err != nil {
		return err
	}
	mgr.Start(ctx)
	defer mgr.Stop(context.Background())

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler(mgr, ""), ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second, IdleTimeout: 30 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "err", err)
			}
		}()
		slog.Info("metrics server started", "addr", cfg.MetricsAddr)
	}

	blobs := openBlobStore(cfg, meta, mgr)
	broadcaster, index := buildBroadcaster(cfg, mgr)
	broadcaster.Start()
	defer broadcaster.Stop()

	engine := buildEngine(cfg, meta, blobs, mgr, broadcaster)

	srv := newServer(cfg, buildHandler(engine, broadcaster, index, meta.DB(), cfg.DataDir))
	slog.Info("starting server", "addr", cfg.Addr, "pid", os.Getpid())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(context.Background())
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
