package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	corecfg "github.com/keyline-lab/keyline/internal/core/config"
	"github.com/keyline-lab/keyline/internal/core/storage/postgres"
	"github.com/keyline-lab/keyline/internal/engine"
	"github.com/keyline-lab/keyline/internal/ingestion"
	"github.com/keyline-lab/keyline/internal/migrations"
	"github.com/keyline-lab/keyline/internal/projection"
	"github.com/keyline-lab/keyline/internal/server"
)

func main() {
	configPath := flag.String("config", "keyline.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration (file + env + stream profiles)
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"streams", len(cfg.Profiles),
		"partitions", cfg.Streams.Partitions,
		"profile_dir", cfg.Streams.ProfileDir,
	)

	// 2. Initialize Storage (PostgreSQL)
	db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// 2.1. Run Database Migrations
	if err := migrations.Run(db, cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}
	if err := postgres.ValidateSchema(db); err != nil {
		slog.Error("Database schema validation failed", "error", err)
		os.Exit(1)
	}

	sink := postgres.NewAggregatesAdapter(db, cfg.Streams.SinkBatchSize)

	// 3. Build one pipeline per stream profile
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipelines := make([]*engine.Pipeline, 0, len(cfg.Profiles))
	for _, profile := range cfg.Profiles {
		p, err := engine.NewPipeline(profile, sink, engine.Options{
			Partitions:    cfg.Streams.Partitions,
			ChannelBuffer: cfg.Streams.ChannelBufferSize,
		})
		if err != nil {
			slog.Error("Failed to build pipeline", "stream", profile.Name, "error", err)
			os.Exit(1)
		}
		if err := p.Start(ctx); err != nil {
			slog.Error("Failed to start pipeline", "stream", profile.Name, "error", err)
			os.Exit(1)
		}
		pipelines = append(pipelines, p)
	}

	// 4. Initialize Ingestion (batches + window control)
	ingestionSvc, err := ingestion.NewService(pipelines, cfg.Server.MaxBodySizeMB)
	if err != nil {
		slog.Error("Failed to initialize ingestion", "error", err)
		os.Exit(1)
	}

	// 5. Initialize Projection (query API)
	projectionSvc := projection.NewService(sink)

	// 6. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), db, ingestionSvc, cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)
	projectionSvc.RegisterRoutes(srv.Engine)

	// Signal handler → triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	// Drain pipelines after the HTTP surface is down so no new batches arrive
	// mid-drain. In-flight (unclosed) windows are dropped, never half-flushed.
	for _, p := range pipelines {
		if err := p.Shutdown(); err != nil {
			slog.Error("Pipeline stopped with error", "stream", p.Stream(), "error", err)
		}
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
