package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aevon-lab/orderlens/internal/catalog"
	corecfg "github.com/aevon-lab/orderlens/internal/core/config"
	"github.com/aevon-lab/orderlens/internal/core/logging"
	"github.com/aevon-lab/orderlens/internal/fetch"
	"github.com/aevon-lab/orderlens/internal/keyword"
	"github.com/aevon-lab/orderlens/internal/manifest"
	"github.com/aevon-lab/orderlens/internal/metrics"
	"github.com/aevon-lab/orderlens/internal/order"
	"github.com/aevon-lab/orderlens/internal/query"
	"github.com/aevon-lab/orderlens/internal/server"
)

func main() {
	configPath := flag.String("config", "orderlens.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Bootstrap logger until the configured one is built
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	// 1. Load Configuration (also resolves the active data source definition)
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)
	slog.Info("Loaded config",
		"source", cfg.ActiveSource.Name,
		"fingerprint", cfg.ActiveSource.Fingerprint,
		"provider", cfg.Source.Provider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Initialize Flat File Provider
	provider, closeProvider, err := newProvider(ctx, cfg.Source)
	if err != nil {
		slog.Error("Failed to initialize file provider", "error", err)
		os.Exit(1)
	}
	defer closeProvider()

	// 3. Initialize Repositories
	def := cfg.ActiveSource
	resolver := manifest.NewResolver(provider, def.Manifest, def.BaseDir)
	orders := order.NewRepository(provider, resolver, def.Orders, cfg.Orders.LoadConcurrency)
	catalogRepo := catalog.NewRepository(provider, def.Catalog, def.BaseDir, catalog.Options{
		TTL:                   cfg.Catalog.CatalogTTL(),
		ResolveInterval:       cfg.Catalog.CatalogResolveInterval(),
		DailyLookbackDays:     cfg.Catalog.DailyLookbackDays,
		MonthlyLookbackMonths: cfg.Catalog.MonthlyLookbackMonths,
	})

	// 4. Initialize Metrics and Query Engines
	attach := metrics.NewAttachCalculator(orders, cfg.Orders.LoadConcurrency)
	engine := query.NewEngine(orders, catalogRepo, metrics.NewEngine(attach), query.Options{
		RememberDecisions: cfg.Verification.RememberDecisions,
		MaxPending:        cfg.Verification.MaxPending,
	})

	// 5. Initialize Keyword Index
	index := keyword.NewIndex(orders)

	// 6. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), resolver, cfg.Server.Mode)
	query.NewHandler(engine, catalogRepo.Invalidate, resolver.Invalidate, engine.ForgetDecisions).RegisterRoutes(srv.Engine)
	catalogRepo.RegisterRoutes(srv.Engine)
	keyword.NewHandler(index, orders, cfg.Index.DefaultDims, cfg.Index.DefaultLimit).RegisterRoutes(srv.Engine)

	// Signal handler triggers the shutdown sequence below.
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

	slog.Info("Shutdown complete")
}

func newProvider(ctx context.Context, cfg corecfg.SourceConfig) (fetch.Provider, func(), error) {
	switch cfg.Provider {
	case "dir":
		return fetch.NewDirProvider(cfg.Root), func() {}, nil
	case "http":
		return fetch.NewHTTPProvider(cfg.BaseURL, nil), func() {}, nil
	case "gcs":
		p, err := fetch.NewGCSProvider(ctx, cfg.Bucket, cfg.Prefix, cfg.CredentialsJSON)
		if err != nil {
			return nil, nil, err
		}
		return p, func() {
			if err := p.Close(); err != nil {
				slog.Warn("Failed to close GCS client", "error", err)
			}
		}, nil
	}
	return nil, nil, fmt.Errorf("unsupported source.provider %q", cfg.Provider)
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
