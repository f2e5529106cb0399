package bootstrap

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	infralogger "github.com/jonesrussell/north-cloud/likechat/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/likechat/infrastructure/monitoring"
	"github.com/jonesrussell/north-cloud/likechat/infrastructure/profiling"
	infraredis "github.com/jonesrussell/north-cloud/likechat/infrastructure/redis"
	"github.com/jonesrussell/north-cloud/likechat/infrastructure/sse"
	"github.com/jonesrussell/north-cloud/likechat/internal/api"
	"github.com/jonesrussell/north-cloud/likechat/internal/config"
	"github.com/jonesrussell/north-cloud/likechat/internal/handler"
)

// Serve runs the HTTP service until ctx is cancelled or a shutdown signal
// arrives.
func Serve(ctx context.Context, cfg *config.Config, log infralogger.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Phase 0: profiling (if enabled)
	profiling.Start(ctx, cfg.Profiling, log)

	// Phase 1: storage
	stores, err := SetupStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := stores.Close(); closeErr != nil {
			log.Error("Failed to close Redis", infralogger.Error(closeErr))
		}
	}()

	db, err := SetupDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				log.Error("Failed to close database", infralogger.Error(closeErr))
			}
		}()
	}

	// Phase 2: metrics and live feed
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var live sse.Broker
	if cfg.Live.Enabled {
		live = sse.NewBroker(log, sse.WithConfig(cfg.Live))
		if err = live.Start(ctx); err != nil {
			return fmt.Errorf("start live feed: %w", err)
		}
		defer func() { _ = live.Stop() }()
	}

	// Phase 3: engagement service
	eng, err := SetupEngagement(ctx, cfg, EngagementDeps{
		Stores:   stores,
		DB:       db,
		Registry: registry,
		Live:     live,
	}, log)
	if err != nil {
		return err
	}
	defer eng.Close()

	// Phase 4: memory monitor
	memory := monitoring.NewMemoryMonitor(cfg.Monitoring.MemoryThreshold, cfg.Monitoring.CheckInterval, log)
	memory.EstablishBaseline()
	go memory.Run(ctx)

	// Phase 5: HTTP server
	deps := api.ServerDeps{
		Handler:  handler.New(eng.Service, log),
		Registry: registry,
		Live:     live,
		Memory:   memory,
		Done:     ctx.Done(),
	}
	if stores.Redis != nil {
		deps.RedisPing = infraredis.Pinger(stores.Redis)
	}
	if db != nil {
		deps.DatabasePing = db.Ping
	}

	server := api.NewServer(cfg, deps, log)
	if err = server.Run(ctx); err != nil {
		log.Error("Server error", infralogger.Error(err))
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("Server exited")
	return nil
}
