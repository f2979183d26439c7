package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweepworld/server/internal/api"
	"github.com/sweepworld/server/internal/auth"
	"github.com/sweepworld/server/internal/chunkservice"
	"github.com/sweepworld/server/internal/config"
	"github.com/sweepworld/server/internal/database"
	"github.com/sweepworld/server/internal/minegen"
	"github.com/sweepworld/server/internal/performance"
	"github.com/sweepworld/server/internal/streaming"
)

// shutdownTimeout bounds how long in-flight requests get on SIGINT/SIGTERM.
const shutdownTimeout = 15 * time.Second

// main starts the sweepworld chunk server.
func main() {
	if err := run(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Server.IsDevelopment() {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}
	log.Printf("Environment: %s", cfg.Server.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	generator, err := minegen.NewWithAlgorithm(cfg.World.Seed, cfg.World.NoiseAlgorithm)
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}

	cache, closeCache, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	profiler := performance.NewProfiler(cfg.Logging.ProfilingEnabled)
	service := chunkservice.New(generator, chunkservice.Options{
		Cache:    cache,
		Profiler: profiler,
		Workers:  cfg.World.GeneratorWorkers,
	})

	jwtService := auth.NewJWTService(cfg.Auth)
	deps := api.Dependencies{
		Service:        service,
		Streams:        streaming.NewManager(),
		Profiler:       profiler,
		Auth:           auth.NewMiddleware(jwtService, cfg.Auth.Required),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
		MaxBatchChunks: cfg.World.MaxBatchChunks,
	}

	mux := http.NewServeMux()
	wsHandlers := api.SetupRoutes(mux, deps)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.Middleware(mux, deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.Logging.ProfilingEnabled && cfg.Logging.ProfilingReportInterval > 0 {
		go reportLoop(ctx, profiler, cfg.Logging.ProfilingReportInterval)
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("Sweepworld server starting on %s (seed=%d, noise=%s, cache=%s, auth_required=%v)",
			server.Addr, generator.Seed(), generator.Algorithm(), cfg.Cache.Backend, cfg.Auth.Required)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("listen failed: %w", err)
		}
	case <-ctx.Done():
		log.Printf("Shutting down")
	}

	// Hijacked WebSocket connections are not tracked by Shutdown.
	wsHandlers.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	if profiler.IsEnabled() {
		profiler.LogReport()
	}
	return nil
}

// openCache builds the configured chunk cache. The returned close function
// is always safe to call.
func openCache(ctx context.Context, cfg *config.Config) (database.ChunkCache, func(), error) {
	switch cfg.Cache.Backend {
	case config.CacheNone:
		return nil, func() {}, nil
	case config.CacheMemory:
		return database.NewMemoryChunkCache(cfg.Cache.MaxChunks), func() {}, nil
	case config.CachePostgres:
		db, err := database.Open(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		store := database.NewPostgresChunkCache(db)
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to prepare chunk cache: %w", err)
		}
		purged, err := store.Purge(ctx, minegen.GeneratorVersion)
		if err != nil {
			log.Printf("[Cache] Failed to purge outdated chunks: %v", err)
		} else if purged > 0 {
			log.Printf("[Cache] Purged %d chunks from older generator versions", purged)
		}
		return store, func() { db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func reportLoop(ctx context.Context, profiler *performance.Profiler, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			profiler.LogReport()
		case <-ctx.Done():
			return
		}
	}
}
