// Command counterd serves the counter allocation HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/sabtedu/counterd/internal/config"
	"github.com/sabtedu/counterd/internal/counter"
	"github.com/sabtedu/counterd/internal/metrics"
	"github.com/sabtedu/counterd/internal/ratelimit"
	"github.com/sabtedu/counterd/internal/server"
	"github.com/sabtedu/counterd/internal/storage"
	"github.com/sabtedu/counterd/internal/telemetry"
	"github.com/sabtedu/counterd/internal/yearcal"
	"github.com/sabtedu/counterd/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("COUNTER_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("counterd starting", "version", version, "port", cfg.Port, "env", cfg.Environment)

	exporter := telemetry.New(telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err := exporter.Start(ctx); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = exporter.Shutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	years, err := yearProvider(cfg)
	if err != nil {
		return err
	}

	service := counter.NewService(db, years, metrics.NewOTel(), logger, cfg.PIIHashSalt)

	var limiter ratelimit.Limiter
	if cfg.RateLimitRPS > 0 {
		memLimiter := ratelimit.NewMemoryLimiter(float64(cfg.RateLimitRPS), cfg.RateLimitBurst)
		defer memLimiter.Close()
		limiter = memLimiter
	}

	srv := server.New(server.Config{
		DB:           db,
		Service:      service,
		Years:        years,
		Logger:       logger,
		APIKeyHash:   cfg.APIKeyHash,
		Limiter:      limiter,
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("counterd shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// yearProvider picks the fixed provider when COUNTER_YEAR_CODE is set and
// the Gregorian cut-over provider otherwise.
func yearProvider(cfg config.Config) (counter.YearProvider, error) {
	if cfg.YearCode != "" {
		return yearcal.NewFixed(cfg.YearCode), nil
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	return yearcal.NewGregorian(time.Month(cfg.CutoverMonth), cfg.CutoverDay, loc, nil), nil
}
