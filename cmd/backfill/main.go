// Command backfill reconciles the counter ledger with a gender registry CSV:
//
//	backfill [--db-url URL] [--dry-run] [--report FILE] <input_csv> <year_code>
//
// The input CSV must have national_id and gender columns. The exit code is 1
// when any input failed; sequence reconciliation runs either way.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/sabtedu/counterd/internal/backfill"
	"github.com/sabtedu/counterd/internal/config"
	"github.com/sabtedu/counterd/internal/counter"
	"github.com/sabtedu/counterd/internal/metrics"
	"github.com/sabtedu/counterd/internal/storage"
	"github.com/sabtedu/counterd/internal/telemetry"
	"github.com/sabtedu/counterd/internal/yearcal"
	"github.com/sabtedu/counterd/migrations"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ok, err := run(context.Background(), logger)
	if err != nil {
		slog.Error("backfill failed", "error", err)
		os.Exit(1)
	}
	if !ok {
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) (bool, error) {
	dbURL := flag.String("db-url", "", "database URL; overrides env configuration")
	dryRun := flag.Bool("dry-run", false, "report without mutating state")
	reportPath := flag.String("report", "backfill_report.csv", "output CSV report path")
	flag.Parse()
	if flag.NArg() != 2 {
		return false, fmt.Errorf("usage: backfill [flags] <input_csv> <year_code>")
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return false, err
	}
	if *dbURL != "" {
		cfg.DatabaseURL = *dbURL
	}

	exporter := telemetry.New(telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName + "-backfill",
		Insecure:    cfg.OTELInsecure,
	})
	if err := exporter.Start(ctx); err != nil {
		return false, err
	}
	defer func() { _ = exporter.Shutdown(context.Background()) }()

	input, err := os.Open(flag.Arg(0))
	if err != nil {
		return false, fmt.Errorf("open input: %w", err)
	}
	defer input.Close()

	inputs, err := backfill.LoadInputs(input, logger)
	if err != nil {
		return false, err
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return false, err
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return false, err
	}

	report, err := os.Create(*reportPath)
	if err != nil {
		return false, fmt.Errorf("create report: %w", err)
	}
	defer report.Close()

	m := metrics.NewOTel()
	service := counter.NewService(db, yearcal.NewFixed(flag.Arg(1)), m, logger, cfg.PIIHashSalt)
	runner := backfill.NewRunner(service, db, m, backfill.NewCSVReporter(report), logger, *dryRun)

	summary := runner.Run(ctx, inputs)
	slog.Info("backfill summary",
		"processed", summary.Processed,
		"created", summary.Created,
		"reused", summary.Reused,
		"errors", summary.Errors,
		"sequence_updates", summary.SequenceUpdates,
	)
	return summary.Errors == 0, nil
}
