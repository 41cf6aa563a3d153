// Command postcheck validates counter tables after a migration or import:
// counter and national id formats, duplicate counters, sequence bounds, and
// drift between counter_sequences and ledger-derived maxima. Exit code 1
// when any check fails.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/sabtedu/counterd/internal/config"
	"github.com/sabtedu/counterd/internal/counter"
	"github.com/sabtedu/counterd/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	failures, err := run(context.Background(), logger)
	if err != nil {
		slog.Error("postcheck failed", "error", err)
		os.Exit(1)
	}
	if failures > 0 {
		slog.Error("postcheck found problems", "failures", failures)
		os.Exit(1)
	}
	slog.Info("postcheck passed")
}

func run(ctx context.Context, logger *slog.Logger) (int, error) {
	dbURL := flag.String("db-url", "", "database URL; overrides env configuration")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return 0, err
	}
	if *dbURL != "" {
		cfg.DatabaseURL = *dbURL
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	failures := 0
	fail := func(msg string, args ...any) {
		failures++
		logger.Error(msg, args...)
	}

	seen := make(map[string]string) // counter -> national id hash source
	ledgerMax := make(map[counter.SequenceKey]int)
	err = db.IterLedger(ctx, func(rec counter.Record) error {
		if !counter.ValidCounter(rec.Counter) {
			fail("invalid counter format", "counter", counter.MaskCounter(rec.Counter))
		}
		if !counter.ValidNationalID(rec.NationalID) {
			fail("invalid national id format",
				"national_id_hash", counter.HashNationalID(cfg.PIIHashSalt, rec.NationalID))
		}
		if prior, dup := seen[rec.Counter]; dup {
			fail("duplicate counter", "counter", counter.MaskCounter(rec.Counter),
				"first_holder_hash", prior)
		} else {
			seen[rec.Counter] = counter.HashNationalID(cfg.PIIHashSalt, rec.NationalID)
		}
		key := counter.SequenceKey{YearCode: rec.YearCode, Prefix: counter.EmbeddedPrefix(rec.Counter)}
		if seq := counter.EmbeddedSequence(rec.Counter); seq > ledgerMax[key] {
			ledgerMax[key] = seq
		}
		return nil
	})
	if err != nil {
		return failures, fmt.Errorf("scan ledger: %w", err)
	}

	positions, err := db.GetSequencePositions(ctx)
	if err != nil {
		return failures, fmt.Errorf("read sequence positions: %w", err)
	}
	for key, nextSeq := range positions {
		if nextSeq < 1 || nextSeq > counter.SequenceCeiling {
			fail("sequence bounds violated",
				"year_code", key.YearCode, "prefix", key.Prefix, "next_seq", nextSeq)
		}
	}
	for key, maxSeq := range ledgerMax {
		if nextSeq, ok := positions[key]; !ok || nextSeq < maxSeq+1 {
			fail("sequence behind ledger",
				"year_code", key.YearCode, "prefix", key.Prefix,
				"ledger_max", maxSeq, "next_seq", nextSeq)
		}
	}

	return failures, nil
}
