// Command assign performs a one-shot counter allocation:
//
//	assign [--db-url URL] <national_id> <gender> <year_code>
//
// On success the counter is printed on stdout and the exit code is 0; on
// failure the structured error payload is logged and the exit code is 1.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/sabtedu/counterd/internal/config"
	"github.com/sabtedu/counterd/internal/counter"
	"github.com/sabtedu/counterd/internal/storage"
	"github.com/sabtedu/counterd/internal/yearcal"
	"github.com/sabtedu/counterd/migrations"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(context.Background(), logger); err != nil {
		if svcErr := counter.AsError(err); svcErr != nil {
			payload, _ := json.Marshal(svcErr)
			fmt.Fprintln(os.Stderr, string(payload))
		} else {
			slog.Error("assign failed", "error", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	dbURL := flag.String("db-url", "", "database URL; overrides env configuration")
	flag.Parse()
	if flag.NArg() != 3 {
		return fmt.Errorf("usage: assign [--db-url URL] <national_id> <gender> <year_code>")
	}
	nationalID := flag.Arg(0)
	gender, err := strconv.Atoi(flag.Arg(1))
	if err != nil {
		return counter.NewError(counter.CodeInvalidGender,
			"جنسیت نامعتبر است (صرفاً ۰ یا ۱ مجاز است).",
			map[string]string{"gender": flag.Arg(1)})
	}
	yearCode := flag.Arg(2)

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *dbURL != "" {
		cfg.DatabaseURL = *dbURL
	}

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return err
	}

	service := counter.NewService(db, yearcal.NewFixed(yearCode),
		counter.NopMetrics{}, logger, cfg.PIIHashSalt)

	minted, err := service.GetOrCreate(ctx, nationalID, gender)
	if err != nil {
		return err
	}
	fmt.Println(minted)
	return nil
}
