// Package backfill reconciles the counter ledger with an external gender
// registry and repairs sequence-table drift against ledger-derived truth.
//
// The runner never raises: every per-input failure is captured into the
// summary and report rows so large batches complete even when some inputs
// fail. Running it twice with no new inputs is an idempotent fixed point.
package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sabtedu/counterd/internal/counter"
)

// Input is one row of the reconciliation batch.
type Input struct {
	NationalID string
	Gender     int
}

// Summary aggregates the results of one run.
type Summary struct {
	Processed       int
	Created         int
	Reused          int
	Errors          int
	ErrorCodes      map[string]int
	SequenceUpdates int
}

func (s *Summary) registerError(code string) {
	s.Errors++
	if s.ErrorCodes == nil {
		s.ErrorCodes = make(map[string]int)
	}
	s.ErrorCodes[code]++
}

// Runner drives the counter service for missing assignments and audits
// existing ones. This is the one place reuse correctness (gender vs stored
// prefix) is ever re-checked; the service's hot path trusts on reuse.
type Runner struct {
	service  *counter.Service
	repo     counter.Repository
	metrics  counter.Metrics
	reporter Reporter
	logger   *slog.Logger
	dryRun   bool
}

// NewRunner builds a runner. reporter may be nil to skip report output.
func NewRunner(service *counter.Service, repo counter.Repository, metrics counter.Metrics, reporter Reporter, logger *slog.Logger, dryRun bool) *Runner {
	return &Runner{
		service:  service,
		repo:     repo,
		metrics:  metrics,
		reporter: reporter,
		logger:   logger,
		dryRun:   dryRun,
	}
}

// Run processes the batch, then reconciles sequence positions against the
// ledger regardless of the batch contents.
func (r *Runner) Run(ctx context.Context, inputs []Input) Summary {
	var summary Summary
	var rows []Row

	for _, in := range inputs {
		summary.Processed++

		rec, err := r.repo.GetPriorCounter(ctx, in.NationalID)
		if err != nil {
			r.logger.ErrorContext(ctx, "backfill_lookup_failed",
				"national_id", in.NationalID,
				"error", err,
			)
			summary.registerError(counter.CodeLookupFailed)
			continue
		}

		expectedPrefix := counter.GenderPrefix[in.Gender]
		if rec != nil {
			if counter.EmbeddedPrefix(rec.Counter) != expectedPrefix {
				rows = append(rows, Row{
					NationalID: in.NationalID,
					Code:       counter.CodeGenderMismatch,
					Message:    "پیشوند شماره با جنسیت منطبق نیست.",
					Details: jsonDetails(map[string]string{
						"counter":         rec.Counter,
						"expected_prefix": expectedPrefix,
					}),
				})
				summary.registerError(counter.CodeGenderMismatch)
				r.metrics.ObserveBackfillMismatch(ctx, "gender_prefix")
			} else {
				summary.Reused++
			}
			continue
		}

		if r.dryRun {
			rows = append(rows, Row{
				NationalID: in.NationalID,
				Code:       "DRY_RUN_MISSING",
				Message:    "درای-ران: بدون ایجاد رکورد جدید.",
				Details:    jsonDetails(map[string]string{"gender": strconv.Itoa(in.Gender)}),
			})
			continue
		}

		minted, err := r.service.GetOrCreate(ctx, in.NationalID, in.Gender)
		if err != nil {
			svcErr := counter.AsError(err)
			if svcErr == nil {
				svcErr = counter.WrapError(counter.CodeDBConflict, err.Error(), nil, err)
			}
			rows = append(rows, Row{
				NationalID: in.NationalID,
				Code:       svcErr.Code,
				Message:    svcErr.MessageFa,
				Details:    jsonDetails(svcErr.Details),
			})
			summary.registerError(svcErr.Code)
			continue
		}
		rows = append(rows, Row{
			NationalID: in.NationalID,
			Code:       "ASSIGNED",
			Message:    "شناسه جدید تخصیص داده شد.",
			Details:    jsonDetails(map[string]string{"counter": minted}),
		})
		summary.Created++
	}

	rows = append(rows, r.reconcileSequences(ctx, &summary)...)

	if r.reporter != nil {
		if err := r.reporter.EmitRows(rows); err != nil {
			r.logger.ErrorContext(ctx, "backfill_report_failed", "error", err)
		}
	}
	return summary
}

// reconcileSequences derives the maximum embedded sequence per (year, prefix)
// from the ledger and repairs counter_sequences rows that disagree.
func (r *Runner) reconcileSequences(ctx context.Context, summary *Summary) []Row {
	ledgerMax := make(map[counter.SequenceKey]int)
	err := r.repo.IterLedger(ctx, func(rec counter.Record) error {
		key := counter.SequenceKey{
			YearCode: rec.YearCode,
			Prefix:   counter.EmbeddedPrefix(rec.Counter),
		}
		if seq := counter.EmbeddedSequence(rec.Counter); seq > ledgerMax[key] {
			ledgerMax[key] = seq
		}
		return nil
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "backfill_ledger_scan_failed", "error", err)
		summary.registerError(counter.CodeLookupFailed)
		return nil
	}
	if len(ledgerMax) == 0 {
		return nil
	}

	positions, err := r.repo.GetSequencePositions(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "backfill_positions_failed", "error", err)
		summary.registerError(counter.CodeLookupFailed)
		return nil
	}

	var rows []Row
	for key, maxSeq := range ledgerMax {
		expectedNext := maxSeq + 1
		current, ok := positions[key]
		if ok && current == expectedNext {
			continue
		}

		summary.SequenceUpdates++
		details := map[string]string{
			"year_code":         key.YearCode,
			"prefix":            key.Prefix,
			"expected_next_seq": strconv.Itoa(expectedNext),
		}
		if ok {
			details["current_next_seq"] = strconv.Itoa(current)
		}

		if r.dryRun {
			rows = append(rows, Row{
				NationalID: key.YearCode + "-" + key.Prefix,
				Code:       "SEQUENCE_UPDATE_DRY_RUN",
				Message:    "درای-ران: بروزرسانی توالی لازم است.",
				Details:    jsonDetails(details),
			})
			continue
		}

		if err := r.repo.UpsertSequencePosition(ctx, key.YearCode, key.Prefix, expectedNext); err != nil {
			r.logger.ErrorContext(ctx, "backfill_sequence_upsert_failed",
				"year_code", key.YearCode,
				"prefix", key.Prefix,
				"error", err,
			)
			summary.registerError(counter.CodeDBConflict)
			continue
		}
		r.metrics.RecordSequencePosition(ctx, key.YearCode, key.Prefix, maxSeq)
		rows = append(rows, Row{
			NationalID: key.YearCode + "-" + key.Prefix,
			Code:       "SEQUENCE_UPDATE",
			Message:    "توالی به مقدار صحیح به‌روزرسانی شد.",
			Details:    jsonDetails(details),
		})
	}
	return rows
}

func jsonDetails(details map[string]string) string {
	if len(details) == 0 {
		return "{}"
	}
	b, err := json.Marshal(details)
	if err != nil {
		return fmt.Sprintf("%v", details)
	}
	return string(b)
}
