package counter

import (
	"context"
	"time"
)

// Record is one row of the counter ledger: a permanent assignment of a
// counter to a national id. Immutable once written.
type Record struct {
	NationalID string
	Counter    string
	YearCode   string
	CreatedAt  time.Time
}

// SequenceKey identifies one row of the sequence table.
type SequenceKey struct {
	YearCode string
	Prefix   string
}

// Repository is the persistence port consumed by the service and the
// backfill runner. Implementations must provide store-side atomicity for
// ReserveNextSequence and uniqueness enforcement for BindLedger; the service
// holds no locks of its own.
type Repository interface {
	// GetPriorCounter returns the existing ledger record for nationalID,
	// or (nil, nil) when the subject has never been assigned a counter.
	GetPriorCounter(ctx context.Context, nationalID string) (*Record, error)

	// ReserveNextSequence atomically allocates the next sequence number for
	// (yearCode, prefix). The returned value belongs to the caller; the
	// stored next_seq is left one higher. A return of SequenceCeiling means
	// the key is exhausted.
	ReserveNextSequence(ctx context.Context, yearCode, prefix string) (int, error)

	// BindLedger persists rec and returns the stored row. When a concurrent
	// writer already bound the national id (or, defensively, the counter
	// value), the winner's row is returned instead of an error.
	BindLedger(ctx context.Context, rec Record) (Record, error)

	// IterLedger invokes fn for every ledger record. Iteration stops at the
	// first error returned by fn.
	IterLedger(ctx context.Context, fn func(Record) error) error

	// GetSequencePositions returns current next_seq values for all keys.
	GetSequencePositions(ctx context.Context) (map[SequenceKey]int, error)

	// UpsertSequencePosition idempotently sets next_seq for a key.
	UpsertSequencePosition(ctx context.Context, yearCode, prefix string, nextSeq int) error
}

// YearProvider supplies the academic year code in effect for new counters.
type YearProvider interface {
	CurrentYearCode() string
}

// Metrics is the instrumentation port. Implementations must be safe for
// concurrent use; the service treats it as fire-and-forget.
type Metrics interface {
	ObserveReuse(ctx context.Context, year string, gender int)
	ObserveGeneration(ctx context.Context, year string, gender int)
	ObserveConflict(ctx context.Context, conflictType string)
	ObserveOverflow(ctx context.Context, year string, gender int)
	ObserveBackfillMismatch(ctx context.Context, mismatchType string)
	RecordSequencePosition(ctx context.Context, year, prefix string, seq int)
}

// NopMetrics discards all observations. Useful for tests and one-shot CLIs
// that run without an exporter.
type NopMetrics struct{}

func (NopMetrics) ObserveReuse(context.Context, string, int)                   {}
func (NopMetrics) ObserveGeneration(context.Context, string, int)              {}
func (NopMetrics) ObserveConflict(context.Context, string)                     {}
func (NopMetrics) ObserveOverflow(context.Context, string, int)                {}
func (NopMetrics) ObserveBackfillMismatch(context.Context, string)             {}
func (NopMetrics) RecordSequencePosition(context.Context, string, string, int) {}
