package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sabtedu/counterd/internal/counter"
)

const reserveSQL = `
	UPDATE counter_sequences
	   SET next_seq = next_seq + 1,
	       updated_at = now()
	 WHERE year_code = $1 AND prefix = $2
	RETURNING next_seq - 1`

// ReserveNextSequence atomically allocates the next sequence number for
// (yearCode, prefix). The single UPDATE ... RETURNING statement is the whole
// transaction: Postgres row-level atomicity guarantees every successful
// reservation is strictly greater than every previous one for the key, and
// no two concurrent callers receive the same value.
//
// On first use the row is bootstrapped with a conflict-tolerant insert and
// the update repeated. When the stored value is already at the ceiling, the
// bounds check constraint rejects the increment and SequenceCeiling is
// returned so the service can taxonomize the exhaustion. Note the gap
// semantics: a crash between reservation and ledger bind permanently loses
// the reserved number. That is accepted by design.
func (db *DB) ReserveNextSequence(ctx context.Context, yearCode, prefix string) (int, error) {
	allocated, found, err := db.tryReserve(ctx, yearCode, prefix)
	if err != nil || found {
		return allocated, err
	}

	// No row yet: bootstrap it, tolerating a concurrent winner.
	if _, err := db.pool.Exec(ctx,
		`INSERT INTO counter_sequences (year_code, prefix, next_seq)
		 VALUES ($1, $2, 1)
		 ON CONFLICT DO NOTHING`,
		yearCode, prefix,
	); err != nil {
		return 0, counter.WrapError(counter.CodeDBConflict,
			"ثبت توالی اولیه با خطا مواجه شد.",
			map[string]string{"year_code": yearCode, "prefix": prefix}, err)
	}

	allocated, found, err = db.tryReserve(ctx, yearCode, prefix)
	if err != nil {
		return allocated, err
	}
	if !found {
		return 0, counter.NewError(counter.CodeDBConflict,
			"رزرو توالی ناموفق بود.",
			map[string]string{"year_code": yearCode, "prefix": prefix})
	}
	return allocated, nil
}

// tryReserve runs the atomic increment once. found is false when no sequence
// row exists for the key.
func (db *DB) tryReserve(ctx context.Context, yearCode, prefix string) (allocated int, found bool, err error) {
	err = db.pool.QueryRow(ctx, reserveSQL, yearCode, prefix).Scan(&allocated)
	if err == nil {
		return allocated, true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if isIntegrityViolation(err) {
		// The bounds constraint rejected the increment. Probe the stored
		// value to distinguish exhaustion from genuine corruption.
		var nextSeq int
		probeErr := db.pool.QueryRow(ctx,
			`SELECT next_seq FROM counter_sequences WHERE year_code = $1 AND prefix = $2`,
			yearCode, prefix,
		).Scan(&nextSeq)
		if probeErr == nil && nextSeq >= counter.SequenceCeiling {
			return counter.SequenceCeiling, true, nil
		}
		return 0, false, counter.WrapError(counter.CodeDBConflict,
			"به‌روزرسانی توالی با خطا مواجه شد.",
			map[string]string{"year_code": yearCode, "prefix": prefix}, err)
	}
	return 0, false, fmt.Errorf("storage: reserve sequence: %w", err)
}

// GetSequencePositions returns current next_seq values for every key.
func (db *DB) GetSequencePositions(ctx context.Context) (map[counter.SequenceKey]int, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT year_code, prefix, next_seq FROM counter_sequences`)
	if err != nil {
		return nil, fmt.Errorf("storage: get sequence positions: %w", err)
	}
	defer rows.Close()

	positions := make(map[counter.SequenceKey]int)
	for rows.Next() {
		var key counter.SequenceKey
		var nextSeq int
		if err := rows.Scan(&key.YearCode, &key.Prefix, &nextSeq); err != nil {
			return nil, fmt.Errorf("storage: scan sequence position: %w", err)
		}
		positions[key] = nextSeq
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: sequence position rows: %w", err)
	}
	return positions, nil
}

// UpsertSequencePosition idempotently sets next_seq for a key. Used by the
// backfill reconciler to repair drift against ledger-derived maxima.
func (db *DB) UpsertSequencePosition(ctx context.Context, yearCode, prefix string, nextSeq int) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO counter_sequences (year_code, prefix, next_seq, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (year_code, prefix)
		 DO UPDATE SET next_seq = EXCLUDED.next_seq, updated_at = now()`,
		yearCode, prefix, nextSeq,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert sequence position: %w", err)
	}
	return nil
}
