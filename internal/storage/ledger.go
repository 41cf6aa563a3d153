package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/sabtedu/counterd/internal/counter"
)

const ledgerColumns = "national_id, counter, year_code, created_at"

// GetPriorCounter returns the ledger record for nationalID, or (nil, nil)
// when the subject has never been assigned a counter.
func (db *DB) GetPriorCounter(ctx context.Context, nationalID string) (*counter.Record, error) {
	var rec counter.Record
	err := db.pool.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM counter_ledger WHERE national_id = $1`,
		nationalID,
	).Scan(&rec.NationalID, &rec.Counter, &rec.YearCode, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get prior counter: %w", err)
	}
	return &rec, nil
}

// BindLedger inserts rec into the ledger. A unique violation means a
// concurrent writer raced us: the row already bound to the national id wins;
// failing that, the row already holding the counter value wins (defensive —
// unreachable if sequence reservation is correct). Only an unresolvable
// violation becomes an E_DB_CONFLICT error.
func (db *DB) BindLedger(ctx context.Context, rec counter.Record) (counter.Record, error) {
	stored := rec
	err := db.pool.QueryRow(ctx,
		`INSERT INTO counter_ledger (national_id, counter, year_code)
		 VALUES ($1, $2, $3)
		 RETURNING created_at`,
		rec.NationalID, rec.Counter, rec.YearCode,
	).Scan(&stored.CreatedAt)
	if err == nil {
		return stored, nil
	}
	if !isIntegrityViolation(err) {
		return counter.Record{}, fmt.Errorf("storage: bind ledger: %w", err)
	}

	existing, lookupErr := db.GetPriorCounter(ctx, rec.NationalID)
	if lookupErr != nil {
		return counter.Record{}, lookupErr
	}
	if existing != nil {
		return *existing, nil
	}

	byCounter, lookupErr := db.getByCounter(ctx, rec.Counter)
	if lookupErr != nil {
		return counter.Record{}, lookupErr
	}
	if byCounter != nil {
		return *byCounter, nil
	}

	return counter.Record{}, counter.WrapError(counter.CodeDBConflict,
		"اطلاعات دفترچه در وضعیت ناسازگار است.",
		map[string]string{"counter": counter.MaskCounter(rec.Counter)}, err)
}

func (db *DB) getByCounter(ctx context.Context, c string) (*counter.Record, error) {
	var rec counter.Record
	err := db.pool.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM counter_ledger WHERE counter = $1`, c,
	).Scan(&rec.NationalID, &rec.Counter, &rec.YearCode, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get by counter: %w", err)
	}
	return &rec, nil
}

// IterLedger streams every ledger record through fn in primary key order.
func (db *DB) IterLedger(ctx context.Context, fn func(counter.Record) error) error {
	rows, err := db.pool.Query(ctx,
		`SELECT `+ledgerColumns+` FROM counter_ledger ORDER BY national_id`)
	if err != nil {
		return fmt.Errorf("storage: iter ledger: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec counter.Record
		if err := rows.Scan(&rec.NationalID, &rec.Counter, &rec.YearCode, &rec.CreatedAt); err != nil {
			return fmt.Errorf("storage: iter ledger scan: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("storage: iter ledger rows: %w", err)
	}
	return nil
}
