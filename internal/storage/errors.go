package storage

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes the repository distinguishes.
const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
)

// isIntegrityViolation reports whether err is a unique or check constraint
// violation. These are the only store failures the repository resolves
// itself; everything else surfaces as a conflict.
func isIntegrityViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation || pgErr.Code == pgCheckViolation
}
