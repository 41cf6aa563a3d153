package backfill

import (
	"encoding/csv"
	"fmt"
	"io"
)

// Row is one structured line of the backfill report.
type Row struct {
	NationalID string
	Code       string
	Message    string
	Details    string
}

// Reporter persists report rows. Implementations are swappable: CSV for the
// CLI, buffers for tests.
type Reporter interface {
	EmitRows(rows []Row) error
}

// CSVReporter writes rows as CSV with a fixed header.
type CSVReporter struct {
	w      *csv.Writer
	header bool
}

// NewCSVReporter wraps w. The header is written before the first row batch.
func NewCSVReporter(w io.Writer) *CSVReporter {
	return &CSVReporter{w: csv.NewWriter(w)}
}

func (r *CSVReporter) EmitRows(rows []Row) error {
	if !r.header {
		if err := r.w.Write([]string{"national_id", "code", "message", "details"}); err != nil {
			return fmt.Errorf("backfill: write report header: %w", err)
		}
		r.header = true
	}
	for _, row := range rows {
		if err := r.w.Write([]string{row.NationalID, row.Code, row.Message, row.Details}); err != nil {
			return fmt.Errorf("backfill: write report row: %w", err)
		}
	}
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		return fmt.Errorf("backfill: flush report: %w", err)
	}
	return nil
}
