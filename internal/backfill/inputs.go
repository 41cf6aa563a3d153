package backfill

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/sabtedu/counterd/internal/counter"
)

// LoadInputs reads a CSV of national_id,gender rows. Gender accepts the
// canonical codes and upstream aliases (f/female/زن/…). Rows that cannot be
// interpreted are skipped with a warning rather than aborting the batch.
func LoadInputs(r io.Reader, logger *slog.Logger) ([]Input, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("backfill: read input header: %w", err)
	}

	idCol, genderCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "national_id":
			idCol = i
		case "gender":
			genderCol = i
		}
	}
	if idCol < 0 || genderCol < 0 {
		return nil, fmt.Errorf("backfill: input must have national_id and gender columns, got %v", header)
	}

	var inputs []Input
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("backfill: read input row: %w", err)
		}

		nationalID := strings.TrimSpace(record[idCol])
		if nationalID == "" {
			logger.Warn("skipping row without national_id")
			continue
		}
		raw := strings.TrimSpace(strings.ToLower(record[genderCol]))
		gender, ok := counter.GenderAliases[raw]
		if !ok {
			logger.Warn("skipping row with invalid gender", "gender", record[genderCol])
			continue
		}
		inputs = append(inputs, Input{NationalID: nationalID, Gender: gender})
	}
	return inputs, nil
}
