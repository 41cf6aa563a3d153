// Package metrics implements the counter.Metrics port on OpenTelemetry.
package metrics

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sabtedu/counterd/internal/telemetry"
)

// OTel emits counter allocation metrics through the global meter provider.
// Instruments are created once at construction; with no exporter installed
// they are no-ops.
type OTel struct {
	reuse     metric.Int64Counter
	generated metric.Int64Counter
	conflict  metric.Int64Counter
	overflow  metric.Int64Counter
	mismatch  metric.Int64Counter
	position  metric.Int64Gauge
}

// NewOTel creates the instrument set under the counterd scope.
func NewOTel() *OTel {
	meter := telemetry.Meter("counterd/counter")
	reuse, _ := meter.Int64Counter("counter.reuse",
		metric.WithDescription("Times a prior counter was reused."))
	generated, _ := meter.Int64Counter("counter.generated",
		metric.WithDescription("Times a new counter was generated."))
	conflict, _ := meter.Int64Counter("counter.conflict",
		metric.WithDescription("Repository conflicts encountered."))
	overflow, _ := meter.Int64Counter("counter.overflow",
		metric.WithDescription("Times a sequence was exhausted."))
	mismatch, _ := meter.Int64Counter("counter.backfill.mismatch",
		metric.WithDescription("Ledger mismatches discovered by the backfill pipeline."))
	position, _ := meter.Int64Gauge("counter.sequence.position",
		metric.WithDescription("Last successfully reserved sequence number per (year, prefix)."))
	return &OTel{
		reuse:     reuse,
		generated: generated,
		conflict:  conflict,
		overflow:  overflow,
		mismatch:  mismatch,
		position:  position,
	}
}

func yearGender(year string, gender int) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("year", year),
		attribute.String("gender", strconv.Itoa(gender)),
	)
}

func (m *OTel) ObserveReuse(ctx context.Context, year string, gender int) {
	m.reuse.Add(ctx, 1, yearGender(year, gender))
}

func (m *OTel) ObserveGeneration(ctx context.Context, year string, gender int) {
	m.generated.Add(ctx, 1, yearGender(year, gender))
}

func (m *OTel) ObserveConflict(ctx context.Context, conflictType string) {
	m.conflict.Add(ctx, 1, metric.WithAttributes(attribute.String("type", conflictType)))
}

func (m *OTel) ObserveOverflow(ctx context.Context, year string, gender int) {
	m.overflow.Add(ctx, 1, yearGender(year, gender))
}

func (m *OTel) ObserveBackfillMismatch(ctx context.Context, mismatchType string) {
	m.mismatch.Add(ctx, 1, metric.WithAttributes(attribute.String("type", mismatchType)))
}

func (m *OTel) RecordSequencePosition(ctx context.Context, year, prefix string, seq int) {
	m.position.Record(ctx, int64(seq), metric.WithAttributes(
		attribute.String("year", year),
		attribute.String("prefix", prefix),
	))
}
