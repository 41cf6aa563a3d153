// Package telemetry owns the OpenTelemetry metrics exporter lifecycle.
//
// The exporter is an explicitly constructed, injected service with a clear
// start/stop lifecycle. Reconfiguration uses compare-and-set semantics: a
// caller must present the configuration it believes is current, and a silent
// overwrite is rejected.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ErrConfigConflict is returned by Reconfigure when the presented current
// configuration does not match the exporter's actual configuration.
var ErrConfigConflict = errors.New("telemetry: configuration changed concurrently")

// Config describes one exporter configuration.
type Config struct {
	Endpoint    string // empty disables export; the global provider stays no-op
	ServiceName string
	Version     string
	Insecure    bool
	Interval    time.Duration
}

// Exporter manages the OTLP metric exporter and the global meter provider.
type Exporter struct {
	mu       sync.Mutex
	cfg      Config
	provider *sdkmetric.MeterProvider
	started  bool
}

// New constructs an Exporter. Nothing is exported until Start is called.
func New(cfg Config) *Exporter {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	return &Exporter{cfg: cfg}
}

// Start creates the OTLP exporter and installs the meter provider globally.
// With an empty endpoint, Start succeeds and metrics stay no-op.
func (e *Exporter) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("telemetry: already started")
	}
	if err := e.startLocked(ctx); err != nil {
		return err
	}
	e.started = true
	return nil
}

func (e *Exporter) startLocked(ctx context.Context) error {
	if e.cfg.Endpoint == "" {
		e.provider = nil
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(e.cfg.ServiceName),
			semconv.ServiceVersionKey.String(e.cfg.Version),
		),
	)
	if err != nil {
		return fmt.Errorf("telemetry: create resource: %w", err)
	}

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(e.cfg.Endpoint)}
	if e.cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exp, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	e.provider = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(e.cfg.Interval)),
		),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(e.provider)
	return nil
}

// Shutdown flushes and stops the exporter.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = false
	if e.provider == nil {
		return nil
	}
	err := e.provider.Shutdown(ctx)
	e.provider = nil
	return err
}

// Reconfigure atomically swaps the exporter configuration. current must
// equal the configuration in effect, otherwise ErrConfigConflict is returned
// and nothing changes.
func (e *Exporter) Reconfigure(ctx context.Context, current, next Config) error {
	if next.Interval <= 0 {
		next.Interval = 15 * time.Second
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg != current {
		return ErrConfigConflict
	}
	if e.provider != nil {
		if err := e.provider.Shutdown(ctx); err != nil {
			return fmt.Errorf("telemetry: shutdown previous provider: %w", err)
		}
		e.provider = nil
	}
	e.cfg = next
	if !e.started {
		return nil
	}
	return e.startLocked(ctx)
}

// Current returns the configuration in effect.
func (e *Exporter) Current() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Meter returns a meter from the globally installed provider.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}
