package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/nip10/varyant/internal/monitor"

// Metrics holds the session instruments.
type Metrics struct {
	fetches metric.Int64Counter
	drops   metric.Int64Counter
	errors  metric.Int64Counter
	latency metric.Float64Histogram
}

// NewMetrics creates the instruments on mp, or on the global provider
// when mp is nil.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	fetches, err := meter.Int64Counter(
		"varyant_monitor_fetches_total",
		metric.WithDescription("Snapshot fetches started by monitor sessions"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating fetches counter: %w", err)
	}

	drops, err := meter.Int64Counter(
		"varyant_monitor_dropped_ticks_total",
		metric.WithDescription("Ticks dropped because a fetch was in flight"),
		metric.WithUnit("{tick}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating drops counter: %w", err)
	}

	errs, err := meter.Int64Counter(
		"varyant_monitor_fetch_errors_total",
		metric.WithDescription("Failed snapshot fetches"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating errors counter: %w", err)
	}

	latency, err := meter.Float64Histogram(
		"varyant_monitor_fetch_duration_seconds",
		metric.WithDescription("Snapshot fetch duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating latency histogram: %w", err)
	}

	return &Metrics{fetches: fetches, drops: drops, errors: errs, latency: latency}, nil
}

func (m *Metrics) fetchStarted(ctx context.Context, experimentID int64, trigger string) {
	if m == nil {
		return
	}
	m.fetches.Add(ctx, 1, metric.WithAttributes(
		attribute.Int64("experiment_id", experimentID),
		attribute.String("trigger", trigger),
	))
}

func (m *Metrics) tickDropped(ctx context.Context, experimentID int64) {
	if m == nil {
		return
	}
	m.drops.Add(ctx, 1, metric.WithAttributes(attribute.Int64("experiment_id", experimentID)))
}

func (m *Metrics) fetchFinished(ctx context.Context, experimentID int64, seconds float64, err error) {
	if m == nil {
		return
	}
	opt := metric.WithAttributes(attribute.Int64("experiment_id", experimentID))
	m.latency.Record(ctx, seconds, opt)
	if err != nil {
		m.errors.Add(ctx, 1, opt)
	}
}
