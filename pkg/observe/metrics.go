// Package observe provides the OpenTelemetry metrics recorded by the
// playback engine and a Prometheus bridge for scraping them.
//
// Tests should build a [Metrics] with [NewMetrics] over their own
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope for every promptdj metric.
const meterName = "github.com/lokutor-ai/promptdj"

// Metrics holds the engine's instruments. All fields are safe for
// concurrent use.
type Metrics struct {
	// FragmentsReceived counts inbound audio fragments.
	FragmentsReceived metric.Int64Counter

	// FragmentsScheduled counts fragments placed on the output timeline.
	FragmentsScheduled metric.Int64Counter

	// FragmentsDropped counts discarded fragments. Use with attribute:
	//   attribute.String("reason", "inactive"|"decode"|"underrun")
	FragmentsDropped metric.Int64Counter

	// Underruns counts resets of the schedule cursor.
	Underruns metric.Int64Counter

	// PromptPushes counts upstream prompt updates. Use with attribute:
	//   attribute.String("status", "ok"|"error"|"empty")
	PromptPushes metric.Int64Counter

	// FilteredPrompts counts prompt texts rejected by the backend.
	FilteredPrompts metric.Int64Counter

	// StateTransitions counts playback state changes. Use with attribute:
	//   attribute.String("state", ...)
	StateTransitions metric.Int64Counter

	// ScheduledAhead records how far the cursor leads the output clock
	// after each scheduled fragment.
	ScheduledAhead metric.Float64Histogram
}

var aheadBuckets = []float64{0, 0.25, 0.5, 1, 1.5, 2, 2.5, 3, 5}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FragmentsReceived, err = m.Int64Counter("promptdj.fragments.received",
		metric.WithDescription("Audio fragments received from the backend."),
	); err != nil {
		return nil, err
	}
	if met.FragmentsScheduled, err = m.Int64Counter("promptdj.fragments.scheduled",
		metric.WithDescription("Audio fragments scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.FragmentsDropped, err = m.Int64Counter("promptdj.fragments.dropped",
		metric.WithDescription("Audio fragments discarded before playback."),
	); err != nil {
		return nil, err
	}
	if met.Underruns, err = m.Int64Counter("promptdj.underruns",
		metric.WithDescription("Times the schedule cursor fell behind the output clock."),
	); err != nil {
		return nil, err
	}
	if met.PromptPushes, err = m.Int64Counter("promptdj.prompt.pushes",
		metric.WithDescription("Weighted prompt updates sent upstream."),
	); err != nil {
		return nil, err
	}
	if met.FilteredPrompts, err = m.Int64Counter("promptdj.prompt.filtered",
		metric.WithDescription("Prompt texts rejected by the backend."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("promptdj.state.transitions",
		metric.WithDescription("Playback state changes."),
	); err != nil {
		return nil, err
	}
	if met.ScheduledAhead, err = m.Float64Histogram("promptdj.schedule.ahead",
		metric.WithDescription("Lead of the schedule cursor over the output clock."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(aheadBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Discard returns metrics backed by a no-op provider.
func Discard() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: failed to create no-op metrics: " + err.Error())
	}
	return m
}

// RecordDrop counts one dropped fragment.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.FragmentsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordPush counts one prompt push attempt.
func (m *Metrics) RecordPush(ctx context.Context, status string) {
	m.PromptPushes.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordTransition counts entry into state.
func (m *Metrics) RecordTransition(ctx context.Context, state string) {
	m.StateTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}
