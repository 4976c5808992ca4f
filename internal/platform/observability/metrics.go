package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const metricNamespace = "github.com/cargodesk/api"

// MeteredEventLogger counts every service event on the console.editor.events counter, tagged
// with the event name, and then forwards it to next. A nil meter uses the global provider.
func MeteredEventLogger(meter metric.Meter, next func(context.Context, string, map[string]any)) (func(context.Context, string, map[string]any), error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	counter, err := meter.Int64Counter("console.editor.events",
		metric.WithDescription("Editor service events by name"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: create editor event counter: %w", err)
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		counter.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
		if next != nil {
			next(ctx, event, fields)
		}
	}, nil
}

// VerificationRecorder records operator token verifications: a counter by outcome and a
// latency histogram in milliseconds.
func VerificationRecorder(meter metric.Meter) (func(context.Context, string, bool, string, time.Duration), error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	outcomes, err := meter.Int64Counter("console.auth.verifications",
		metric.WithDescription("Operator token verifications by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: create verification counter: %w", err)
	}
	latency, err := meter.Float64Histogram("console.auth.verification_latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of operator token verification"),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: create verification histogram: %w", err)
	}
	return func(ctx context.Context, kind string, success bool, reason string, d time.Duration) {
		attrs := metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.Bool("success", success),
			attribute.String("reason", reason),
		)
		outcomes.Add(ctx, 1, attrs)
		latency.Record(ctx, float64(d)/float64(time.Millisecond), attrs)
	}, nil
}
