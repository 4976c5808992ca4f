package observability

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type recordingCounter struct {
	noop.Int64Counter
	events []string
}

func (c *recordingCounter) Add(_ context.Context, incr int64, opts ...metric.AddOption) {
	cfg := metric.NewAddConfig(opts)
	attrs := cfg.Attributes()
	value, _ := attrs.Value("event")
	for i := int64(0); i < incr; i++ {
		c.events = append(c.events, value.AsString())
	}
}

type recordingMeter struct {
	noop.Meter
	counter *recordingCounter
}

func (m recordingMeter) Int64Counter(string, ...metric.Int64CounterOption) (metric.Int64Counter, error) {
	return m.counter, nil
}

func TestMeteredEventLoggerCountsAndForwards(t *testing.T) {
	counter := &recordingCounter{}
	var forwarded []string
	logger, err := MeteredEventLogger(recordingMeter{counter: counter}, func(_ context.Context, event string, _ map[string]any) {
		forwarded = append(forwarded, event)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger(context.Background(), "editor.session.opened", nil)
	logger(context.Background(), "editor.submitted", map[string]any{"shipmentId": "SH1"})

	if len(counter.events) != 2 || counter.events[1] != "editor.submitted" {
		t.Fatalf("unexpected counted events %v", counter.events)
	}
	if len(forwarded) != 2 || forwarded[0] != "editor.session.opened" {
		t.Fatalf("unexpected forwarded events %v", forwarded)
	}
}

func TestVerificationRecorderWithNoopMeter(t *testing.T) {
	record, err := VerificationRecorder(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	record(context.Background(), "oidc", true, "", 3*time.Millisecond)
}
