package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/cargodesk/api/internal/domain"
)

func TestProbeHealthRepositoryAllHealthy(t *testing.T) {
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewProbeHealthRepository([]DependencyProbe{
		{Name: "firestore", Check: func(context.Context) error { return nil }},
		{Name: "pubsub", Check: func(context.Context) error { return nil }},
	}, WithProbeClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if len(report.Dependencies) != 2 {
		t.Fatalf("expected 2 dependencies, got %d", len(report.Dependencies))
	}
	if report.Dependencies["firestore"].CheckedAt != now {
		t.Fatalf("expected checkedAt %s, got %s", now, report.Dependencies["firestore"].CheckedAt)
	}
	if report.GeneratedAt != now {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
}

func TestProbeHealthRepositoryFailureDegrades(t *testing.T) {
	repo, err := NewProbeHealthRepository([]DependencyProbe{
		{Name: "firestore", Check: func(context.Context) error { return errors.New("boom") }},
		{Name: "pubsub", Check: func(context.Context) error { return nil }},
	})
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if got := report.Dependencies["firestore"].Detail; got != "boom" {
		t.Fatalf("expected detail boom, got %q", got)
	}
	if got := report.Dependencies["pubsub"].Status; got != domain.HealthStatusOK {
		t.Fatalf("expected pubsub ok, got %s", got)
	}
}

func TestProbeHealthRepositoryTimeout(t *testing.T) {
	repo, err := NewProbeHealthRepository([]DependencyProbe{
		{
			Name:    "firestore",
			Timeout: 5 * time.Millisecond,
			Check: func(ctx context.Context) error {
				select {
				case <-time.After(200 * time.Millisecond):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		},
	})
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error, got %s", report.Status)
	}
	if got := report.Dependencies["firestore"].Detail; got != "timeout" {
		t.Fatalf("expected timeout detail, got %q", got)
	}
}

func TestNewProbeHealthRepositoryRejectsInvalidProbes(t *testing.T) {
	cases := map[string][]DependencyProbe{
		"empty":     nil,
		"no name":   {{Check: func(context.Context) error { return nil }}},
		"no check":  {{Name: "firestore"}},
		"duplicate": {{Name: "a", Check: func(context.Context) error { return nil }}, {Name: "a", Check: func(context.Context) error { return nil }}},
	}
	for name, probes := range cases {
		if _, err := NewProbeHealthRepository(probes); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
