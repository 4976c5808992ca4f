package domain

import "time"

const (
	// HealthStatusOK indicates every dependency answered.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates a dependency failed but the editor can still serve open sessions.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates a dependency timed out or was cancelled.
	HealthStatusError = "error"
)

// DependencyStatus is the outcome of one readiness probe.
type DependencyStatus struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// ReadinessReport aggregates dependency probes for the readiness endpoint.
type ReadinessReport struct {
	Status       string
	Dependencies map[string]DependencyStatus
	GeneratedAt  time.Time
}
