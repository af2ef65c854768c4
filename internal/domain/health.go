package domain

import "time"

const (
	// HealthStatusOK indicates every dependency answered.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates a dependency reported an error but the ledger can still serve reads.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates a dependency timed out or the probe was cancelled.
	HealthStatusError = "error"
)

// DependencyStatus is the outcome of probing one backing service.
type DependencyStatus struct {
	Status    string
	Detail    string
	Latency   time.Duration
	CheckedAt time.Time
}

// ReadinessReport aggregates dependency status for the readiness endpoint.
type ReadinessReport struct {
	Status       string
	Dependencies map[string]DependencyStatus
	Version      string
	CommitSHA    string
	Environment  string
	Uptime       time.Duration
	GeneratedAt  time.Time
}

// Ready reports whether the service should receive traffic.
func (r ReadinessReport) Ready() bool {
	return r.Status != HealthStatusError
}
