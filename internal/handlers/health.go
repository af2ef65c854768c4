package handlers

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/platform/httpx"
	"github.com/hanko-field/orderledger/internal/services"
)

const defaultReadinessTimeout = 3 * time.Second

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	system  services.SystemService
	build   services.BuildInfo
	clock   func() time.Time
	timeout time.Duration
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// NewHealthHandlers builds the probe handlers. Without a system service /readyz always reports ok.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		clock:   time.Now,
		timeout: defaultReadinessTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

// WithHealthSystemService sets the service consulted by /readyz. Its build info is used unless
// WithHealthBuildInfo is also given.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = svc
		if svc != nil && h.build == (services.BuildInfo{}) {
			h.build = svc.Build()
		}
	}
}

// WithHealthBuildInfo sets the version metadata returned by /healthz.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock, for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithReadinessTimeout bounds the dependency probes run by /readyz.
func WithReadinessTimeout(d time.Duration) HealthOption {
	return func(h *HealthHandlers) {
		if d > 0 {
			h.timeout = d
		}
	}
}

type healthzResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	CommitSHA   string `json:"commitSha,omitempty"`
	Environment string `json:"environment,omitempty"`
	Uptime      string `json:"uptime"`
	Timestamp   string `json:"timestamp"`
}

type readyzResponse struct {
	Status      string                      `json:"status"`
	Checks      map[string]dependencyStatus `json:"checks"`
	Details     []string                    `json:"details,omitempty"`
	Version     string                      `json:"version,omitempty"`
	CommitSHA   string                      `json:"commitSha,omitempty"`
	Environment string                      `json:"environment,omitempty"`
	Uptime      string                      `json:"uptime,omitempty"`
	GeneratedAt string                      `json:"generatedAt"`
}

type dependencyStatus struct {
	Status    string  `json:"status"`
	Detail    string  `json:"detail,omitempty"`
	LatencyMS float64 `json:"latencyMs"`
	CheckedAt string  `json:"checkedAt,omitempty"`
}

// Healthz reports that the process is up. It never touches dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	httpx.WriteJSON(w, http.StatusOK, healthzResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		Timestamp:   now.Format(time.RFC3339),
	})
}

// Readyz probes dependencies. Degraded dependencies still answer 200; errors answer 503.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	if h.system == nil {
		httpx.WriteJSON(w, http.StatusOK, readyzResponse{
			Status:      domain.HealthStatusOK,
			Checks:      map[string]dependencyStatus{},
			GeneratedAt: now.Format(time.RFC3339),
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	report, err := h.system.Readiness(ctx)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("readiness_failed", err.Error(), http.StatusServiceUnavailable))
		return
	}

	payload := readyzResponse{
		Status:      report.Status,
		Checks:      make(map[string]dependencyStatus, len(report.Dependencies)),
		Version:     report.Version,
		CommitSHA:   report.CommitSHA,
		Environment: report.Environment,
		Uptime:      report.Uptime.Round(time.Second).String(),
		GeneratedAt: formatTime(report.GeneratedAt),
	}
	names := make([]string, 0, len(report.Dependencies))
	for name := range report.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dep := report.Dependencies[name]
		payload.Checks[name] = dependencyStatus{
			Status:    dep.Status,
			Detail:    dep.Detail,
			LatencyMS: float64(dep.Latency.Microseconds()) / 1000,
			CheckedAt: formatTime(dep.CheckedAt),
		}
		if detail := strings.TrimSpace(dep.Detail); detail != "" && dep.Status != domain.HealthStatusOK {
			payload.Details = append(payload.Details, name+": "+detail)
		}
	}

	status := http.StatusOK
	if !report.Ready() {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, payload)
}
