package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/orderledger/internal/domain"
)

const defaultProbeTimeout = 1500 * time.Millisecond

// HealthRepository probes the backing services the ledger depends on.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.ReadinessReport, error)
}

// DependencyCheck names a probe run during readiness checks, e.g. a Postgres ping or a bucket lookup.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// ProbeOption customises the probe set.
type ProbeOption func(*dependencyProbes)

// WithProbeTimeout overrides the timeout used by checks that do not set their own.
func WithProbeTimeout(timeout time.Duration) ProbeOption {
	return func(p *dependencyProbes) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithProbeClock injects the clock used to stamp results.
func WithProbeClock(clock func() time.Time) ProbeOption {
	return func(p *dependencyProbes) {
		if clock != nil {
			p.now = clock
		}
	}
}

type dependencyProbes struct {
	checks  []DependencyCheck
	timeout time.Duration
	now     func() time.Time
}

// NewDependencyHealthRepository validates checks up front and returns a repository that runs them
// concurrently on every Collect.
func NewDependencyHealthRepository(checks []DependencyCheck, opts ...ProbeOption) (HealthRepository, error) {
	if len(checks) == 0 {
		return nil, errors.New("health repository: at least one dependency check is required")
	}
	seen := make(map[string]struct{}, len(checks))
	for i, check := range checks {
		name := strings.TrimSpace(check.Name)
		if name == "" {
			return nil, fmt.Errorf("health repository: check %d has no name", i)
		}
		if check.Check == nil {
			return nil, fmt.Errorf("health repository: dependency %s has no check function", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("health repository: dependency %s registered twice", name)
		}
		seen[name] = struct{}{}
	}

	probes := &dependencyProbes{
		checks:  append([]DependencyCheck(nil), checks...),
		timeout: defaultProbeTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(probes)
		}
	}
	return probes, nil
}

func (p *dependencyProbes) Collect(ctx context.Context) (domain.ReadinessReport, error) {
	results := make(map[string]domain.DependencyStatus, len(p.checks))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, check := range p.checks {
		wg.Add(1)
		go func(check DependencyCheck) {
			defer wg.Done()
			status := p.run(ctx, check)
			mu.Lock()
			results[strings.TrimSpace(check.Name)] = status
			mu.Unlock()
		}(check)
	}
	wg.Wait()

	overall := domain.HealthStatusOK
	for _, result := range results {
		switch result.Status {
		case domain.HealthStatusError:
			overall = domain.HealthStatusError
		case domain.HealthStatusDegraded:
			if overall == domain.HealthStatusOK {
				overall = domain.HealthStatusDegraded
			}
		}
	}
	return domain.ReadinessReport{
		Status:       overall,
		Dependencies: results,
		GeneratedAt:  p.now(),
	}, nil
}

func (p *dependencyProbes) run(ctx context.Context, check DependencyCheck) domain.DependencyStatus {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = p.timeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := p.now()
	err := check.Check(checkCtx)
	if err == nil && checkCtx.Err() != nil {
		err = checkCtx.Err()
	}
	finished := p.now()

	result := domain.DependencyStatus{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   finished.Sub(started),
		CheckedAt: finished,
	}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		result.Status = domain.HealthStatusError
		result.Detail = "timeout"
	case errors.Is(err, context.Canceled):
		result.Status = domain.HealthStatusError
		result.Detail = "cancelled"
	default:
		result.Status = domain.HealthStatusDegraded
		result.Detail = err.Error()
	}
	return result
}
