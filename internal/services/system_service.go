package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemService reports process and dependency status.
type SystemService interface {
	Readiness(ctx context.Context) (domain.ReadinessReport, error)
	Build() BuildInfo
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	Health repositories.HealthRepository
	Clock  func() time.Time
	Build  BuildInfo
}

type systemService struct {
	health repositories.HealthRepository
	clock  func() time.Time
	build  BuildInfo
}

// NewSystemService assembles the system service. Without a health repository every readiness
// report is ok with no dependencies listed.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}
	return &systemService{
		health: deps.Health,
		clock:  func() time.Time { return clock().UTC() },
		build:  build,
	}, nil
}

func (s *systemService) Build() BuildInfo {
	return s.build
}

func (s *systemService) Readiness(ctx context.Context) (domain.ReadinessReport, error) {
	if ctx == nil {
		return domain.ReadinessReport{}, errors.New("system service: context is required")
	}
	now := s.clock()
	report := domain.ReadinessReport{Status: domain.HealthStatusOK}
	if s.health != nil {
		collected, err := s.health.Collect(ctx)
		if err != nil {
			return domain.ReadinessReport{}, err
		}
		report = collected
	}

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	} else {
		report.GeneratedAt = report.GeneratedAt.UTC()
	}
	report.Version = firstNonEmpty(report.Version, s.build.Version)
	report.CommitSHA = firstNonEmpty(report.CommitSHA, s.build.CommitSHA)
	report.Environment = firstNonEmpty(report.Environment, s.build.Environment)
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Dependencies == nil {
		report.Dependencies = map[string]domain.DependencyStatus{}
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = domain.HealthStatusOK
	}
	return report, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
