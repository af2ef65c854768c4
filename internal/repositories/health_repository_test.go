package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/orderledger/internal/domain"
)

func TestDependencyHealthRepositoryAllHealthy(t *testing.T) {
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "postgres", Check: func(context.Context) error { return nil }},
		{Name: "storage", Check: func(context.Context) error { return nil }},
	}, WithProbeClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK || !report.Ready() {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if len(report.Dependencies) != 2 {
		t.Fatalf("expected 2 dependencies, got %d", len(report.Dependencies))
	}
	for name, dep := range report.Dependencies {
		if dep.Status != domain.HealthStatusOK || !dep.CheckedAt.Equal(now) {
			t.Fatalf("unexpected result for %s: %+v", name, dep)
		}
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
}

func TestDependencyHealthRepositoryDegradedAndTimeout(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "kafka", Check: func(context.Context) error { return errors.New("no brokers") }},
		{Name: "postgres", Check: func(context.Context) error { return nil }},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}
	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded || !report.Ready() {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if report.Dependencies["kafka"].Detail != "no brokers" {
		t.Fatalf("unexpected detail %+v", report.Dependencies["kafka"])
	}

	repo, err = NewDependencyHealthRepository([]DependencyCheck{
		{Name: "postgres", Timeout: 10 * time.Millisecond, Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}
	report, err = repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusError || report.Ready() {
		t.Fatalf("expected error status, got %s", report.Status)
	}
	if report.Dependencies["postgres"].Detail != "timeout" {
		t.Fatalf("expected timeout detail, got %+v", report.Dependencies["postgres"])
	}
}

func TestNewDependencyHealthRepositoryValidatesChecks(t *testing.T) {
	noop := func(context.Context) error { return nil }
	cases := map[string][]DependencyCheck{
		"empty":     nil,
		"no name":   {{Name: " ", Check: noop}},
		"no func":   {{Name: "postgres"}},
		"duplicate": {{Name: "postgres", Check: noop}, {Name: "postgres", Check: noop}},
	}
	for name, checks := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewDependencyHealthRepository(checks); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
