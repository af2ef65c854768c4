package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hanko-field/orderledger/internal/repositories"
)

const (
	orderCounterID           = "orders"
	defaultOrderNumberPrefix = "ORD"
)

// ErrCounterInvalidInput indicates the caller supplied invalid counter parameters.
var ErrCounterInvalidInput = errors.New("counter: invalid input")

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Prefix     string
}

type counterService struct {
	repo   repositories.CounterRepository
	prefix string
}

// NewCounterService constructs a service that formats sequence values drawn from the repository.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	prefix := strings.TrimSpace(deps.Prefix)
	if prefix == "" {
		prefix = defaultOrderNumberPrefix
	}
	return &counterService{repo: deps.Repository, prefix: prefix}, nil
}

// NextOrderNumber returns {prefix}-{year}-{seq}. Inside a unit of work the increment commits or rolls
// back with the caller's transaction when the counter lives in the same store.
func (s *counterService) NextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.repo.Next(ctx, orderCounterID, 1)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) && counterErr.Code == repositories.CounterErrorInvalidInput {
			return "", fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
		}
		return "", err
	}
	return fmt.Sprintf("%s-%04d-%06d", s.prefix, now.Year(), seq), nil
}
