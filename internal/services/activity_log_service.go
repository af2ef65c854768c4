package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/platform/textutil"
	"github.com/hanko-field/orderledger/internal/repositories"
)

const (
	activityEntityOrder      = "Order"
	activityIDPrefix         = "act_"
	defaultHasherPrefix      = "sha256:"
	activityDescriptionLimit = 500
)

var defaultSensitiveActivityKeys = []string{"customerPhone", "customerEmail"}

// ActivityPublisher fans recorded entries out to subscribers outside the process.
type ActivityPublisher interface {
	Publish(ctx context.Context, entry domain.ActivityEntry) error
}

// ActivityLogServiceDeps bundles constructor inputs for the activity log service.
type ActivityLogServiceDeps struct {
	Repository    repositories.ActivityRepository
	Publisher     ActivityPublisher
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
	HashSalt      string
	SensitiveKeys []string
	// Async moves writes off the caller's goroutine. Flush waits for them.
	Async bool
}

type activityLogService struct {
	repo      repositories.ActivityRepository
	publisher ActivityPublisher
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
	hashSalt  string
	sensitive []string
	async     bool
	pending   sync.WaitGroup
}

// NewActivityLogService creates an activity log writer backed by the supplied repository.
func NewActivityLogService(deps ActivityLogServiceDeps) (ActivityLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("activity log service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	sensitive := deps.SensitiveKeys
	if sensitive == nil {
		sensitive = defaultSensitiveActivityKeys
	}

	return &activityLogService{
		repo:      deps.Repository,
		publisher: deps.Publisher,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
		hashSalt:  deps.HashSalt,
		sensitive: normaliseKeys(sensitive),
		async:     deps.Async,
	}, nil
}

// Record persists an activity entry and hands it to the publisher. Failures are logged and never
// reach the caller; the primary mutation has already committed.
func (s *activityLogService) Record(ctx context.Context, record ActivityRecord) {
	entry := s.buildEntry(record)
	if !s.async {
		s.write(ctx, entry)
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		s.write(context.WithoutCancel(ctx), entry)
	}()
}

func (s *activityLogService) List(ctx context.Context, filter ActivityListFilter) (domain.CursorPage[ActivityEntry], error) {
	orderID := strings.TrimSpace(filter.OrderID)
	if orderID == "" {
		return domain.CursorPage[ActivityEntry]{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	page, err := s.repo.List(ctx, repositories.ActivityListFilter{
		Entity:     activityEntityOrder,
		EntityID:   orderID,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[ActivityEntry]{}, mapRepositoryError(err)
	}
	return page, nil
}

func (s *activityLogService) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *activityLogService) write(ctx context.Context, entry domain.ActivityEntry) {
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger(ctx, "activity.append.failed", map[string]any{
			"action":   string(entry.Action),
			"entityId": entry.EntityID,
			"error":    err.Error(),
		})
		return
	}
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, entry); err != nil {
		s.logger(ctx, "activity.publish.failed", map[string]any{
			"action":   string(entry.Action),
			"entityId": entry.EntityID,
			"error":    err.Error(),
		})
	}
}

func (s *activityLogService) buildEntry(record ActivityRecord) domain.ActivityEntry {
	occurred := record.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock()
	} else {
		occurred = occurred.UTC()
	}
	return domain.ActivityEntry{
		ID:          activityIDPrefix + strings.ToLower(s.newID()),
		Action:      record.Action,
		Entity:      activityEntityOrder,
		EntityID:    strings.TrimSpace(record.EntityID),
		Description: sanitizeText(textutil.PlainText(record.Description), activityDescriptionLimit),
		ActorID:     sanitizeText(record.ActorID, 160),
		Metadata:    s.prepareMetadata(record.Metadata),
		OccurredAt:  occurred,
	}
}

func (s *activityLogService) prepareMetadata(metadata map[string]any) map[string]any {
	cleaned := textutil.PlainTextMap(metadata)
	if len(cleaned) == 0 {
		return nil
	}
	for key, value := range cleaned {
		if containsKey(s.sensitive, key) {
			cleaned[key] = defaultHasherPrefix + s.hashAny(value)
			continue
		}
		if str, ok := value.(string); ok {
			cleaned[key] = sanitizeText(str, 512)
		}
	}
	return cleaned
}

func (s *activityLogService) hashString(value string) string {
	value = strings.TrimSpace(value)
	sum := sha256.Sum256([]byte(s.hashSalt + value))
	return hex.EncodeToString(sum[:])
}

func (s *activityLogService) hashAny(value any) string {
	switch v := value.(type) {
	case string:
		return s.hashString(v)
	case fmt.Stringer:
		return s.hashString(v.String())
	default:
		if b, err := json.Marshal(v); err == nil {
			return s.hashString(string(b))
		}
		return s.hashString(fmt.Sprintf("%T", value))
	}
}

func normaliseKeys(keys []string) []string {
	unique := make(map[string]struct{}, len(keys))
	result := make([]string, 0, len(keys))
	for _, key := range keys {
		lower := strings.ToLower(strings.TrimSpace(key))
		if lower == "" {
			continue
		}
		if _, exists := unique[lower]; exists {
			continue
		}
		unique[lower] = struct{}{}
		result = append(result, lower)
	}
	return result
}

func containsKey(keys []string, candidate string) bool {
	candidate = strings.ToLower(candidate)
	for _, key := range keys {
		if key == candidate {
			return true
		}
	}
	return false
}

func sanitizeText(input string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	var builder strings.Builder
	for _, r := range input {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		builder.WriteRune(r)
		if builder.Len() >= limit {
			break
		}
	}
	return builder.String()
}
