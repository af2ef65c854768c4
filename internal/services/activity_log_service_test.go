package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/repositories"
)

type stubActivityRepo struct {
	mu        sync.Mutex
	entries   []domain.ActivityEntry
	appendErr error

	listFilter repositories.ActivityListFilter
	listResp   domain.CursorPage[domain.ActivityEntry]
	listErr    error
}

func (s *stubActivityRepo) Append(_ context.Context, entry domain.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.entries = append(s.entries, entry)
	return nil
}

func (s *stubActivityRepo) List(_ context.Context, filter repositories.ActivityListFilter) (domain.CursorPage[domain.ActivityEntry], error) {
	s.listFilter = filter
	return s.listResp, s.listErr
}

func (s *stubActivityRepo) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type stubActivityPublisher struct {
	mu        sync.Mutex
	published []domain.ActivityEntry
	err       error
}

func (p *stubActivityPublisher) Publish(_ context.Context, entry domain.ActivityEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, entry)
	return p.err
}

type captureLogger struct {
	mu     sync.Mutex
	events []string
}

func (c *captureLogger) log(_ context.Context, event string, _ map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func TestActivityLogServiceRecordSanitizesAndHashes(t *testing.T) {
	repo := &stubActivityRepo{}
	publisher := &stubActivityPublisher{}
	fixed := time.Date(2024, 5, 5, 12, 0, 0, 0, time.UTC)

	svc, err := NewActivityLogService(ActivityLogServiceDeps{
		Repository:  repo,
		Publisher:   publisher,
		Clock:       func() time.Time { return fixed },
		IDGenerator: func() string { return "01HXACT" },
		HashSalt:    "pepper:",
	})
	if err != nil {
		t.Fatalf("new activity log service: %v", err)
	}

	svc.Record(context.Background(), ActivityRecord{
		Action:      domain.ActivityActionCreate,
		EntityID:    "  ord_1 ",
		Description: "Created <script>alert(1)</script>order ORD-2024-000001",
		ActorID:     " staff_1 ",
		Metadata: map[string]any{
			"customerPhone": "555-0100",
			"customerName":  "<b>Jane</b>",
			"itemCount":     3,
			" ":             "dropped",
		},
	})

	if len(repo.entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(repo.entries))
	}
	entry := repo.entries[0]
	if entry.ID != "act_01hxact" || entry.Entity != "Order" || entry.EntityID != "ord_1" || entry.ActorID != "staff_1" {
		t.Fatalf("unexpected entry header %+v", entry)
	}
	if !entry.OccurredAt.Equal(fixed) {
		t.Fatalf("expected occurredAt from clock, got %s", entry.OccurredAt)
	}
	if strings.Contains(entry.Description, "<script>") {
		t.Fatalf("expected description sanitised, got %q", entry.Description)
	}
	sum := sha256.Sum256([]byte("pepper:555-0100"))
	if got := entry.Metadata["customerPhone"]; got != "sha256:"+hex.EncodeToString(sum[:]) {
		t.Fatalf("expected hashed phone, got %v", got)
	}
	if entry.Metadata["customerName"] != "Jane" || entry.Metadata["itemCount"] != 3 {
		t.Fatalf("unexpected metadata %+v", entry.Metadata)
	}
	if _, ok := entry.Metadata[" "]; ok || len(entry.Metadata) != 3 {
		t.Fatalf("expected blank key dropped, got %+v", entry.Metadata)
	}
	if len(publisher.published) != 1 || publisher.published[0].ID != entry.ID {
		t.Fatalf("expected entry published, got %+v", publisher.published)
	}
}

func TestActivityLogServiceRecordSwallowsFailures(t *testing.T) {
	logger := &captureLogger{}
	repo := &stubActivityRepo{appendErr: errors.New("write failed")}
	publisher := &stubActivityPublisher{}

	svc, err := NewActivityLogService(ActivityLogServiceDeps{Repository: repo, Publisher: publisher, Logger: logger.log})
	if err != nil {
		t.Fatalf("new activity log service: %v", err)
	}
	svc.Record(context.Background(), ActivityRecord{Action: domain.ActivityActionDelete, EntityID: "ord_1"})
	if len(publisher.published) != 0 {
		t.Fatalf("failed append must not publish")
	}

	repo.appendErr = nil
	publisher.err = errors.New("broker down")
	svc.Record(context.Background(), ActivityRecord{Action: domain.ActivityActionDelete, EntityID: "ord_1"})
	if repo.count() != 1 {
		t.Fatalf("expected entry stored despite publish failure")
	}

	want := []string{"activity.append.failed", "activity.publish.failed"}
	if strings.Join(logger.events, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected log events %v", logger.events)
	}
}

func TestActivityLogServiceAsyncFlush(t *testing.T) {
	repo := &stubActivityRepo{}
	svc, err := NewActivityLogService(ActivityLogServiceDeps{Repository: repo, Async: true})
	if err != nil {
		t.Fatalf("new activity log service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 5; i++ {
		svc.Record(ctx, ActivityRecord{Action: domain.ActivityActionUpdate, EntityID: "ord_1"})
	}
	cancel()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := svc.Flush(flushCtx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if repo.count() != 5 {
		t.Fatalf("expected 5 entries after flush, got %d", repo.count())
	}
}

func TestActivityLogServiceList(t *testing.T) {
	repo := &stubActivityRepo{listResp: domain.CursorPage[domain.ActivityEntry]{
		Items:         []domain.ActivityEntry{{ID: "act_1"}},
		NextPageToken: "next",
	}}
	svc, err := NewActivityLogService(ActivityLogServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new activity log service: %v", err)
	}

	if _, err := svc.List(context.Background(), ActivityListFilter{}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input without order id, got %v", err)
	}

	page, err := svc.List(context.Background(), ActivityListFilter{OrderID: " ord_9 ", Pagination: Pagination{PageSize: 5}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 1 || page.NextPageToken != "next" {
		t.Fatalf("unexpected page %+v", page)
	}
	if repo.listFilter.Entity != "Order" || repo.listFilter.EntityID != "ord_9" || repo.listFilter.Pagination.PageSize != 5 {
		t.Fatalf("unexpected filter %+v", repo.listFilter)
	}
}
