package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/repositories"
)

type stubSKURepository struct {
	skus       map[string]domain.SKU
	findCalls  [][]string
	adjustLog  []adjustCall
	saved      []domain.SKU
	adjustErr  map[string]error
	findErr    error
	listResult domain.CursorPage[domain.SKU]
	listErr    error
}

type adjustCall struct {
	SKUID string
	Delta int
}

func newStubSKURepository(skus ...domain.SKU) *stubSKURepository {
	repo := &stubSKURepository{skus: make(map[string]domain.SKU)}
	for _, sku := range skus {
		repo.skus[sku.ID] = sku
	}
	return repo
}

func (s *stubSKURepository) FindByIDs(_ context.Context, ids []string) ([]domain.SKU, error) {
	s.findCalls = append(s.findCalls, append([]string(nil), ids...))
	if s.findErr != nil {
		return nil, s.findErr
	}
	out := make([]domain.SKU, 0, len(ids))
	for _, id := range ids {
		if sku, ok := s.skus[id]; ok {
			out = append(out, sku)
		}
	}
	return out, nil
}

func (s *stubSKURepository) AdjustStock(_ context.Context, skuID string, delta int) (int, error) {
	s.adjustLog = append(s.adjustLog, adjustCall{SKUID: skuID, Delta: delta})
	if err := s.adjustErr[skuID]; err != nil {
		return 0, err
	}
	sku, ok := s.skus[skuID]
	if !ok {
		return 0, repositories.NewLedgerError(repositories.LedgerErrorSKUNotFound, "missing", nil)
	}
	if sku.Stock+delta < 0 {
		return 0, repositories.NewInsufficientStockError("skus.adjust", skuID, sku.Stock, delta)
	}
	sku.Stock += delta
	s.skus[skuID] = sku
	return sku.Stock, nil
}

func (s *stubSKURepository) Save(_ context.Context, sku domain.SKU) error {
	s.saved = append(s.saved, sku)
	s.skus[sku.ID] = sku
	return nil
}

func (s *stubSKURepository) List(context.Context, domain.Pagination) (domain.CursorPage[domain.SKU], error) {
	return s.listResult, s.listErr
}

func newTestInventoryService(t *testing.T, repo repositories.SKURepository) InventoryService {
	t.Helper()
	svc, err := NewInventoryService(InventoryServiceDeps{
		SKUs:        repo,
		Clock:       func() time.Time { return time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { return "01HXSKU" },
	})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}
	return svc
}

func TestInventoryServiceCheckAvailabilityAggregatesLines(t *testing.T) {
	repo := newStubSKURepository(
		domain.SKU{ID: "A", Code: "SKU-A", ProductName: "Alpha", Stock: 5},
		domain.SKU{ID: "B", Code: "SKU-B", ProductName: "Beta", Stock: 1},
	)
	svc := newTestInventoryService(t, repo)

	skus, err := svc.CheckAvailability(context.Background(), []StockLine{
		{SKUID: "B", Quantity: 1},
		{SKUID: "A", Quantity: 2},
		{SKUID: "A", Quantity: 3},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(skus) != 2 || skus["A"].Code != "SKU-A" {
		t.Fatalf("unexpected skus %+v", skus)
	}
	if len(repo.findCalls) != 1 || strings.Join(repo.findCalls[0], ",") != "B,A" {
		t.Fatalf("expected one lookup with deduplicated ids, got %v", repo.findCalls)
	}

	_, err = svc.CheckAvailability(context.Background(), []StockLine{
		{SKUID: "A", Quantity: 3},
		{SKUID: "A", Quantity: 3},
	}, nil)
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if stockErr.Available != 5 || stockErr.Requested != 6 || stockErr.SKUCode != "SKU-A" {
		t.Fatalf("unexpected error details %+v", stockErr)
	}
	if len(repo.adjustLog) != 0 {
		t.Fatalf("availability check must not adjust stock")
	}
}

func TestInventoryServiceCheckAvailabilityCreditsHeldUnits(t *testing.T) {
	repo := newStubSKURepository(domain.SKU{ID: "A", Code: "SKU-A", ProductName: "Alpha", Stock: 2})
	svc := newTestInventoryService(t, repo)

	if _, err := svc.CheckAvailability(context.Background(), []StockLine{{SKUID: "A", Quantity: 4}}, map[string]int{"A": 2}); err != nil {
		t.Fatalf("expected held units to count towards availability: %v", err)
	}

	_, err := svc.CheckAvailability(context.Background(), []StockLine{{SKUID: "A", Quantity: 5}}, map[string]int{"A": 2})
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if stockErr.Available != 4 || stockErr.Requested != 5 {
		t.Fatalf("unexpected error details %+v", stockErr)
	}
}

func TestInventoryServiceCheckAvailabilityListsMissing(t *testing.T) {
	repo := newStubSKURepository(domain.SKU{ID: "A", Stock: 2})
	svc := newTestInventoryService(t, repo)

	_, err := svc.CheckAvailability(context.Background(), []StockLine{
		{SKUID: "Z", Quantity: 1},
		{SKUID: "A", Quantity: 1},
		{SKUID: "Y", Quantity: 1},
	}, nil)
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected error to match ErrOrderNotFound")
	}
	if err.Error() != "sku not found: Z, Y" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestInventoryServiceConsumeAndRestoreInSortedOrder(t *testing.T) {
	repo := newStubSKURepository(
		domain.SKU{ID: "b", Stock: 5},
		domain.SKU{ID: "a", Stock: 5},
		domain.SKU{ID: "c", Stock: 5},
	)
	svc := newTestInventoryService(t, repo)

	if err := svc.Consume(context.Background(), map[string]int{"c": 1, "a": 2, "b": 0}); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := svc.Restore(context.Background(), map[string]int{"c": 1, "a": 2}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	want := []adjustCall{{"a", -2}, {"c", -1}, {"a", 2}, {"c", 1}}
	if len(repo.adjustLog) != len(want) {
		t.Fatalf("unexpected adjust calls %+v", repo.adjustLog)
	}
	for i := range want {
		if repo.adjustLog[i] != want[i] {
			t.Fatalf("call %d: expected %+v, got %+v", i, want[i], repo.adjustLog[i])
		}
	}
	if repo.skus["a"].Stock != 5 || repo.skus["c"].Stock != 5 {
		t.Fatalf("expected stock to return to 5, got %+v", repo.skus)
	}
}

func TestInventoryServiceConsumeSurfacesLedgerError(t *testing.T) {
	repo := newStubSKURepository(domain.SKU{ID: "a", Stock: 1})
	svc := newTestInventoryService(t, repo)

	err := svc.Consume(context.Background(), map[string]int{"a": 2})
	var ledgerErr *repositories.LedgerError
	if !errors.As(err, &ledgerErr) || ledgerErr.Code != repositories.LedgerErrorInsufficientStock {
		t.Fatalf("expected ledger error, got %v", err)
	}
	if mapped := mapRepositoryError(err); !errors.Is(mapped, ErrOrderInsufficientStock) {
		t.Fatalf("expected mapped insufficient stock, got %v", mapped)
	}
}

func TestInventoryServicePutSKU(t *testing.T) {
	repo := newStubSKURepository()
	svc := newTestInventoryService(t, repo)

	sku, err := svc.PutSKU(context.Background(), PutSKUCommand{Code: " SKU-1 ", ProductName: "Widget", Price: domain.NewMoney(9, 99), Stock: 3})
	if err != nil {
		t.Fatalf("put sku: %v", err)
	}
	if sku.ID != "sku_01hxsku" || sku.Code != "SKU-1" || sku.CreatedAt.IsZero() {
		t.Fatalf("unexpected sku %+v", sku)
	}
	if len(repo.saved) != 1 {
		t.Fatalf("expected sku saved")
	}

	invalid := []PutSKUCommand{
		{ProductName: "Widget"},
		{Code: "SKU-1"},
		{Code: "SKU-1", ProductName: "Widget", Price: domain.NewMoney(-1, 0)},
		{Code: "SKU-1", ProductName: "Widget", Stock: -1},
	}
	for i, cmd := range invalid {
		if _, err := svc.PutSKU(context.Background(), cmd); !errors.Is(err, ErrInventoryInvalidInput) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
}

func TestNewInventoryServiceRequiresRepository(t *testing.T) {
	if _, err := NewInventoryService(InventoryServiceDeps{}); err == nil {
		t.Fatalf("expected error when repository missing")
	}
}
