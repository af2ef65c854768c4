package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/repositories"
)

const skuIDPrefix = "sku_"

// ErrInventoryInvalidInput signals the caller provided invalid SKU data.
var ErrInventoryInvalidInput = errors.New("inventory: invalid input")

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	SKUs        repositories.SKURepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	skus   repositories.SKURepository
	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.SKUs == nil {
		return nil, errors.New("inventory service: sku repository is required")
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

	return &inventoryService{
		skus: deps.SKUs,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *inventoryService) CheckAvailability(ctx context.Context, lines []StockLine, previous map[string]int) (map[string]SKU, error) {
	ids := make([]string, 0, len(lines))
	requested := make(map[string]int, len(lines))
	for _, line := range lines {
		if _, seen := requested[line.SKUID]; !seen {
			ids = append(ids, line.SKUID)
		}
		requested[line.SKUID] += line.Quantity
	}
	if len(ids) == 0 {
		return map[string]SKU{}, nil
	}

	found, err := s.skus.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]SKU, len(found))
	for _, sku := range found {
		byID[sku.ID] = sku
	}

	var missing []string
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, &NotFoundError{Entity: "sku", IDs: missing}
	}

	for _, id := range ids {
		sku := byID[id]
		held := previous[id]
		if requested[id]-held > sku.Stock {
			return nil, &InsufficientStockError{
				SKUID:       sku.ID,
				SKUCode:     sku.Code,
				ProductName: sku.ProductName,
				Available:   sku.Stock + held,
				Requested:   requested[id],
			}
		}
	}
	return byID, nil
}

func (s *inventoryService) Consume(ctx context.Context, quantities map[string]int) error {
	for _, id := range sortedSKUIDs(quantities) {
		qty := quantities[id]
		if qty <= 0 {
			continue
		}
		if _, err := s.skus.AdjustStock(ctx, id, -qty); err != nil {
			return err
		}
	}
	return nil
}

func (s *inventoryService) Restore(ctx context.Context, quantities map[string]int) error {
	for _, id := range sortedSKUIDs(quantities) {
		qty := quantities[id]
		if qty <= 0 {
			continue
		}
		level, err := s.skus.AdjustStock(ctx, id, qty)
		if err != nil {
			return err
		}
		s.logger(ctx, "inventory.restore", map[string]any{
			"skuId":    id,
			"quantity": qty,
			"stock":    level,
		})
	}
	return nil
}

func (s *inventoryService) ListSKUs(ctx context.Context, pager Pagination) (domain.CursorPage[SKU], error) {
	page, err := s.skus.List(ctx, pager)
	if err != nil {
		return domain.CursorPage[SKU]{}, mapRepositoryError(err)
	}
	return page, nil
}

func (s *inventoryService) PutSKU(ctx context.Context, cmd PutSKUCommand) (SKU, error) {
	code := strings.TrimSpace(cmd.Code)
	name := strings.TrimSpace(cmd.ProductName)
	switch {
	case code == "":
		return SKU{}, fmt.Errorf("%w: code is required", ErrInventoryInvalidInput)
	case name == "":
		return SKU{}, fmt.Errorf("%w: product name is required", ErrInventoryInvalidInput)
	case cmd.Price.IsNegative():
		return SKU{}, fmt.Errorf("%w: price must not be negative", ErrInventoryInvalidInput)
	case cmd.Stock < 0:
		return SKU{}, fmt.Errorf("%w: stock must not be negative", ErrInventoryInvalidInput)
	}

	id := strings.TrimSpace(cmd.ID)
	if id == "" {
		id = skuIDPrefix + strings.ToLower(s.newID())
	}
	now := s.clock()
	sku := SKU{
		ID:          id,
		Code:        code,
		ProductName: name,
		Price:       cmd.Price,
		Stock:       cmd.Stock,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.skus.Save(ctx, sku); err != nil {
		return SKU{}, mapRepositoryError(err)
	}
	return sku, nil
}

// sortedSKUIDs fixes the order stock rows are touched in so concurrent transactions lock them consistently.
func sortedSKUIDs(quantities map[string]int) []string {
	ids := make([]string, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
