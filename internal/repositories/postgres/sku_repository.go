package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/hanko-field/orderledger/internal/domain"
	ppostgres "github.com/hanko-field/orderledger/internal/platform/postgres"
	"github.com/hanko-field/orderledger/internal/repositories"
)

const skuColumns = `id, code, product_name, price_minor, stock, created_at, updated_at`

// SKURepository implements repositories.SKURepository on the skus table.
type SKURepository struct {
	db *ppostgres.DB
}

// NewSKURepository constructs the stock ledger.
func NewSKURepository(db *ppostgres.DB) *SKURepository {
	return &SKURepository{db: db}
}

// FindByIDs fetches every listed SKU in one statement. Inside a transaction the rows are locked in id
// order so concurrent orders touching overlapping SKUs queue instead of deadlocking.
func (r *SKURepository) FindByIDs(ctx context.Context, ids []string) ([]domain.SKU, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + skuColumns + ` FROM skus WHERE id = ANY($1) ORDER BY id`
	if ppostgres.InTx(ctx) {
		query += ` FOR UPDATE`
	}

	rows, err := r.db.Querier(ctx).Query(ctx, query, ids)
	if err != nil {
		return nil, ppostgres.WrapError("skus.find_by_ids", err)
	}
	skus, err := pgx.CollectRows(rows, scanSKU)
	if err != nil {
		return nil, ppostgres.WrapError("skus.find_by_ids", err)
	}
	return skus, nil
}

// AdjustStock applies delta in a single conditional update so stock can never cross zero.
func (r *SKURepository) AdjustStock(ctx context.Context, skuID string, delta int) (int, error) {
	skuID = strings.TrimSpace(skuID)
	if skuID == "" {
		return 0, repositories.NewLedgerError(repositories.LedgerErrorInvalidInput, "sku id is required", nil)
	}

	q := r.db.Querier(ctx)
	var stock int
	err := q.QueryRow(ctx, `
		UPDATE skus
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1 AND stock + $2 >= 0
		RETURNING stock`, skuID, delta).Scan(&stock)
	if err == nil {
		return stock, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		if ppostgres.IsCheckViolation(err) {
			return 0, repositories.NewInsufficientStockError("skus.adjust_stock", skuID, 0, delta)
		}
		return 0, ppostgres.WrapError("skus.adjust_stock", err)
	}

	var current int
	err = q.QueryRow(ctx, `SELECT stock FROM skus WHERE id = $1`, skuID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		ledgerErr := repositories.NewLedgerError(repositories.LedgerErrorSKUNotFound, fmt.Sprintf("sku %s not found", skuID), nil)
		ledgerErr.Op = "skus.adjust_stock"
		ledgerErr.SKUID = skuID
		return 0, ledgerErr
	}
	if err != nil {
		return 0, ppostgres.WrapError("skus.adjust_stock", err)
	}
	return 0, repositories.NewInsufficientStockError("skus.adjust_stock", skuID, current, delta)
}

// Save upserts the catalogue fields and stock level of a SKU.
func (r *SKURepository) Save(ctx context.Context, sku domain.SKU) error {
	if strings.TrimSpace(sku.ID) == "" {
		return repositories.NewLedgerError(repositories.LedgerErrorInvalidInput, "sku id is required", nil)
	}
	if sku.Stock < 0 {
		return repositories.NewLedgerError(repositories.LedgerErrorInvalidInput, "stock must not be negative", nil)
	}
	now := time.Now().UTC()
	if sku.CreatedAt.IsZero() {
		sku.CreatedAt = now
	}
	if sku.UpdatedAt.IsZero() {
		sku.UpdatedAt = now
	}
	_, err := r.db.Querier(ctx).Exec(ctx, `
		INSERT INTO skus (id, code, product_name, price_minor, stock, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code,
			product_name = EXCLUDED.product_name,
			price_minor = EXCLUDED.price_minor,
			stock = EXCLUDED.stock,
			updated_at = EXCLUDED.updated_at`,
		sku.ID, sku.Code, sku.ProductName, sku.Price.MinorUnits(), sku.Stock, sku.CreatedAt, sku.UpdatedAt)
	return ppostgres.WrapError("skus.save", err)
}

// List pages through SKUs ordered by id.
func (r *SKURepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.SKU], error) {
	limit := pageSize(pager.PageSize)
	after, err := decodeKeyset(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.SKU]{}, err
	}

	args := []any{limit + 1}
	query := `SELECT ` + skuColumns + ` FROM skus`
	if after != nil {
		query += ` WHERE id > $2`
		args = append(args, after.ID)
	}
	query += ` ORDER BY id LIMIT $1`

	rows, err := r.db.Querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.SKU]{}, ppostgres.WrapError("skus.list", err)
	}
	items, err := pgx.CollectRows(rows, scanSKU)
	if err != nil {
		return domain.CursorPage[domain.SKU]{}, ppostgres.WrapError("skus.list", err)
	}

	page := domain.CursorPage[domain.SKU]{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		token, err := encodeKeyset(last.UpdatedAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.SKU]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func scanSKU(row pgx.CollectableRow) (domain.SKU, error) {
	var (
		sku   domain.SKU
		price int64
	)
	if err := row.Scan(&sku.ID, &sku.Code, &sku.ProductName, &price, &sku.Stock, &sku.CreatedAt, &sku.UpdatedAt); err != nil {
		return domain.SKU{}, err
	}
	sku.Price = domain.Money(price)
	return sku, nil
}
