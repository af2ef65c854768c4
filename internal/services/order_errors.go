package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hanko-field/orderledger/internal/platform/pagination"
	"github.com/hanko-field/orderledger/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order, or a SKU it references, could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInsufficientStock indicates a SKU cannot cover the requested quantity.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
	// ErrOrderInvalidState indicates the operation is not valid for the order's status.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates a concurrent write or a uniqueness violation.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the backing store could not be reached.
	ErrOrderUnavailable = errors.New("order: unavailable")
	// ErrOrderPaymentFailed indicates the order was created but could not be settled.
	ErrOrderPaymentFailed = errors.New("order: payment failed")
)

// NotFoundError lists every id of an entity kind that could not be located.
type NotFoundError struct {
	Entity string
	IDs    []string
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return ErrOrderNotFound.Error()
	}
	return fmt.Sprintf("%s not found: %s", e.Entity, strings.Join(e.IDs, ", "))
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrOrderNotFound
}

// InsufficientStockError reports the SKU that could not cover a request.
type InsufficientStockError struct {
	SKUID       string
	SKUCode     string
	ProductName string
	// Available is what the order could take. When an existing order is updated it includes
	// the units that order already holds, so it can exceed the SKU's ledger stock.
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	if e == nil {
		return ErrOrderInsufficientStock.Error()
	}
	name, code := e.ProductName, e.SKUCode
	if name == "" {
		name = e.SKUID
	}
	if code == "" {
		code = e.SKUID
	}
	return fmt.Sprintf("Insufficient stock for %s (%s). Available: %d, Requested: %d", name, code, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrOrderInsufficientStock
}

var orderSentinels = []error{
	ErrOrderInvalidInput,
	ErrOrderNotFound,
	ErrOrderInsufficientStock,
	ErrOrderInvalidState,
	ErrOrderConflict,
	ErrOrderUnavailable,
	ErrOrderPaymentFailed,
}

// mapRepositoryError translates persistence failures into order sentinels. Errors that already
// carry a sentinel, and context errors, pass through untouched.
func mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range orderSentinels {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	var ledgerErr *repositories.LedgerError
	if errors.As(err, &ledgerErr) {
		switch ledgerErr.Code {
		case repositories.LedgerErrorInsufficientStock:
			return &InsufficientStockError{SKUID: ledgerErr.SKUID, Available: ledgerErr.Available, Requested: -ledgerErr.Delta}
		case repositories.LedgerErrorSKUNotFound:
			return &NotFoundError{Entity: "sku", IDs: []string{ledgerErr.SKUID}}
		case repositories.LedgerErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrOrderInvalidInput, ledgerErr.Message)
		}
	}

	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) && counterErr.Code == repositories.CounterErrorInvalidInput {
		return fmt.Errorf("%w: %s", ErrOrderInvalidInput, counterErr.Message)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}

	return err
}
