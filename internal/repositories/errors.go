package repositories

import "fmt"

// LedgerErrorCode enumerates repository error causes for stock ledger operations.
type LedgerErrorCode string

const (
	// LedgerErrorUnknown represents an unspecified failure.
	LedgerErrorUnknown LedgerErrorCode = "ledger_unknown"
	// LedgerErrorInsufficientStock indicates an adjustment would drive stock below zero.
	LedgerErrorInsufficientStock LedgerErrorCode = "ledger_insufficient_stock"
	// LedgerErrorSKUNotFound indicates the SKU row does not exist.
	LedgerErrorSKUNotFound LedgerErrorCode = "ledger_sku_not_found"
	// LedgerErrorInvalidInput indicates the caller supplied invalid arguments.
	LedgerErrorInvalidInput LedgerErrorCode = "ledger_invalid_input"
)

// LedgerError wraps stock ledger failures with machine readable codes. For insufficient stock the
// SKU id, the stock currently held and the attempted delta are attached.
type LedgerError struct {
	Op        string
	Code      LedgerErrorCode
	Message   string
	SKUID     string
	Available int
	Delta     int
	Err       error
}

// Error implements the error interface.
func (e *LedgerError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *LedgerError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the SKU was missing.
func (e *LedgerError) IsNotFound() bool { return e != nil && e.Code == LedgerErrorSKUNotFound }

// IsConflict reports whether the adjustment clashed with the current stock level.
func (e *LedgerError) IsConflict() bool {
	return e != nil && e.Code == LedgerErrorInsufficientStock
}

// IsUnavailable is always false; transport failures are reported by the backing store's error type.
func (e *LedgerError) IsUnavailable() bool { return false }

// NewLedgerError constructs a typed ledger error.
func NewLedgerError(code LedgerErrorCode, message string, err error) *LedgerError {
	if message == "" {
		message = string(code)
	}
	return &LedgerError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewInsufficientStockError reports that applying delta to skuID would leave it below zero.
func NewInsufficientStockError(op, skuID string, available, delta int) *LedgerError {
	err := NewLedgerError(LedgerErrorInsufficientStock, fmt.Sprintf("sku %s has %d in stock, cannot apply %d", skuID, available, delta), nil)
	err.Op = op
	err.SKUID = skuID
	err.Available = available
	err.Delta = delta
	return err
}

// CounterErrorCode enumerates failure reasons for counter operations.
type CounterErrorCode string

const (
	// CounterErrorUnknown represents an unspecified failure.
	CounterErrorUnknown CounterErrorCode = "counter_unknown"
	// CounterErrorInvalidInput indicates the caller supplied invalid arguments.
	CounterErrorInvalidInput CounterErrorCode = "counter_invalid_input"
)

// CounterError wraps sequence failures with machine readable codes.
type CounterError struct {
	Op      string
	Code    CounterErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CounterError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CounterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCounterError constructs a typed counter error.
func NewCounterError(code CounterErrorCode, message string, err error) *CounterError {
	if message == "" {
		message = string(code)
	}
	return &CounterError{Code: code, Message: message, Err: err}
}
