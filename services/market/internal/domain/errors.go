package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrEmptyOrder           = errors.New("order has no lines")
	ErrCrossStoreOrder      = errors.New("order lines belong to more than one store")
	ErrItemNotFound         = errors.New("item not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrStoreNotFound        = errors.New("store not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrForbidden            = errors.New("forbidden")
	ErrInvalidTransition    = errors.New("invalid order transition")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrConcurrentTransition = errors.New("order was modified concurrently")
	ErrCancelWindowExpired  = errors.New("cancellation window has expired")
	ErrItemInUse            = errors.New("item is referenced by an open order")
	ErrExternalDelivery     = errors.New("external delivery failed")
	ErrSweepInProgress      = errors.New("expiry sweep already running")
)

// InsufficientStockError names the order line that could not be debited.
// Line is -1 when the debit did not come from an order.
type InsufficientStockError struct {
	Line      int
	ItemID    uuid.UUID
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	if e.Line >= 0 {
		return fmt.Sprintf("line %d: insufficient stock for item %s: requested %d, available %d",
			e.Line, e.ItemID, e.Requested, e.Available)
	}

	return fmt.Sprintf("insufficient stock for item %s: requested %d, available %d", e.ItemID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid order transition %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ValidationError carries per-field messages back to the caller.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Fields)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

type ErrorKind string

const (
	KindValidation       ErrorKind = "VALIDATION"
	KindConflict         ErrorKind = "CONFLICT"
	KindNotFound         ErrorKind = "NOT_FOUND"
	KindForbidden        ErrorKind = "FORBIDDEN"
	KindExternalDelivery ErrorKind = "EXTERNAL_DELIVERY"
	KindInternal         ErrorKind = "INTERNAL"
)

func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation), errors.Is(err, ErrEmptyOrder), errors.Is(err, ErrCrossStoreOrder):
		return KindValidation
	case errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrConcurrentTransition),
		errors.Is(err, ErrCancelWindowExpired),
		errors.Is(err, ErrItemInUse),
		errors.Is(err, ErrSweepInProgress):
		return KindConflict
	case errors.Is(err, ErrItemNotFound),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrStoreNotFound),
		errors.Is(err, ErrNotificationNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrExternalDelivery):
		return KindExternalDelivery
	default:
		return KindInternal
	}
}
