package domain

import (
	"time"

	"github.com/google/uuid"
)

// Effect is what a transition does to the ledger and the sales counters.
type Effect int

const (
	EffectNone Effect = iota
	EffectDebit
	EffectCredit
	EffectRecordSale
	EffectReverseSale
)

func (e Effect) String() string {
	switch e {
	case EffectDebit:
		return "debit"
	case EffectCredit:
		return "credit"
	case EffectRecordSale:
		return "record_sale"
	case EffectReverseSale:
		return "reverse_sale"
	default:
		return "none"
	}
}

var transitions = map[OrderStatus]map[OrderStatus]Effect{
	OrderStatusPending: {
		OrderStatusConfirmed: EffectDebit,
		OrderStatusCancelled: EffectNone,
	},
	OrderStatusConfirmed: {
		OrderStatusPreparing: EffectNone,
		OrderStatusCancelled: EffectCredit,
	},
	OrderStatusPreparing: {
		OrderStatusReady:     EffectNone,
		OrderStatusCancelled: EffectCredit,
	},
	OrderStatusReady: {
		OrderStatusCompleted: EffectRecordSale,
		OrderStatusCancelled: EffectCredit,
	},
	OrderStatusCompleted: {
		OrderStatusCancelled: EffectReverseSale,
	},
}

// Transition looks up the effect of moving from -> to. Pairs outside the
// table fail with a *TransitionError. Lapsing to expired is not in the table:
// it happens in housekeeping, never through an explicit request.
func Transition(from, to OrderStatus) (Effect, error) {
	effect, ok := transitions[from][to]
	if !ok {
		return EffectNone, &TransitionError{From: from, To: to}
	}

	return effect, nil
}

type Role string

const (
	RoleCustomer   Role = "customer"
	RoleStoreOwner Role = "store_owner"
	RoleAdmin      Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleStoreOwner || r == RoleAdmin
}

type Actor struct {
	ID      uuid.UUID
	Role    Role
	StoreID uuid.UUID
}

func (a Actor) OwnsStore(storeID uuid.UUID) bool {
	return a.Role == RoleAdmin || (a.Role == RoleStoreOwner && a.StoreID == storeID)
}

// CanView reports whether the actor may read the order.
func (a Actor) CanView(o *Order) bool {
	return a.ID == o.BuyerID || a.OwnsStore(o.StoreID)
}

// Authorize decides whether actor may request to on the order at now.
// Buyers may only cancel their own pending order, and only inside window
// measured from creation. The window is checked before the order status so
// a late buyer gets ErrCancelWindowExpired whatever the order looks like.
// A buyer's own order that has already moved on is a transition conflict,
// not a permission failure.
func Authorize(actor Actor, o *Order, to OrderStatus, now time.Time, window time.Duration) error {
	if actor.OwnsStore(o.StoreID) {
		return nil
	}

	if actor.Role != RoleCustomer || actor.ID != o.BuyerID || to != OrderStatusCancelled {
		return ErrForbidden
	}

	if now.Sub(o.CreatedAt) > window {
		return ErrCancelWindowExpired
	}

	if o.Status != OrderStatusPending {
		return &TransitionError{From: o.Status, To: to}
	}

	return nil
}
