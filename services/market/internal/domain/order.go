package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPreparing, OrderStatusReady,
		OrderStatusCompleted, OrderStatusCancelled, OrderStatusExpired:
		return true
	}

	return false
}

// Open orders still hold a claim on their items.
func (s OrderStatus) Open() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPreparing, OrderStatusReady:
		return true
	}

	return false
}

const orderNumberPrefix = "FS-"

type Order struct {
	ID           uuid.UUID       `json:"id"`
	OrderNumber  string          `json:"order_number"`
	BuyerID      uuid.UUID       `json:"buyer_id"`
	StoreID      uuid.UUID       `json:"store_id"`
	Lines        []OrderLine     `json:"lines"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	TotalSavings decimal.Decimal `json:"total_savings"`
	Status       OrderStatus     `json:"status"`
	Notes        string          `json:"notes,omitempty"`
	StoreNotes   string          `json:"store_notes,omitempty"`
	Version      int64           `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

// OrderLine is frozen at creation; later catalog edits never reach it.
type OrderLine struct {
	ItemID          uuid.UUID       `json:"item_id"`
	ItemName        string          `json:"item_name"`
	Unit            string          `json:"unit"`
	Quantity        int64           `json:"quantity"`
	OriginalPrice   decimal.Decimal `json:"original_price"`
	DiscountedPrice decimal.Decimal `json:"discounted_price"`
	LineTotal       decimal.Decimal `json:"line_total"`
}

type LineRequest struct {
	ItemID   uuid.UUID
	Quantity int64
}

// NewOrder snapshots each item's current price. items[i] must match lines[i].
func NewOrder(buyerID, storeID uuid.UUID, lines []LineRequest, items []CatalogItem, notes string, now time.Time, ttl time.Duration) *Order {
	order := &Order{
		ID:          uuid.New(),
		OrderNumber: NewOrderNumber(),
		BuyerID:     buyerID,
		StoreID:     storeID,
		Lines:       make([]OrderLine, 0, len(lines)),
		Status:      OrderStatusPending,
		Notes:       notes,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	for idx, req := range lines {
		item := items[idx]
		paid := item.UnitPrice()

		order.Lines = append(order.Lines, OrderLine{
			ItemID:          item.ID,
			ItemName:        item.Name,
			Unit:            item.Unit,
			Quantity:        req.Quantity,
			OriginalPrice:   item.OriginalPrice,
			DiscountedPrice: paid,
			LineTotal:       paid.Mul(decimal.NewFromInt(req.Quantity)),
		})
	}

	order.calculateTotals()
	return order
}

func (o *Order) calculateTotals() {
	total := decimal.Zero
	savings := decimal.Zero

	for _, line := range o.Lines {
		qty := decimal.NewFromInt(line.Quantity)
		total = total.Add(line.LineTotal)
		savings = savings.Add(line.OriginalPrice.Sub(line.DiscountedPrice).Mul(qty))
	}

	o.TotalAmount = total
	o.TotalSavings = savings
}

func NewOrderNumber() string {
	return orderNumberPrefix + ulid.Make().String()
}

// Clone returns a deep copy so callers can compare before/after snapshots.
func (o *Order) Clone() *Order {
	c := *o
	c.Lines = append([]OrderLine(nil), o.Lines...)
	return &c
}

type OrderFilter struct {
	BuyerID *uuid.UUID
	StoreID *uuid.UUID
	Status  OrderStatus
	From    *time.Time
	To      *time.Time
	Limit   int64
	Offset  int64
}
