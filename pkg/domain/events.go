package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderCreated       = "OrderCreated"
	EventDiscountAlert      = "DiscountAlert"
)

type OrderStatusChangedEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	BuyerID     uuid.UUID       `json:"buyer_id"`
	StoreID     uuid.UUID       `json:"store_id"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ChangedAt   time.Time       `json:"changed_at"`
}

type OrderLineEvent struct {
	ItemID   uuid.UUID `json:"item_id"`
	Quantity int64     `json:"quantity"`
}

type OrderCreatedEvent struct {
	OrderID     uuid.UUID        `json:"order_id"`
	OrderNumber string           `json:"order_number"`
	BuyerID     uuid.UUID        `json:"buyer_id"`
	StoreID     uuid.UUID        `json:"store_id"`
	TotalAmount decimal.Decimal  `json:"total_amount"`
	Lines       []OrderLineEvent `json:"lines"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

// DiscountAlertEvent asks the notification service to deliver one discount
// alert through the external channel.
type DiscountAlertEvent struct {
	EventID            string    `json:"event_id"`
	NotificationID     uuid.UUID `json:"notification_id"`
	RecipientID        uuid.UUID `json:"recipient_id"`
	RecipientEmail     string    `json:"recipient_email"`
	RecipientName      string    `json:"recipient_name"`
	Title              string    `json:"title"`
	Message            string    `json:"message"`
	ItemID             uuid.UUID `json:"item_id"`
	StoreID            uuid.UUID `json:"store_id"`
	DiscountPercentage int       `json:"discount_percentage"`
	ActionURL          string    `json:"action_url"`
	CreatedAt          time.Time `json:"created_at"`
}
