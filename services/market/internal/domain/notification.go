package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationNewDiscount     NotificationType = "new_discount"
	NotificationProductExpiring NotificationType = "product_expiring"
	NotificationOrderConfirmed  NotificationType = "order_confirmed"
	NotificationOrderReady      NotificationType = "order_ready"
	NotificationOrderExpired    NotificationType = "order_expired"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

type Notification struct {
	ID          uuid.UUID            `json:"id"`
	RecipientID uuid.UUID            `json:"recipient_id"`
	Type        NotificationType     `json:"type"`
	Title       string               `json:"title"`
	Message     string               `json:"message"`
	Data        NotificationData     `json:"data"`
	Priority    Priority             `json:"priority"`
	Channels    NotificationChannels `json:"channels"`
	DedupKey    string               `json:"-"`
	CreatedAt   time.Time            `json:"created_at"`
	ExpiresAt   time.Time            `json:"expires_at"`
}

type NotificationData struct {
	ItemID             *uuid.UUID `json:"item_id,omitempty"`
	StoreID            *uuid.UUID `json:"store_id,omitempty"`
	OrderID            *uuid.UUID `json:"order_id,omitempty"`
	DiscountPercentage int        `json:"discount_percentage,omitempty"`
	ActionURL          string     `json:"action_url,omitempty"`
}

type NotificationChannels struct {
	InApp InAppChannel `json:"in_app"`
	Email EmailChannel `json:"email"`
}

type InAppChannel struct {
	Read   bool       `json:"read"`
	ReadAt *time.Time `json:"read_at,omitempty"`
}

// EmailChannel tracks the handoff to the notification service. Queued means
// the alert reached the broker; the mail itself is sent downstream.
type EmailChannel struct {
	Queued   bool       `json:"queued"`
	QueuedAt *time.Time `json:"queued_at,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// DiscountDedupKey identifies one discount window for one recipient. A new
// expiry date opens a new window.
func DiscountDedupKey(itemID, recipientID uuid.UUID, expiry time.Time) string {
	return fmt.Sprintf("%s:%s:%s", itemID, recipientID, expiry.UTC().Format("2006-01-02"))
}

// NewDiscountNotification builds the in-app record for a freshly discounted item.
func NewDiscountNotification(item CatalogItem, store Store, recipientID uuid.UUID, now time.Time, ttl time.Duration) Notification {
	itemID := item.ID
	storeID := store.ID
	saving := item.OriginalPrice.Sub(item.UnitPrice()).StringFixed(2)

	return Notification{
		ID:          uuid.New(),
		RecipientID: recipientID,
		Type:        NotificationNewDiscount,
		Title:       fmt.Sprintf("🔥 %d%% OFF - %s", item.DiscountPercentage, item.Name),
		Message: fmt.Sprintf("Great deal at %s! Save $%s on %s. Expires %s!",
			store.Name, saving, item.Name, item.ExpiryDate.Format("Jan 2, 2006")),
		Data: NotificationData{
			ItemID:             &itemID,
			StoreID:            &storeID,
			DiscountPercentage: item.DiscountPercentage,
			ActionURL:          "/products/" + item.ID.String(),
		},
		Priority:  PriorityHigh,
		DedupKey:  DiscountDedupKey(item.ID, recipientID, item.ExpiryDate),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}
