package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestPolicyDefaults(t *testing.T) {
	p := StoreSettings{}.Policy()

	require.Equal(t, DiscountPolicy{Default: 50, Min: 20, Max: 70}, p)
	require.Equal(t, 50, p.Percentage())
}

func TestPolicyClamps(t *testing.T) {
	tests := []struct {
		name     string
		settings StoreSettings
		want     int
	}{
		{"inside range", StoreSettings{DefaultDiscountPercentage: 40, MinDiscountPercentage: 10, MaxDiscountPercentage: 60}, 40},
		{"above max", StoreSettings{DefaultDiscountPercentage: 90, MinDiscountPercentage: 10, MaxDiscountPercentage: 60}, 60},
		{"below min", StoreSettings{DefaultDiscountPercentage: 5, MinDiscountPercentage: 15, MaxDiscountPercentage: 60}, 15},
		{"min above max", StoreSettings{DefaultDiscountPercentage: 50, MinDiscountPercentage: 80, MaxDiscountPercentage: 60}, 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.settings.Policy().Percentage())
		})
	}
}

func TestRecipientInterestedIn(t *testing.T) {
	r := Recipient{
		City:       "Lisbon",
		Categories: []string{"dairy"},
		EmailOptIn: true,
		IsActive:   true,
		IsVerified: true,
	}

	require.True(t, r.InterestedIn("dairy", "Porto"))
	require.True(t, r.InterestedIn("bakery", "Lisbon"))
	require.False(t, r.InterestedIn("bakery", "Porto"))
	require.False(t, r.InterestedIn("bakery", ""))

	r.IsVerified = false
	require.False(t, r.InterestedIn("dairy", "Lisbon"))
}

func TestNewOrderSnapshotsPrices(t *testing.T) {
	now := time.Now()
	item := CatalogItem{
		ID:            uuid.New(),
		Name:          "Yogurt",
		Unit:          "cup",
		OriginalPrice: decimal.RequireFromString("2.50"),
		Stock:         10,
		ExpiryDate:    now.Add(day),
	}
	item.ApplyDiscount(40, now)

	order := NewOrder(uuid.New(), uuid.New(), []LineRequest{{ItemID: item.ID, Quantity: 3}}, []CatalogItem{item}, "", now, time.Hour)

	require.Equal(t, OrderStatusPending, order.Status)
	require.Equal(t, int64(1), order.Version)
	require.Len(t, order.Lines, 1)
	require.Equal(t, "1.50", order.Lines[0].DiscountedPrice.StringFixed(2))
	require.Equal(t, "4.50", order.TotalAmount.StringFixed(2))
	require.Equal(t, "3.00", order.TotalSavings.StringFixed(2))
	require.Equal(t, now.Add(time.Hour), order.ExpiresAt)
	require.Regexp(t, `^FS-[0-9A-Z]{26}$`, order.OrderNumber)
}

func TestDiscountDedupKeyChangesWithExpiry(t *testing.T) {
	item, recipient := uuid.New(), uuid.New()
	expiry := time.Date(2026, 3, 11, 18, 0, 0, 0, time.UTC)

	require.Equal(t, DiscountDedupKey(item, recipient, expiry), DiscountDedupKey(item, recipient, expiry.Add(time.Hour)))
	require.NotEqual(t, DiscountDedupKey(item, recipient, expiry), DiscountDedupKey(item, recipient, expiry.Add(24*time.Hour)))
}
