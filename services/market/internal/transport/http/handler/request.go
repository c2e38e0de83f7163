package handler

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultTimeout = 2 * time.Second

// newValidator reports json field names so error paths match the request body.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

type CreateOrderRequest struct {
	StoreID string             `json:"store_id" validate:"required,uuid"`
	Lines   []OrderLineRequest `json:"lines" validate:"dive"`
	Notes   string             `json:"notes" validate:"max=500"`
}

type OrderLineRequest struct {
	ItemID   string `json:"item_id" validate:"required,uuid"`
	Quantity int64  `json:"quantity" validate:"required,gt=0"`
}

type TransitionRequest struct {
	Status string `json:"status" validate:"required,oneof=confirmed preparing ready completed cancelled"`
	Note   string `json:"note" validate:"max=500"`
}

type CreateItemRequest struct {
	StoreID       string          `json:"store_id" validate:"omitempty,uuid"`
	Name          string          `json:"name" validate:"required,min=2,max=200"`
	Category      string          `json:"category" validate:"required,max=50"`
	Unit          string          `json:"unit" validate:"omitempty,max=20"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	Stock         int64           `json:"stock" validate:"gte=0,lte=1000000"`
	ExpiryDate    time.Time       `json:"expiry_date" validate:"required"`
}

type UpdateItemRequest struct {
	Name          *string          `json:"name" validate:"omitempty,min=2,max=200"`
	Category      *string          `json:"category" validate:"omitempty,max=50"`
	Unit          *string          `json:"unit" validate:"omitempty,max=20"`
	OriginalPrice *decimal.Decimal `json:"original_price"`
	ExpiryDate    *time.Time       `json:"expiry_date"`
}

type RestockRequest struct {
	Quantity int64 `json:"quantity" validate:"required,gt=0,lte=1000000"`
}

type SweepRequest struct {
	HorizonHours int `json:"horizon_hours" validate:"gte=0,lte=720"`
}

func parseUUIDParam(c *fiber.Ctx, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, false
	}

	return id, true
}

// optionalUUID parses a query value; an empty value yields nil.
func optionalUUID(raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}

	return &id, nil
}

func optionalTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}

	return &t, nil
}
