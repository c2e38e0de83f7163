package handler

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/service"
	"github.com/sakashimaa/freshsave/services/market/internal/transport/http/middleware"
	"go.uber.org/zap"
)

type OrderHandler struct {
	service  service.OrderService
	validate *validator.Validate
	timeout  time.Duration
	logger   *zap.Logger
}

func NewOrderHandler(svc service.OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		service:  svc,
		validate: newValidator(),
		timeout:  defaultTimeout,
		logger:   logger,
	}
}

func (h *OrderHandler) Create(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	req := new(CreateOrderRequest)
	if err := c.BodyParser(req); err != nil {
		mylogger.Warn(ctx, h.logger, "failed to parse create order body", zap.Error(err))
		return badRequest(c, "error parsing body")
	}
	if err := h.validate.Struct(req); err != nil {
		return validationFailed(c, err)
	}

	input := service.CreateOrderInput{
		StoreID: uuid.MustParse(req.StoreID),
		Lines:   make([]domain.LineRequest, 0, len(req.Lines)),
		Notes:   req.Notes,
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, domain.LineRequest{
			ItemID:   uuid.MustParse(line.ItemID),
			Quantity: line.Quantity,
		})
	}

	order, err := h.service.CreateOrder(ctx, middleware.ActorFrom(c), input)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(order)
}

func (h *OrderHandler) Get(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return badRequest(c, "Id is invalid")
	}

	order, err := h.service.GetOrder(ctx, middleware.ActorFrom(c), id)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(order)
}

func (h *OrderHandler) List(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	filter := domain.OrderFilter{
		Status: domain.OrderStatus(c.Query("status")),
		Limit:  int64(c.QueryInt("limit", 20)),
		Offset: int64(c.QueryInt("offset", 0)),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return badRequest(c, "status is invalid")
	}

	var err error
	if filter.StoreID, err = optionalUUID(c.Query("store_id")); err != nil {
		return badRequest(c, "store_id is invalid")
	}
	if filter.BuyerID, err = optionalUUID(c.Query("buyer_id")); err != nil {
		return badRequest(c, "buyer_id is invalid")
	}
	if filter.From, err = optionalTime(c.Query("from")); err != nil {
		return badRequest(c, "from must be RFC3339")
	}
	if filter.To, err = optionalTime(c.Query("to")); err != nil {
		return badRequest(c, "to must be RFC3339")
	}

	orders, total, err := h.service.ListOrders(ctx, middleware.ActorFrom(c), filter)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"items": orders,
		"total": total,
	})
}

func (h *OrderHandler) UpdateStatus(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return badRequest(c, "Id is invalid")
	}

	req := new(TransitionRequest)
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "error parsing body")
	}
	if err := h.validate.Struct(req); err != nil {
		return validationFailed(c, err)
	}

	order, err := h.service.TransitionOrder(ctx, middleware.ActorFrom(c), id, domain.OrderStatus(req.Status), req.Note)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(order)
}

func (h *OrderHandler) Cancel(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return badRequest(c, "Id is invalid")
	}

	order, err := h.service.CancelOrder(ctx, middleware.ActorFrom(c), id)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(order)
}
