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

type ItemHandler struct {
	service  service.CatalogService
	validate *validator.Validate
	timeout  time.Duration
	logger   *zap.Logger
}

func NewItemHandler(svc service.CatalogService, logger *zap.Logger) *ItemHandler {
	return &ItemHandler{
		service:  svc,
		validate: newValidator(),
		timeout:  defaultTimeout,
		logger:   logger,
	}
}

func (h *ItemHandler) Create(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	req := new(CreateItemRequest)
	if err := c.BodyParser(req); err != nil {
		mylogger.Warn(ctx, h.logger, "failed to parse create item body", zap.Error(err))
		return badRequest(c, "error parsing body")
	}
	if err := h.validate.Struct(req); err != nil {
		return validationFailed(c, err)
	}

	actor := middleware.ActorFrom(c)
	storeID := actor.StoreID
	if req.StoreID != "" {
		storeID = uuid.MustParse(req.StoreID)
	}

	item, err := h.service.CreateItem(ctx, actor, service.CreateItemInput{
		StoreID:       storeID,
		Name:          req.Name,
		Category:      req.Category,
		Unit:          req.Unit,
		OriginalPrice: req.OriginalPrice,
		Stock:         req.Stock,
		ExpiryDate:    req.ExpiryDate,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(item)
}

func (h *ItemHandler) Get(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return badRequest(c, "Id is invalid")
	}

	item, err := h.service.GetItem(ctx, id)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(item)
}

func (h *ItemHandler) List(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	filter := domain.ItemFilter{
		Category: c.Query("category"),
		Status:   domain.ItemStatus(c.Query("status")),
		Search:   c.Query("q"),
		Limit:    int64(c.QueryInt("limit", 20)),
		Offset:   int64(c.QueryInt("offset", 0)),
	}

	storeID, err := optionalUUID(c.Query("store_id"))
	if err != nil {
		return badRequest(c, "store_id is invalid")
	}
	filter.StoreID = storeID

	items, total, err := h.service.ListItems(ctx, filter)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"items": items,
		"total": total,
	})
}

func (h *ItemHandler) Update(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return badRequest(c, "Id is invalid")
	}

	req := new(UpdateItemRequest)
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "error parsing body")
	}
	if err := h.validate.Struct(req); err != nil {
		return validationFailed(c, err)
	}

	item, err := h.service.UpdateItem(ctx, middleware.ActorFrom(c), id, domain.ItemUpdate{
		Name:          req.Name,
		Category:      req.Category,
		Unit:          req.Unit,
		OriginalPrice: req.OriginalPrice,
		ExpiryDate:    req.ExpiryDate,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(item)
}

func (h *ItemHandler) Restock(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return badRequest(c, "Id is invalid")
	}

	req := new(RestockRequest)
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "error parsing body")
	}
	if err := h.validate.Struct(req); err != nil {
		return validationFailed(c, err)
	}

	item, err := h.service.Restock(ctx, middleware.ActorFrom(c), id, req.Quantity)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(item)
}

func (h *ItemHandler) Delete(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return badRequest(c, "Id is invalid")
	}

	if err := h.service.RemoveItem(ctx, middleware.ActorFrom(c), id); err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
	})
}

func (h *ItemHandler) PriceHistory(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return badRequest(c, "Id is invalid")
	}

	history, err := h.service.PriceHistory(ctx, id)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"items": history,
	})
}
