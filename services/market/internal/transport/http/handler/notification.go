package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/freshsave/services/market/internal/service"
	"github.com/sakashimaa/freshsave/services/market/internal/transport/http/middleware"
	"go.uber.org/zap"
)

type NotificationHandler struct {
	service service.NotificationService
	timeout time.Duration
	logger  *zap.Logger
}

func NewNotificationHandler(svc service.NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		service: svc,
		timeout: defaultTimeout,
		logger:  logger,
	}
}

func (h *NotificationHandler) List(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	page, err := h.service.ListNotifications(ctx, middleware.ActorFrom(c),
		int64(c.QueryInt("limit", 20)),
		int64(c.QueryInt("offset", 0)),
	)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(page)
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return badRequest(c, "Id is invalid")
	}

	if err := h.service.MarkRead(ctx, middleware.ActorFrom(c), id); err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
	})
}

func (h *NotificationHandler) MarkAllRead(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.timeout)
	defer cancel()

	n, err := h.service.MarkAllRead(ctx, middleware.ActorFrom(c))
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"marked": n,
	})
}
