package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/freshsave/pkg/utils"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
)

func mapErrorStatus(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return fiber.StatusBadRequest
	case domain.KindConflict:
		return fiber.StatusConflict
	case domain.KindNotFound:
		return fiber.StatusNotFound
	case domain.KindForbidden:
		return fiber.StatusForbidden
	default:
		return fiber.StatusInternalServerError
	}
}

// writeError renders err as {"error", "code"} plus whatever detail the error
// carries. Internal errors never leak their message.
func writeError(c *fiber.Ctx, err error) error {
	kind := domain.Kind(err)
	status := mapErrorStatus(kind)

	body := fiber.Map{
		"error": err.Error(),
		"code":  kind,
	}
	if status == fiber.StatusInternalServerError {
		body["error"] = "internal error"
	}

	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		body["fields"] = validationErr.Fields
	}

	var stockErr *domain.InsufficientStockError
	if errors.As(err, &stockErr) {
		body["item_id"] = stockErr.ItemID
		body["requested"] = stockErr.Requested
		body["available"] = stockErr.Available
		if stockErr.Line >= 0 {
			body["line"] = stockErr.Line
		}
	}

	return c.Status(status).JSON(body)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
		"code":  domain.KindValidation,
	})
}

func validationFailed(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":  "validation failed",
		"code":   domain.KindValidation,
		"fields": utils.FormatValidationError(err),
	})
}
