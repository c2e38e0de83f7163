package handler

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/freshsave/pkg/mylogger"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
	"github.com/sakashimaa/freshsave/services/market/internal/service"
	"github.com/sakashimaa/freshsave/services/market/internal/transport/http/middleware"
	"go.uber.org/zap"
)

type AdminHandler struct {
	sweep    service.SweepService
	validate *validator.Validate
	now      func() time.Time
	logger   *zap.Logger
}

func NewAdminHandler(sweep service.SweepService, logger *zap.Logger, now func() time.Time) *AdminHandler {
	if now == nil {
		now = time.Now
	}

	return &AdminHandler{
		sweep:    sweep,
		validate: newValidator(),
		now:      now,
		logger:   logger,
	}
}

// RunSweep triggers the expiry sweep out of schedule. A zero horizon falls
// back to the configured one.
func (h *AdminHandler) RunSweep(c *fiber.Ctx) error {
	ctx := c.UserContext()

	if middleware.ActorFrom(c).Role != domain.RoleAdmin {
		return writeError(c, domain.ErrForbidden)
	}

	req := new(SweepRequest)
	if len(c.Body()) > 0 {
		if err := c.BodyParser(req); err != nil {
			return badRequest(c, "error parsing body")
		}
	}
	if err := h.validate.Struct(req); err != nil {
		return validationFailed(c, err)
	}

	res, err := h.sweep.RunExpirySweep(ctx, time.Duration(req.HorizonHours)*time.Hour, h.now())
	if err != nil {
		return writeError(c, err)
	}

	mylogger.Info(ctx, h.logger, "manual sweep finished",
		zap.Int("discounted", res.Discounted),
		zap.Int("expired", res.Expired),
	)

	return c.Status(fiber.StatusOK).JSON(res)
}
