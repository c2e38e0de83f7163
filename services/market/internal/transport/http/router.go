package http

import (
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sakashimaa/freshsave/services/market/internal/transport/http/handler"
	"github.com/sakashimaa/freshsave/services/market/internal/transport/http/middleware"
)

type Handlers struct {
	Order        *handler.OrderHandler
	Item         *handler.ItemHandler
	Notification *handler.NotificationHandler
	Admin        *handler.AdminHandler
}

type Options struct {
	// Registry backs /metrics; nil leaves the route out.
	Registry *prometheus.Registry
	// LimiterMax <= 0 disables rate limiting.
	LimiterMax        int
	LimiterExpiration time.Duration
	Timeout           time.Duration
}

func NewApp(h *Handlers, opts Options) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}

			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(otelfiber.Middleware())

	if opts.LimiterMax > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        opts.LimiterMax,
			Expiration: opts.LimiterExpiration,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error": "Too many requests. Try again later.",
				})
			},
		}))
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	if opts.Registry != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{
			Registry: opts.Registry,
		})))
	}

	RegisterRoutes(app, h)
	return app
}

func RegisterRoutes(app *fiber.App, h *Handlers) {
	api := app.Group("/api", middleware.NewActorMiddleware())

	order := api.Group("/orders")
	order.Post("", h.Order.Create)
	order.Get("", h.Order.List)
	order.Get("/:id", h.Order.Get)
	order.Patch("/:id/status", h.Order.UpdateStatus)
	order.Patch("/:id/cancel", h.Order.Cancel)

	item := api.Group("/items")
	item.Post("", h.Item.Create)
	item.Get("", h.Item.List)
	item.Get("/:id", h.Item.Get)
	item.Patch("/:id", h.Item.Update)
	item.Post("/:id/restock", h.Item.Restock)
	item.Delete("/:id", h.Item.Delete)
	item.Get("/:id/price-history", h.Item.PriceHistory)

	notification := api.Group("/notifications")
	notification.Get("", h.Notification.List)
	notification.Patch("/read-all", h.Notification.MarkAllRead)
	notification.Patch("/:id/read", h.Notification.MarkRead)

	admin := api.Group("/admin")
	admin.Post("/sweep", h.Admin.RunSweep)
}
