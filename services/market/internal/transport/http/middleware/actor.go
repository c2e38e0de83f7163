package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sakashimaa/freshsave/services/market/internal/domain"
)

const (
	HeaderUserID  = "X-User-ID"
	HeaderRole    = "X-User-Role"
	HeaderStoreID = "X-Store-ID"

	actorKey = "actor"
)

// NewActorMiddleware trusts the identity headers set by the gateway. A missing
// role means customer.
func NewActorMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := uuid.Parse(c.Get(HeaderUserID))
		if err != nil || userID == uuid.Nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized: missing or invalid user id",
				"code":  "UNAUTHORIZED",
			})
		}

		role := domain.Role(c.Get(HeaderRole, string(domain.RoleCustomer)))
		if !role.Valid() {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized: unknown role",
				"code":  "UNAUTHORIZED",
			})
		}

		actor := domain.Actor{ID: userID, Role: role}

		if raw := c.Get(HeaderStoreID); raw != "" {
			storeID, err := uuid.Parse(raw)
			if err != nil {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Unauthorized: invalid store id",
					"code":  "UNAUTHORIZED",
				})
			}
			actor.StoreID = storeID
		}

		if actor.Role == domain.RoleStoreOwner && actor.StoreID == uuid.Nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized: store owner without store",
				"code":  "UNAUTHORIZED",
			})
		}

		c.Locals(actorKey, actor)
		return c.Next()
	}
}

func ActorFrom(c *fiber.Ctx) domain.Actor {
	actor, _ := c.Locals(actorKey).(domain.Actor)
	return actor
}
