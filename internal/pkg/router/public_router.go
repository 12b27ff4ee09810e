package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopgridhq/shopgrid/app/controllers"
)

type PublicRouter struct {
}

func (h PublicRouter) InstallRouter(app *fiber.App) {
	// Gateway redirect/webhook target. Unauthenticated: the gateway cannot
	// carry a user token, identity is derived from the session record.
	app.Get("/payments/callback", controllers.HandlePaymentCallback)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}

func NewPublicRouter() *PublicRouter {
	return &PublicRouter{}
}
