package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/shopgridhq/shopgrid/app/controllers"
	"github.com/shopgridhq/shopgrid/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())

	v1 := api.Group("/v1")
	v1.Post("/auth/register", controllers.HandleRegister)
	v1.Post("/auth/login", controllers.HandleLogin)

	protected := v1.Group("", middleware.RequireAuth())
	protected.Post("/payments", controllers.HandleInitiatePayment)
	protected.Get("/account", controllers.HandleGetAccount)
	protected.Get("/features/:feature", controllers.HandlePeekFeature)
	protected.Post("/features/:feature/consume", controllers.HandleConsumeFeature)

	admin := protected.Group("/admin", middleware.RequireAdmin)
	admin.Post("/payments/:id/reapply-effect", controllers.HandleReapplyEffect)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
