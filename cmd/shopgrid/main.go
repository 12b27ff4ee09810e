package main

import (
	"fmt"
	"log"
	"os"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/shopgridhq/shopgrid/app/controllers"
	"github.com/shopgridhq/shopgrid/internal/pkg/cache"
	"github.com/shopgridhq/shopgrid/internal/pkg/database"
	"github.com/shopgridhq/shopgrid/internal/pkg/entitlements"
	"github.com/shopgridhq/shopgrid/internal/pkg/env"
	"github.com/shopgridhq/shopgrid/internal/pkg/gateway"
	"github.com/shopgridhq/shopgrid/internal/pkg/notify"
	"github.com/shopgridhq/shopgrid/internal/pkg/payments"
	"github.com/shopgridhq/shopgrid/internal/pkg/router"
	"github.com/shopgridhq/shopgrid/internal/pkg/security"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	security.SetupSecret()
	database.SetupDatabase()
	cache.SetupCache()

	// Define possible base paths
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/shopgrid to project root
		"../../../", // Fallback
	}

	// Find the correct base path
	basePath := ""
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public"); !os.IsNotExist(err) {
			basePath = path
			break
		}
	}

	if basePath == "" {
		panic("Could not find project root directory")
	}

	app := fiber.New(fiber.Config{
		AppName: "ShopGrid",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// PAYMENT ENGINE
	db := database.GetDB()
	gatewayClient := gateway.NewClientFromEnv()
	credentials := gateway.NewCredentialCache(gatewayClient)
	ledger := entitlements.NewLedgerFromDB(db)
	notifier := notify.NewDBNotifier(db)
	paymentService := payments.NewService(
		payments.NewRepository(db),
		gatewayClient,
		credentials,
		ledger,
		notifier,
		payments.Config{
			MinAmount:   envFloat("PAYMENT_MIN_AMOUNT", 10),
			Currency:    env.GetEnv("PAYMENT_CURRENCY", "BDT"),
			CallbackURL: env.GetEnv("PUBLIC_DOMAIN", "http://localhost:4000") + "/payments/callback",
		},
	)
	quota := entitlements.NewQuotaFromDB(db)
	controllers.SetupServices(paymentService, quota)

	// ROUTER
	router.InstallRouter(app)

	return app
}

func envFloat(key string, def float64) float64 {
	raw := env.GetEnv(key, "")
	if raw == "" {
		return def
	}
	var v float64
	if _, err := fmt.Sscanf(raw, "%f", &v); err != nil {
		log.Printf("invalid %s=%q, using default %.2f", key, raw, def)
		return def
	}
	return v
}
