// handlers/system_routes.go
package handlers

import (
	"context"
	"time"

	"design-battle-system/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"gorm.io/gorm"
)

// SetupSystemRoutes registers /healthz and the gateway-protected /metrics.
func SetupSystemRoutes(app *fiber.App, db *gorm.DB, gatherer prometheus.Gatherer, gatewayToken string) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		sqlDB, err := db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"success": false,
				"message": "database unavailable",
			})
		}
		return respond(c, fiber.StatusOK, "ok", nil)
	})

	metrics := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	app.Get("/metrics", middleware.GatewayAuthMiddleware(gatewayToken), func(c *fiber.Ctx) error {
		metrics(c.Context())
		return nil
	})
}
