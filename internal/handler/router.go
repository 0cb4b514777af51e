package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/ratelimit"
	"github.com/kursadbilgin/notification-engine/internal/transport"
	"go.uber.org/zap"
)

type AppOptions struct {
	Logger        *zap.Logger
	Metrics       *observability.Metrics
	Verifier      TokenVerifier
	Limiter       ratelimit.RateLimiter
	Notifications *NotificationHandler
	Admin         *AdminHandler
	Health        Dependencies
}

// NewApp assembles the HTTP API. Health and metrics endpoints are public;
// everything under /v1 requires a bearer token and passes admission control.
func NewApp(opts AppOptions) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(opts.Logger),
		DisableStartupMessage: true,
	})

	app.Use(CorrelationMiddleware())
	if opts.Metrics != nil {
		app.Use(opts.Metrics.HTTPMiddleware())
		app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics.Handler()))
	}
	RegisterHealthRoutes(app, opts.Health)

	v1 := app.Group("/v1", AuthMiddleware(opts.Verifier))
	if opts.Limiter != nil {
		v1.Use(RateLimitMiddleware(opts.Limiter, opts.Metrics, opts.Logger))
	}
	if opts.Notifications != nil {
		RegisterNotificationRoutes(v1, opts.Notifications)
	}
	if opts.Admin != nil {
		RegisterAdminRoutes(v1, opts.Admin)
	}

	return app
}
