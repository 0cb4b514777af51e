package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// BrokerHealth reports whether the message broker connection is usable.
type BrokerHealth interface {
	Healthy() bool
}

// Dependencies lists the backends checked by /readyz. Nil entries are not
// configured for this deployment and are skipped.
type Dependencies struct {
	SQL    *sql.DB
	Redis  *redis.Client
	Broker BrokerHealth
}

func RegisterHealthRoutes(app fiber.Router, deps Dependencies) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(deps))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(deps Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		defer cancel()

		checks := fiber.Map{}
		ready := true
		mark := func(name string, ok bool) {
			if ok {
				checks[name] = "ok"
				return
			}
			checks[name] = "down"
			ready = false
		}

		if deps.SQL != nil {
			mark("postgres", deps.SQL.PingContext(ctx) == nil)
		}
		if deps.Redis != nil {
			mark("redis", deps.Redis.Ping(ctx).Err() == nil)
		}
		if deps.Broker != nil {
			mark("rabbitmq", deps.Broker.Healthy())
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if !ready {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	}
}
