package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/ratelimit"
	"github.com/kursadbilgin/notification-engine/internal/service"
)

type RetrySweeper interface {
	Sweep(ctx context.Context) (service.SweepReport, error)
}

type CleanupSweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// AdminHandler exposes operator actions: on-demand sweeps and limiter resets.
type AdminHandler struct {
	retry   RetrySweeper
	cleanup CleanupSweeper
	limiter ratelimit.RateLimiter
	audit   service.AuditSink
}

func NewAdminHandler(retry RetrySweeper, cleanup CleanupSweeper, limiter ratelimit.RateLimiter, audit service.AuditSink) (*AdminHandler, error) {
	if retry == nil || cleanup == nil || limiter == nil {
		return nil, fmt.Errorf("retry sweeper, cleanup sweeper and limiter are required")
	}
	return &AdminHandler{retry: retry, cleanup: cleanup, limiter: limiter, audit: audit}, nil
}

func RegisterAdminRoutes(router fiber.Router, h *AdminHandler) {
	admin := router.Group("/admin", RequireAdmin())
	admin.Post("/sweeps/retry", h.RunRetrySweep)
	admin.Post("/sweeps/cleanup", h.RunCleanupSweep)
	admin.Delete("/rate-limits/:clientId", h.ResetRateLimit)
}

func (h *AdminHandler) RunRetrySweep(c *fiber.Ctx) error {
	report, err := h.retry.Sweep(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(report)
}

func (h *AdminHandler) RunCleanupSweep(c *fiber.Ctx) error {
	deleted, err := h.cleanup.Sweep(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"deleted": deleted})
}

func (h *AdminHandler) ResetRateLimit(c *fiber.Ctx) error {
	clientID := strings.TrimSpace(c.Params("clientId"))
	if clientID == "" {
		return toHTTPError(fmt.Errorf("%w: clientId is required", domain.ErrValidation))
	}

	ctx := c.UserContext()
	if err := h.limiter.Reset(ctx, clientID); err != nil {
		return toHTTPError(err)
	}

	if h.audit != nil {
		h.audit.Record(ctx, observability.AuditEvent{
			Action:     observability.AuditRateLimitReset,
			TargetType: "client",
			TargetID:   clientID,
			Actor:      identityFrom(c).Subject,
		})
	}
	return c.SendStatus(fiber.StatusNoContent)
}
