package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/service"
	"go.uber.org/zap"
)

type NotificationEngine interface {
	Create(ctx context.Context, identity domain.Identity, n *domain.Notification) (*domain.Notification, error)
	Get(ctx context.Context, identity domain.Identity, id string) (*domain.Notification, error)
	Deliver(ctx context.Context, identity domain.Identity, id string) error
	Retry(ctx context.Context, identity domain.Identity, id string) error
	ListByRecipient(ctx context.Context, identity domain.Identity, recipient string) ([]domain.Notification, error)
	Attempts(ctx context.Context, identity domain.Identity, id string) ([]domain.DeliveryAttempt, error)
}

type NotificationHandler struct {
	engine     NotificationEngine
	dispatcher service.Dispatcher
	logger     *zap.Logger
}

func NewNotificationHandler(engine NotificationEngine, dispatcher service.Dispatcher, logger *zap.Logger) (*NotificationHandler, error) {
	if engine == nil {
		return nil, fmt.Errorf("notification engine is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationHandler{engine: engine, dispatcher: dispatcher, logger: logger}, nil
}

// RegisterNotificationRoutes mounts the notification API on router. The
// router is expected to carry the auth middleware already.
func RegisterNotificationRoutes(router fiber.Router, h *NotificationHandler) {
	router.Post("/notifications", h.CreateNotification)
	router.Get("/notifications/:id", h.GetNotification)
	router.Get("/notifications/:id/attempts", h.ListAttempts)
	router.Post("/notifications/:id/deliver", h.DeliverNotification)
	router.Post("/notifications/:id/retry", h.RetryNotification)
	router.Get("/recipients/:recipient/notifications", h.ListByRecipient)
}

type createNotificationRequest struct {
	Recipient string `json:"recipient"`
	Type      string `json:"type"`
	Payload   string `json:"payload"`
}

type notificationResponse struct {
	ID           string     `json:"id"`
	Recipient    string     `json:"recipient"`
	Type         string     `json:"type"`
	Payload      string     `json:"payload"`
	Status       string     `json:"status"`
	RetryCount   int        `json:"retryCount"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
	NextRetryAt  *time.Time `json:"nextRetryAt,omitempty"`
}

type attemptResponse struct {
	ID            string    `json:"id"`
	AttemptNumber int       `json:"attemptNumber"`
	Outcome       string    `json:"outcome"`
	Error         *string   `json:"error,omitempty"`
	LatencyMs     int64     `json:"latencyMs"`
	CreatedAt     time.Time `json:"createdAt"`
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	var req createNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	ctx := c.UserContext()
	created, err := h.engine.Create(ctx, identityFrom(c), &domain.Notification{
		Recipient: req.Recipient,
		Type:      req.Type,
		Payload:   req.Payload,
	})
	if err != nil {
		return toHTTPError(err)
	}

	dispatched, err := h.dispatcher.Dispatch(ctx, created)
	if err != nil {
		// The record is stored as PENDING; the client can trigger delivery explicitly.
		observability.WithContextLogger(h.logger, ctx).Warn("dispatch after create failed",
			zap.String(observability.FieldNotificationID, created.ID),
			zap.Error(err),
		)
		dispatched = created
	}

	return c.Status(fiber.StatusAccepted).JSON(toNotificationResponse(dispatched))
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	n, err := h.engine.Get(c.UserContext(), identityFrom(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(n))
}

func (h *NotificationHandler) ListAttempts(c *fiber.Ctx) error {
	attempts, err := h.engine.Attempts(c.UserContext(), identityFrom(c), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		data = append(data, attemptResponse{
			ID:            a.ID,
			AttemptNumber: a.AttemptNumber,
			Outcome:       a.Outcome.String(),
			Error:         a.Error,
			LatencyMs:     a.LatencyMs,
			CreatedAt:     a.CreatedAt,
		})
	}
	return c.Status(fiber.StatusOK).JSON(listResponse[attemptResponse]{Data: data})
}

// DeliverNotification pushes a PENDING or RETRYING record in-request. A failed
// push answers 502; the failure is already stored on the record.
func (h *NotificationHandler) DeliverNotification(c *fiber.Ctx) error {
	return h.transition(c, h.engine.Deliver)
}

func (h *NotificationHandler) RetryNotification(c *fiber.Ctx) error {
	return h.transition(c, h.engine.Retry)
}

func (h *NotificationHandler) transition(c *fiber.Ctx, op func(context.Context, domain.Identity, string) error) error {
	ctx := c.UserContext()
	identity := identityFrom(c)
	id := strings.TrimSpace(c.Params("id"))

	if err := op(ctx, identity, id); err != nil {
		return toHTTPError(err)
	}

	n, err := h.engine.Get(ctx, identity, id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(n))
}

func (h *NotificationHandler) ListByRecipient(c *fiber.Ctx) error {
	notifications, err := h.engine.ListByRecipient(c.UserContext(), identityFrom(c), strings.TrimSpace(c.Params("recipient")))
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]notificationResponse, 0, len(notifications))
	for i := range notifications {
		data = append(data, toNotificationResponse(&notifications[i]))
	}
	return c.Status(fiber.StatusOK).JSON(listResponse[notificationResponse]{Data: data})
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:           n.ID,
		Recipient:    n.Recipient,
		Type:         n.Type,
		Payload:      n.Payload,
		Status:       n.Status.String(),
		RetryCount:   n.RetryCount,
		ErrorMessage: n.ErrorMessage,
		CreatedAt:    n.CreatedAt,
		ProcessedAt:  n.ProcessedAt,
		NextRetryAt:  n.NextRetryAt,
	}
}
