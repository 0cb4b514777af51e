package transport

import (
	"errors"
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"go.uber.org/zap"
)

const (
	storageUnavailableMessage = "storage unavailable"
	internalErrorMessage      = "internal server error"
)

func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		// Unclassified errors are logged in full but never echoed to the client.
		code := fiber.StatusInternalServerError
		message := internalErrorMessage

		var (
			fiberErr *fiber.Error
			rateErr  *domain.RateLimitError
			storeErr *domain.StoreError
		)
		switch {
		case errors.As(err, &fiberErr):
			code = fiberErr.Code
			message = fiberErr.Message
		case errors.As(err, &rateErr):
			code = fiber.StatusTooManyRequests
			message = rateErr.Error()
			c.Set(fiber.HeaderRetryAfter, retryAfterSeconds(rateErr))
		case errors.As(err, &storeErr):
			code = fiber.StatusServiceUnavailable
			message = storageUnavailableMessage
		}

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		}
		reqLogger := observability.WithContextLogger(logger, c.UserContext())
		if code >= fiber.StatusInternalServerError {
			reqLogger.Error("request error", fields...)
		} else {
			reqLogger.Warn("request rejected", fields...)
		}

		return c.Status(code).JSON(fiber.Map{
			"error": message,
		})
	}
}

// retryAfterSeconds rounds up so clients never retry inside the window.
func retryAfterSeconds(err *domain.RateLimitError) string {
	seconds := int(math.Ceil(err.RetryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
