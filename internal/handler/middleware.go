package handler

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-engine/internal/auth"
	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/ratelimit"
	"go.uber.org/zap"
)

const identityLocal = "identity"

// TokenVerifier turns a bearer token into the caller's identity.
type TokenVerifier interface {
	Verify(token string) (domain.Identity, error)
}

// CorrelationMiddleware attaches the X-Request-ID header value, or a fresh
// uuid, to the request context and echoes it back.
func CorrelationMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(fiber.HeaderXRequestID))
		if id == "" {
			id = uuid.NewString()
		}

		c.SetUserContext(observability.WithCorrelationID(c.UserContext(), id))
		c.Set(fiber.HeaderXRequestID, id)
		return c.Next()
	}
}

func AuthMiddleware(verifier TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return toHTTPError(err)
		}

		identity, err := verifier.Verify(token)
		if err != nil {
			return toHTTPError(err)
		}

		c.Locals(identityLocal, identity)
		return c.Next()
	}
}

// RateLimitMiddleware admits requests per authenticated subject, falling back
// to the client IP. Limiter backend errors let the request through.
func RateLimitMiddleware(limiter ratelimit.RateLimiter, metrics *observability.Metrics, logger *zap.Logger) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		clientID := identityFrom(c).Subject
		if clientID == "" {
			clientID = c.IP()
		}

		decision, err := limiter.Allow(c.UserContext(), clientID)
		if err != nil {
			metrics.IncRateLimitError()
			observability.WithContextLogger(logger, c.UserContext()).Warn("rate limiter unavailable, admitting request",
				zap.String("clientId", clientID),
				zap.Error(err),
			)
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

		if !decision.Allowed {
			metrics.IncRateLimitRejected()
			return toHTTPError(&domain.RateLimitError{ClientID: clientID, RetryAfter: decision.RetryAfter})
		}
		return c.Next()
	}
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !identityFrom(c).HasRole(domain.RoleAdmin) {
			return toHTTPError(domain.ErrForbidden)
		}
		return c.Next()
	}
}

func identityFrom(c *fiber.Ctx) domain.Identity {
	identity, _ := c.Locals(identityLocal).(domain.Identity)
	return identity
}
