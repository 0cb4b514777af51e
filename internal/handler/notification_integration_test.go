package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-engine/internal/auth"
	"github.com/kursadbilgin/notification-engine/internal/domain"
	"github.com/kursadbilgin/notification-engine/internal/observability"
	"github.com/kursadbilgin/notification-engine/internal/ratelimit"
	"github.com/kursadbilgin/notification-engine/internal/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const testSecret = "integration-secret"

func TestNotificationIntegration_CreateNotification(t *testing.T) {
	t.Parallel()

	var gotIdentity domain.Identity
	engine := &stubEngine{
		createFn: func(ctx context.Context, identity domain.Identity, n *domain.Notification) (*domain.Notification, error) {
			gotIdentity = identity
			n.Normalize()
			if err := n.Validate(); err != nil {
				return nil, err
			}
			n.ID = "n-created"
			n.Status = domain.StatusPending
			n.CreatedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			return n, nil
		},
	}
	dispatcher := &stubDispatcher{
		dispatchFn: func(_ context.Context, n *domain.Notification) (*domain.Notification, error) {
			delivered := *n
			delivered.Status = domain.StatusDelivered
			return &delivered, nil
		},
	}
	app := newTestApp(t, engine, dispatcher, nil)
	token := signToken(t, "alice")

	resp, body := performRequest(t, app, http.MethodPost, "/v1/notifications", token,
		`{"recipient":"alice","type":"alert","payload":"server down"}`)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, body)
	}
	accepted := decodeObject(t, body)
	if accepted["id"] != "n-created" || accepted["status"] != domain.StatusDelivered.String() {
		t.Fatalf("response = %v, want n-created/DELIVERED", accepted)
	}
	if accepted["type"] != "ALERT" || accepted["payload"] != "server down" {
		t.Fatalf("response = %v", accepted)
	}
	if gotIdentity.Subject != "alice" {
		t.Fatalf("identity = %q, want alice", gotIdentity.Subject)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications", token,
		`{"recipient":"","type":"alert","payload":"x"}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing recipient", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/notifications", token, `{not json`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed body", resp.StatusCode)
	}
}

func TestNotificationIntegration_CreateKeepsRecordWhenDispatchFails(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{
		createFn: func(_ context.Context, _ domain.Identity, n *domain.Notification) (*domain.Notification, error) {
			n.ID = "n-pending"
			n.Status = domain.StatusPending
			return n, nil
		},
	}
	dispatcher := &stubDispatcher{
		dispatchFn: func(context.Context, *domain.Notification) (*domain.Notification, error) {
			return nil, errors.New("broker unavailable")
		},
	}
	app := newTestApp(t, engine, dispatcher, nil)

	resp, body := performRequest(t, app, http.MethodPost, "/v1/notifications", signToken(t, "alice"),
		`{"recipient":"alice","type":"alert","payload":"x"}`)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, body)
	}
	if got := decodeObject(t, body)["status"]; got != domain.StatusPending.String() {
		t.Fatalf("status = %v, want PENDING", got)
	}
}

func TestNotificationIntegration_RequiresBearerToken(t *testing.T) {
	t.Parallel()

	app := newTestApp(t, &stubEngine{}, &stubDispatcher{}, nil)

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing", token: ""},
		{name: "garbage", token: "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := performRequest(t, app, http.MethodGet, "/v1/notifications/n1", tt.token, "")
			if resp.StatusCode != fiber.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", resp.StatusCode)
			}
		})
	}

	other, _ := auth.NewVerifier("another-secret")
	forged, err := other.Sign("alice", nil, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	resp, _ := performRequest(t, app, http.MethodGet, "/v1/notifications/n1", forged, "")
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for token signed with another key", resp.StatusCode)
	}
}

func TestNotificationIntegration_GetNotification(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{
		getFn: func(_ context.Context, identity domain.Identity, id string) (*domain.Notification, error) {
			switch id {
			case "n-found":
				return &domain.Notification{ID: id, Recipient: "alice", Type: "ALERT", Payload: "x", Status: domain.StatusPending}, nil
			case "n-bob":
				if !identity.CanAccess("bob") {
					return nil, domain.ErrForbidden
				}
				return &domain.Notification{ID: id, Recipient: "bob"}, nil
			case "n-degraded":
				return domain.NewFallback(id, time.Now()), nil
			default:
				return nil, domain.ErrNotFound
			}
		},
	}
	app := newTestApp(t, engine, &stubDispatcher{}, nil)
	token := signToken(t, "alice")

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantState  string
	}{
		{name: "found", path: "/v1/notifications/n-found", wantStatus: fiber.StatusOK, wantState: "PENDING"},
		{name: "other recipient", path: "/v1/notifications/n-bob", wantStatus: fiber.StatusForbidden},
		{name: "missing", path: "/v1/notifications/n-missing", wantStatus: fiber.StatusNotFound},
		{name: "store degraded", path: "/v1/notifications/n-degraded", wantStatus: fiber.StatusOK, wantState: "FALLBACK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := performRequest(t, app, http.MethodGet, tt.path, token, "")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.wantStatus, body)
			}
			if tt.wantState != "" {
				if got := decodeObject(t, body)["status"]; got != tt.wantState {
					t.Fatalf("status field = %v, want %s", got, tt.wantState)
				}
			}
		})
	}
}

func TestNotificationIntegration_DeliverAndRetry(t *testing.T) {
	t.Parallel()

	msg := "recipient not connected"
	engine := &stubEngine{
		deliverFn: func(_ context.Context, _ domain.Identity, id string) error {
			switch id {
			case "n-offline":
				return &domain.DeliveryError{NotificationID: id, Cause: errors.New(msg)}
			case "n-done":
				return domain.ErrIllegalState
			case "n-race":
				return domain.ErrConflict
			case "n-db":
				return &domain.StoreError{Op: "update", Cause: errors.New("connection reset")}
			}
			return nil
		},
		retryFn: func(context.Context, domain.Identity, string) error { return nil },
		getFn: func(_ context.Context, _ domain.Identity, id string) (*domain.Notification, error) {
			return &domain.Notification{ID: id, Recipient: "alice", Status: domain.StatusDelivered, RetryCount: 1}, nil
		},
	}
	app := newTestApp(t, engine, &stubDispatcher{}, nil)
	token := signToken(t, "alice")

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "delivered", path: "/v1/notifications/n-ok/deliver", wantStatus: fiber.StatusOK},
		{name: "push failed", path: "/v1/notifications/n-offline/deliver", wantStatus: fiber.StatusBadGateway},
		{name: "not deliverable", path: "/v1/notifications/n-done/deliver", wantStatus: fiber.StatusConflict},
		{name: "version conflict", path: "/v1/notifications/n-race/deliver", wantStatus: fiber.StatusConflict},
		{name: "store down", path: "/v1/notifications/n-db/deliver", wantStatus: fiber.StatusServiceUnavailable},
		{name: "retry", path: "/v1/notifications/n-ok/retry", wantStatus: fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := performRequest(t, app, http.MethodPost, tt.path, token, "")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.wantStatus, body)
			}
		})
	}
}

func TestNotificationIntegration_ListEndpoints(t *testing.T) {
	t.Parallel()

	errText := "recipient not connected"
	engine := &stubEngine{
		listFn: func(_ context.Context, identity domain.Identity, recipient string) ([]domain.Notification, error) {
			if !identity.CanAccess(recipient) {
				return nil, domain.ErrForbidden
			}
			return []domain.Notification{
				{ID: "n2", Recipient: recipient, Status: domain.StatusFailed},
				{ID: "n1", Recipient: recipient, Status: domain.StatusDelivered},
			}, nil
		},
		attemptsFn: func(context.Context, domain.Identity, string) ([]domain.DeliveryAttempt, error) {
			return []domain.DeliveryAttempt{
				{ID: "a1", AttemptNumber: 1, Outcome: domain.OutcomeNotConnected, Error: &errText},
				{ID: "a2", AttemptNumber: 2, Outcome: domain.OutcomeDelivered},
			}, nil
		},
	}
	app := newTestApp(t, engine, &stubDispatcher{}, nil)
	token := signToken(t, "alice")

	resp, body := performRequest(t, app, http.MethodGet, "/v1/recipients/alice/notifications", token, "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
	}
	data := decodeObject(t, body)["data"].([]any)
	if len(data) != 2 || data[0].(map[string]any)["id"] != "n2" {
		t.Fatalf("data = %v, want newest first", data)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/recipients/bob/notifications", token, "")
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want 403 for another recipient", resp.StatusCode)
	}

	resp, body = performRequest(t, app, http.MethodGet, "/v1/notifications/n1/attempts", token, "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	attempts := decodeObject(t, body)["data"].([]any)
	first := attempts[0].(map[string]any)
	if len(attempts) != 2 || first["outcome"] != "NOT_CONNECTED" || first["error"] != errText {
		t.Fatalf("attempts = %v", attempts)
	}
}

func TestNotificationIntegration_RateLimit(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{
		getFn: func(_ context.Context, _ domain.Identity, id string) (*domain.Notification, error) {
			return &domain.Notification{ID: id}, nil
		},
	}
	app := newTestApp(t, engine, &stubDispatcher{}, ratelimit.NewMemoryLimiter(2, time.Minute))
	alice := signToken(t, "alice")
	bob := signToken(t, "bob")

	for i := 0; i < 2; i++ {
		resp, _ := performRequest(t, app, http.MethodGet, "/v1/notifications/n1", alice, "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, resp.StatusCode)
		}
	}

	resp, _ := performRequest(t, app, http.MethodGet, "/v1/notifications/n1", alice, "")
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get(fiber.HeaderRetryAfter) == "" {
		t.Fatal("Retry-After header missing")
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/notifications/n1", bob, "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("bob status = %d, want 200 with his own window", resp.StatusCode)
	}
}

func TestNotificationIntegration_RateLimiterFailureAdmits(t *testing.T) {
	t.Parallel()

	engine := &stubEngine{
		getFn: func(_ context.Context, _ domain.Identity, id string) (*domain.Notification, error) {
			return &domain.Notification{ID: id}, nil
		},
	}
	app := newTestApp(t, engine, &stubDispatcher{}, brokenLimiter{})

	resp, _ := performRequest(t, app, http.MethodGet, "/v1/notifications/n1", signToken(t, "alice"), "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 when the limiter backend is down", resp.StatusCode)
	}
}

func TestNotificationIntegration_CorrelationID(t *testing.T) {
	t.Parallel()

	var seen string
	engine := &stubEngine{
		getFn: func(ctx context.Context, _ domain.Identity, id string) (*domain.Notification, error) {
			seen, _ = observability.CorrelationIDFromContext(ctx)
			return &domain.Notification{ID: id}, nil
		},
	}
	app := newTestApp(t, engine, &stubDispatcher{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/notifications/n1", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+signToken(t, "alice"))
	req.Header.Set(fiber.HeaderXRequestID, "req-42")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	_ = resp.Body.Close()

	if seen != "req-42" {
		t.Fatalf("correlation id = %q, want req-42", seen)
	}
	if got := resp.Header.Get(fiber.HeaderXRequestID); got != "req-42" {
		t.Fatalf("X-Request-ID = %q, want req-42", got)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/notifications/n1", signToken(t, "alice"), "")
	if resp.Header.Get(fiber.HeaderXRequestID) == "" {
		t.Fatal("expected a generated X-Request-ID")
	}
}

func TestAdminIntegration(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.NewMemoryLimiter(1, time.Minute)
	if _, err := limiter.Allow(context.Background(), "alice"); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	audit := &recordingAudit{}

	admin, err := NewAdminHandler(
		stubRetrySweeper{report: service.SweepReport{Scanned: 3, Retried: 3, Delivered: 2, Failed: 1}},
		stubCleanupSweeper{deleted: 7},
		limiter,
		audit,
	)
	if err != nil {
		t.Fatalf("NewAdminHandler() error = %v", err)
	}

	verifier, _ := auth.NewVerifier(testSecret)
	app := NewApp(AppOptions{
		Logger:   zap.NewNop(),
		Verifier: verifier,
		Admin:    admin,
	})

	userToken := signToken(t, "alice")
	adminToken, err := verifier.Sign("ops", []string{domain.RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	resp, _ := performRequest(t, app, http.MethodPost, "/v1/admin/sweeps/retry", userToken, "")
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want 403 for non-admin", resp.StatusCode)
	}

	resp, body := performRequest(t, app, http.MethodPost, "/v1/admin/sweeps/retry", adminToken, "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
	}
	if report := decodeObject(t, body); report["delivered"] != float64(2) || report["scanned"] != float64(3) {
		t.Fatalf("report = %v", report)
	}

	resp, body = performRequest(t, app, http.MethodPost, "/v1/admin/sweeps/cleanup", adminToken, "")
	if resp.StatusCode != fiber.StatusOK || decodeObject(t, body)["deleted"] != float64(7) {
		t.Fatalf("cleanup = %d %s", resp.StatusCode, body)
	}

	resp, _ = performRequest(t, app, http.MethodDelete, "/v1/admin/rate-limits/alice", adminToken, "")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	decision, err := limiter.Allow(context.Background(), "alice")
	if err != nil || !decision.Allowed {
		t.Fatalf("Allow() after reset = %+v, %v; want admitted", decision, err)
	}
	if got := audit.last(); got.Action != observability.AuditRateLimitReset || got.TargetID != "alice" || got.Actor != "ops" {
		t.Fatalf("audit = %+v", got)
	}
}

func TestHealthIntegration(t *testing.T) {
	t.Parallel()

	t.Run("livez returns ok", func(t *testing.T) {
		t.Parallel()

		app := NewApp(AppOptions{Logger: zap.NewNop(), Verifier: mustVerifier(t)})
		resp, body := performRequest(t, app, http.MethodGet, "/livez", "", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
		}
	})

	t.Run("readyz returns ready when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(nil)
		t.Cleanup(func() { _ = rdb.Close() })

		app := NewApp(AppOptions{
			Logger:   zap.NewNop(),
			Verifier: mustVerifier(t),
			Health:   Dependencies{SQL: sqlDB, Redis: rdb, Broker: stubBroker(true)},
		})

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
		}
	})

	t.Run("readyz skips unconfigured dependencies", func(t *testing.T) {
		t.Parallel()

		app := NewApp(AppOptions{Logger: zap.NewNop(), Verifier: mustVerifier(t)})
		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
		}
		if checks := decodeObject(t, body)["checks"].(map[string]any); len(checks) != 0 {
			t.Fatalf("checks = %v, want none", checks)
		}
	})

	t.Run("readyz returns 503 when dependencies down", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{pingErr: errors.New("postgres down")})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(errors.New("redis down"))
		t.Cleanup(func() { _ = rdb.Close() })

		app := NewApp(AppOptions{
			Logger:   zap.NewNop(),
			Verifier: mustVerifier(t),
			Health:   Dependencies{SQL: sqlDB, Redis: rdb, Broker: stubBroker(false)},
		})

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, body)
		}
		checks := decodeObject(t, body)["checks"].(map[string]any)
		if checks["postgres"] != "down" || checks["redis"] != "down" || checks["rabbitmq"] != "down" {
			t.Fatalf("checks = %v", checks)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	app := NewApp(AppOptions{
		Logger:   zap.NewNop(),
		Metrics:  observability.NewMetrics(),
		Verifier: mustVerifier(t),
	})

	_, _ = performRequest(t, app, http.MethodGet, "/livez", "", "")
	resp, body := performRequest(t, app, http.MethodGet, "/metrics", "", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), "http_requests_total") {
		t.Fatalf("metrics body missing http request counter:\n%s", body)
	}
}

type stubEngine struct {
	createFn   func(ctx context.Context, identity domain.Identity, n *domain.Notification) (*domain.Notification, error)
	getFn      func(ctx context.Context, identity domain.Identity, id string) (*domain.Notification, error)
	deliverFn  func(ctx context.Context, identity domain.Identity, id string) error
	retryFn    func(ctx context.Context, identity domain.Identity, id string) error
	listFn     func(ctx context.Context, identity domain.Identity, recipient string) ([]domain.Notification, error)
	attemptsFn func(ctx context.Context, identity domain.Identity, id string) ([]domain.DeliveryAttempt, error)
}

func (s *stubEngine) Create(ctx context.Context, identity domain.Identity, n *domain.Notification) (*domain.Notification, error) {
	if s.createFn != nil {
		return s.createFn(ctx, identity, n)
	}
	return nil, errors.New("not implemented")
}

func (s *stubEngine) Get(ctx context.Context, identity domain.Identity, id string) (*domain.Notification, error) {
	if s.getFn != nil {
		return s.getFn(ctx, identity, id)
	}
	return nil, domain.ErrNotFound
}

func (s *stubEngine) Deliver(ctx context.Context, identity domain.Identity, id string) error {
	if s.deliverFn != nil {
		return s.deliverFn(ctx, identity, id)
	}
	return nil
}

func (s *stubEngine) Retry(ctx context.Context, identity domain.Identity, id string) error {
	if s.retryFn != nil {
		return s.retryFn(ctx, identity, id)
	}
	return nil
}

func (s *stubEngine) ListByRecipient(ctx context.Context, identity domain.Identity, recipient string) ([]domain.Notification, error) {
	if s.listFn != nil {
		return s.listFn(ctx, identity, recipient)
	}
	return nil, nil
}

func (s *stubEngine) Attempts(ctx context.Context, identity domain.Identity, id string) ([]domain.DeliveryAttempt, error) {
	if s.attemptsFn != nil {
		return s.attemptsFn(ctx, identity, id)
	}
	return nil, nil
}

type stubDispatcher struct {
	dispatchFn func(ctx context.Context, n *domain.Notification) (*domain.Notification, error)
}

func (s *stubDispatcher) Dispatch(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	if s.dispatchFn != nil {
		return s.dispatchFn(ctx, n)
	}
	return n, nil
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis unreachable")
}

func (brokenLimiter) Reset(context.Context, string) error { return errors.New("redis unreachable") }

type stubRetrySweeper struct {
	report service.SweepReport
}

func (s stubRetrySweeper) Sweep(context.Context) (service.SweepReport, error) { return s.report, nil }

type stubCleanupSweeper struct {
	deleted int64
}

func (s stubCleanupSweeper) Sweep(context.Context) (int64, error) { return s.deleted, nil }

type recordingAudit struct {
	mu     sync.Mutex
	events []observability.AuditEvent
}

func (r *recordingAudit) Record(_ context.Context, ev observability.AuditEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingAudit) last() observability.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return observability.AuditEvent{}
	}
	return r.events[len(r.events)-1]
}

type stubBroker bool

func (b stubBroker) Healthy() bool { return bool(b) }

func mustVerifier(t *testing.T) *auth.Verifier {
	t.Helper()

	verifier, err := auth.NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	return verifier
}

func signToken(t *testing.T, subject string) string {
	t.Helper()

	token, err := mustVerifier(t).Sign(subject, nil, time.Hour)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return token
}

func newTestApp(t *testing.T, engine NotificationEngine, dispatcher service.Dispatcher, limiter ratelimit.RateLimiter) *fiber.App {
	t.Helper()

	h, err := NewNotificationHandler(engine, dispatcher, zap.NewNop())
	if err != nil {
		t.Fatalf("NewNotificationHandler() error = %v", err)
	}

	return NewApp(AppOptions{
		Logger:        zap.NewNop(),
		Verifier:      mustVerifier(t),
		Limiter:       limiter,
		Notifications: h,
	})
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, token string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

func decodeObject(t *testing.T, body []byte) map[string]any {
	t.Helper()

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v (body=%s)", err, body)
	}
	return parsed
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") && h.pingErr != nil {
			cmd.SetErr(h.pingErr)
			return h.pingErr
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
