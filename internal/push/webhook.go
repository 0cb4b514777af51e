package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultWebhookTimeout = 10 * time.Second

var _ Channel = (*WebhookChannel)(nil)

type webhookRequest struct {
	Recipient string  `json:"recipient"`
	Message   Message `json:"message"`
}

// WebhookChannel relays pushes to an HTTP gateway that owns the recipient
// connections.
type WebhookChannel struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookChannel(endpoint string) (*WebhookChannel, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewWebhookChannelWithClient(endpoint, client)
}

func NewWebhookChannelWithClient(endpoint string, client *resty.Client) (*WebhookChannel, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("webhook endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookChannel{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (w *WebhookChannel) DeliverTo(ctx context.Context, recipient string, msg Message) (Result, error) {
	if w == nil || w.client == nil {
		return 0, fmt.Errorf("webhook channel is not initialized")
	}

	response, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Notification-ID", msg.ID).
		SetBody(webhookRequest{Recipient: recipient, Message: msg}).
		Post(w.endpoint)
	if err != nil {
		return 0, &TransportError{
			Message:   "webhook request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return 0, &TransportError{
			Message:   "webhook returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	switch {
	case statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices:
		return Delivered, nil
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return NotConnected, nil
	}

	return 0, &TransportError{
		StatusCode: statusCode,
		Message:    webhookErrorMessage(statusCode, strings.TrimSpace(response.String())),
		Transient:  isTransientHTTPStatus(statusCode),
	}
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func webhookErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("webhook returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
