package queue

import (
	"fmt"
	"strings"
)

// DeliveryMessage asks a worker to push one stored notification.
type DeliveryMessage struct {
	NotificationID string `json:"notificationId"`
	CorrelationID  string `json:"correlationId,omitempty"`
}

func (m DeliveryMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	return nil
}
