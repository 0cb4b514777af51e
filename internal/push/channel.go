package push

import (
	"context"
	"time"
)

// Result is the outcome of a push that reached the channel without a transport failure.
type Result int

const (
	Delivered Result = iota + 1
	NotConnected
)

func (r Result) String() string {
	switch r {
	case Delivered:
		return "DELIVERED"
	case NotConnected:
		return "NOT_CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Message is the frame pushed to a recipient.
type Message struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"createdAt"`
}

// Channel pushes a message to a connected recipient. Transport failures are
// reported as *TransportError.
type Channel interface {
	DeliverTo(ctx context.Context, recipient string, msg Message) (Result, error)
}
