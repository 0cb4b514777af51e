package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kursadbilgin/notification-engine/internal/auth"
	"github.com/kursadbilgin/notification-engine/internal/domain"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 512
	sendBufferSize = 64
)

var _ Channel = (*Hub)(nil)

// Authenticator turns a bearer token into an identity.
type Authenticator interface {
	Verify(token string) (domain.Identity, error)
}

type client struct {
	recipient string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Hub tracks live WebSocket connections per recipient. One recipient may hold
// several connections; a push is delivered when at least one accepts it.
type Hub struct {
	auth     Authenticator
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	byRecipient map[string]map[*client]struct{}
}

func NewHub(authenticator Authenticator, logger *zap.Logger) (*Hub, error) {
	if authenticator == nil {
		return nil, fmt.Errorf("authenticator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Hub{
		auth:   authenticator,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		byRecipient: make(map[string]map[*client]struct{}),
	}, nil
}

func (h *Hub) DeliverTo(ctx context.Context, recipient string, msg Message) (Result, error) {
	if err := ctx.Err(); err != nil {
		return 0, &TransportError{Message: "push aborted", Transient: true, Cause: err}
	}

	frame, err := json.Marshal(msg)
	if err != nil {
		return 0, &TransportError{Message: "failed to encode frame", Cause: err}
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.byRecipient[recipient]))
	for c := range h.byRecipient[recipient] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return NotConnected, nil
	}

	accepted := 0
	for _, c := range clients {
		select {
		case <-c.done:
			continue
		default:
		}
		select {
		case c.send <- frame:
			accepted++
		default:
		}
	}

	if accepted == 0 {
		return 0, &TransportError{
			Message:   fmt.Sprintf("all %d connections of recipient are saturated", len(clients)),
			Transient: true,
		}
	}
	return Delivered, nil
}

// Connections returns the number of live connections for recipient.
func (h *Hub) Connections(recipient string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byRecipient[recipient])
}

// ServeHTTP authenticates the caller, upgrades the connection and registers it
// under the token subject.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if header := r.Header.Get("Authorization"); header != "" {
			token, _ = auth.BearerToken(header)
		}
	}

	identity, err := h.auth.Verify(token)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid or missing token"}`))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("recipient", identity.Subject), zap.Error(err))
		return
	}

	c := &client{
		recipient: identity.Subject,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
	}
	h.register(c)

	go h.writePump(c)
	h.readPump(c)
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	all := make([]*client, 0)
	for _, set := range h.byRecipient {
		for c := range set {
			all = append(all, c)
		}
	}
	h.byRecipient = make(map[string]map[*client]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.close()
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	if h.byRecipient[c.recipient] == nil {
		h.byRecipient[c.recipient] = make(map[*client]struct{})
	}
	h.byRecipient[c.recipient][c] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("recipient connected", zap.String("recipient", c.recipient))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if set := h.byRecipient[c.recipient]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byRecipient, c.recipient)
		}
	}
	h.mu.Unlock()

	c.close()
	h.logger.Info("recipient disconnected", zap.String("recipient", c.recipient))
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Debug("websocket write failed", zap.String("recipient", c.recipient), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
