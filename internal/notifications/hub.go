// Package notifications pushes lightweight feed signals to connected
// clients over websockets: the pending-new-posts count for the banner and
// subscription state changes. Heavy data never travels this path; clients
// react to a signal by calling the feed API.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gofiber/websocket/v2"

	"vantage/internal/observability"
)

const (
	maxConnsPerUser = 12
	maxTotalConns   = 10000
)

// Hub maps viewerID -> websocket clients and fans each viewer's signals out
// to all of their open connections.
type Hub struct {
	mu         sync.RWMutex
	conns      map[uint]map[*Client]struct{}
	totalConns int
	logger     *slog.Logger
}

// NewHub creates an empty signal hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = observability.Logger
	}
	return &Hub{
		conns:  make(map[uint]map[*Client]struct{}),
		logger: logger,
	}
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return "feed signal hub" }

// Register adds a connection for a viewer. Returns an error when either the
// per-viewer or the server-wide connection limit is hit.
func (h *Hub) Register(viewerID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.totalConns >= maxTotalConns {
		return nil, errors.New("server connection limit reached")
	}

	m, ok := h.conns[viewerID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[viewerID] = m
	}
	if len(m) >= maxConnsPerUser {
		return nil, errors.New("viewer connection limit reached")
	}

	client := NewClient(h, conn, viewerID)
	m[client] = struct{}{}
	h.totalConns++
	observability.WebSocketConnections.Inc()
	return client, nil
}

// UnregisterClient removes a client from the hub.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.conns[client.ViewerID]
	if !ok {
		return
	}
	if _, exists := m[client]; !exists {
		return
	}
	delete(m, client)
	h.totalConns--
	observability.WebSocketConnections.Dec()
	if len(m) == 0 {
		delete(h.conns, client.ViewerID)
	}
}

// Signal sends a payload to every connection a viewer has open.
func (h *Hub) Signal(viewerID uint, payload string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.conns[viewerID]; ok {
		data := []byte(payload)
		for c := range clients {
			c.TrySend(data)
		}
	}
}

// Connected reports whether a viewer has at least one open connection.
func (h *Hub) Connected(viewerID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients, ok := h.conns[viewerID]
	return ok && len(clients) > 0
}

// StartWiring subscribes the hub to the signaler's Redis channels so that
// signals published on any instance reach this instance's connections.
func (h *Hub) StartWiring(ctx context.Context, s *Signaler) error {
	return s.StartPatternSubscriber(ctx, func(channel, payload string) {
		if !strings.HasPrefix(channel, signalChannelPrefix) {
			h.logger.Warn("unexpected signal channel", slog.String("channel", channel))
			return
		}
		var viewerID uint
		if _, err := fmt.Sscanf(channel, signalChannelPrefix+"%d", &viewerID); err != nil {
			h.logger.Warn("unparseable signal channel", slog.String("channel", channel))
			return
		}
		h.Signal(viewerID, payload)
	})
}

// Shutdown closes every connection gracefully.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for viewerID, clients := range h.conns {
		for client := range clients {
			if client.Conn == nil {
				continue
			}
			if err := client.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")); err != nil {
				h.logger.Debug("close message failed",
					slog.Uint64("viewer_id", uint64(viewerID)),
					slog.String("error", err.Error()),
				)
			}
			_ = client.Conn.Close()
		}
	}
	observability.WebSocketConnections.Sub(float64(h.totalConns))
	h.conns = make(map[uint]map[*Client]struct{})
	h.totalConns = 0
	return nil
}
