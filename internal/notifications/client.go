package notifications

import (
	"log/slog"
	"time"

	"github.com/gofiber/websocket/v2"

	"vantage/internal/observability"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Signals are tiny; anything
	// larger is a misbehaving client.
	maxMessageSize = 1024
)

// SignalHub is the subset of Hub a client needs.
type SignalHub interface {
	UnregisterClient(c *Client)
	Name() string
}

// Client is the middleman between one websocket connection and the hub.
type Client struct {
	Hub SignalHub

	Conn *websocket.Conn

	// Buffered channel of outbound signals.
	Send chan []byte

	ViewerID uint
}

// NewClient creates a client for one viewer connection.
func NewClient(hub SignalHub, conn *websocket.Conn, viewerID uint) *Client {
	return &Client{
		Hub:      hub,
		Conn:     conn,
		ViewerID: viewerID,
		Send:     make(chan []byte, 64),
	}
}

// ReadPump drains the connection until the peer goes away. Clients never
// send meaningful data on this socket; the pump exists to notice closes and
// keep the pong handler running.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.UnregisterClient(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				observability.Logger.Debug("signal socket read failed",
					slog.Uint64("viewer_id", uint64(c.ViewerID)),
					slog.String("error", err.Error()),
				)
			}
			return
		}
	}
}

// WritePump pumps signals from the hub to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend queues a signal without blocking. A full buffer drops the signal;
// the client can always recover the true count from the feed API.
func (c *Client) TrySend(message []byte) {
	defer func() {
		if r := recover(); r != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "closed").Inc()
		}
	}()

	select {
	case c.Send <- message:
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues(c.Hub.Name(), "full").Inc()
	}
}
