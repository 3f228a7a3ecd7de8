package server

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// FeedSignalHandler upgrades the connection and attaches it to the signal
// hub so the viewer receives pending-posts banner updates without polling.
func (s *Server) FeedSignalHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		viewerVal := conn.Locals("viewerID")
		if viewerVal == nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthorized"}`))
			_ = conn.Close()
			return
		}
		viewerID := viewerVal.(uint)

		if s.hub == nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"signals unavailable"}`))
			_ = conn.Close()
			return
		}

		client, err := s.hub.Register(viewerID, conn)
		if err != nil {
			s.logger.Warn("signal socket rejected",
				slog.Uint64("viewer_id", uint64(viewerID)),
				slog.String("error", err.Error()),
			)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		s.logger.Debug("signal socket connected", slog.Uint64("viewer_id", uint64(viewerID)))

		go client.WritePump()
		client.ReadPump()
	})
}
