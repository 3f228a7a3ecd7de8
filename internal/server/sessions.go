package server

import (
	"context"
	"log/slog"
	"sync"

	"vantage/internal/feed"
	"vantage/internal/observability"
)

// sessionRegistry holds one live feed session per viewer. Sessions are
// created lazily on first feed request and survive across requests until
// closed explicitly or at shutdown.
type sessionRegistry struct {
	server *Server

	mu       sync.Mutex
	sessions map[uint]*feed.Session
}

func newSessionRegistry(server *Server) *sessionRegistry {
	return &sessionRegistry{
		server:   server,
		sessions: make(map[uint]*feed.Session),
	}
}

// Get returns the viewer's session, creating and starting one if absent.
func (r *sessionRegistry) Get(ctx context.Context, viewerID uint) (*feed.Session, error) {
	r.mu.Lock()
	if sess, ok := r.sessions[viewerID]; ok {
		r.mu.Unlock()
		return sess, nil
	}
	r.mu.Unlock()

	collab := r.server.collabFn()
	if !r.server.flags.Enabled("live_events", viewerID) {
		collab.Events = nil
	}

	sess := feed.NewSession(viewerID, collab, r.server.sessionConfig(), r.server.logger)
	sess.OnPending(func(count int) {
		if r.server.signaler == nil {
			return
		}
		if err := r.server.signaler.PublishPendingPosts(context.Background(), viewerID, count); err != nil {
			r.server.logger.Debug("pending-posts signal failed",
				slog.Uint64("viewer_id", uint64(viewerID)),
				slog.String("error", err.Error()),
			)
		}
	})
	if err := sess.Start(ctx); err != nil {
		sess.Close()
		return nil, err
	}

	if r.server.signaler != nil {
		if err := r.server.signaler.PublishConnState(context.Background(), viewerID, sess.ConnState().String()); err != nil {
			r.server.logger.Debug("conn-state signal failed",
				slog.Uint64("viewer_id", uint64(viewerID)),
				slog.String("error", err.Error()),
			)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[viewerID]; ok {
		// A concurrent request won the race; keep theirs.
		sess.Close()
		return existing, nil
	}
	r.sessions[viewerID] = sess
	observability.ActiveSessions.Inc()
	return sess, nil
}

// Close tears down the viewer's session if one exists.
func (r *sessionRegistry) Close(viewerID uint) bool {
	r.mu.Lock()
	sess, ok := r.sessions[viewerID]
	if ok {
		delete(r.sessions, viewerID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	sess.Close()
	observability.ActiveSessions.Dec()
	return true
}

// CloseAll tears down every live session.
func (r *sessionRegistry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[uint]*feed.Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
		observability.ActiveSessions.Dec()
	}
}
