package feed

import (
	"context"
	"log/slog"
	"sync"

	"vantage/internal/observability"
)

// ConnState describes the live-event subscription lifecycle.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Subscribed
)

func (c ConnState) String() string {
	switch c {
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// eventRing is a fixed-capacity set of recently seen event IDs, used to drop
// redelivered events from an at-least-once transport. Oldest entries are
// evicted in insertion order once the window fills.
type eventRing struct {
	cap   int
	order []string
	set   map[string]struct{}
}

func newEventRing(capacity int) *eventRing {
	if capacity <= 0 {
		capacity = 512
	}
	return &eventRing{
		cap: capacity,
		set: make(map[string]struct{}, capacity),
	}
}

// Seen reports whether the ID was already recorded, recording it if not.
func (r *eventRing) Seen(id string) bool {
	if _, ok := r.set[id]; ok {
		return true
	}
	if len(r.order) >= r.cap {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.set, oldest)
	}
	r.order = append(r.order, id)
	r.set[id] = struct{}{}
	return false
}

// Router applies live feed events to a session's State. It gates new posts
// on the viewer's follow set, deduplicates redelivered events, routes the
// viewer's own like events through optimistic reconciliation, and keeps
// everyone else's likes and comments as plain counter shifts.
type Router struct {
	state    *State
	viewerID uint
	logger   *slog.Logger

	mu      sync.RWMutex
	follows map[uint]struct{}
	seen    *eventRing

	onPending func(count int)
}

// NewRouter creates a router for one viewer's session.
func NewRouter(state *State, viewerID uint, dedupWindow int, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		state:    state,
		viewerID: viewerID,
		logger:   logger,
		follows:  make(map[uint]struct{}),
		seen:     newEventRing(dedupWindow),
	}
}

// SetFollowSnapshot replaces the follow set used to gate incoming posts.
// The viewer always passes their own gate.
func (r *Router) SetFollowSnapshot(authorIDs []uint) {
	next := make(map[uint]struct{}, len(authorIDs)+1)
	for _, id := range authorIDs {
		next[id] = struct{}{}
	}
	next[r.viewerID] = struct{}{}

	r.mu.Lock()
	r.follows = next
	r.mu.Unlock()
}

// OnPending registers a callback invoked after each accepted new-post event,
// with the updated pending count. Used to signal the "new posts" banner.
func (r *Router) OnPending(fn func(count int)) {
	r.mu.Lock()
	r.onPending = fn
	r.mu.Unlock()
}

// Run consumes events from the channel until it closes or the context ends.
func (r *Router) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Apply(ev)
		}
	}
}

// Apply routes a single event into the feed state.
func (r *Router) Apply(ev Event) {
	if ev == nil {
		return
	}
	typ := eventType(ev)

	id := ev.EventID()
	if id == "" {
		r.logger.Warn("dropping event without id", "type", typ)
		observability.FeedEvents.WithLabelValues(typ, "malformed").Inc()
		return
	}

	r.mu.Lock()
	dup := r.seen.Seen(id)
	r.mu.Unlock()
	if dup {
		observability.FeedEvents.WithLabelValues(typ, "duplicate").Inc()
		return
	}

	switch e := ev.(type) {
	case *PostInserted:
		r.applyPostInserted(e)
	case *LikeInserted:
		r.applyLike(e.PostID, e.UserID, true, typ)
	case *LikeDeleted:
		r.applyLike(e.PostID, e.UserID, false, typ)
	case *CommentInserted:
		r.applyComment(e.PostID, 1, typ)
	case *CommentDeleted:
		r.applyComment(e.PostID, -1, typ)
	default:
		observability.FeedEvents.WithLabelValues(typ, "ignored").Inc()
	}
}

func (r *Router) applyPostInserted(e *PostInserted) {
	r.mu.RLock()
	_, followed := r.follows[e.Post.UserID]
	onPending := r.onPending
	r.mu.RUnlock()

	if !followed {
		observability.FeedEvents.WithLabelValues(TypePostInserted, "ignored").Inc()
		return
	}
	if r.state.Contains(e.Post.ID) {
		observability.FeedEvents.WithLabelValues(TypePostInserted, "duplicate").Inc()
		return
	}

	count := r.state.IncrementPending()
	observability.FeedEvents.WithLabelValues(TypePostInserted, "applied").Inc()
	if onPending != nil {
		onPending(count)
	}
}

func (r *Router) applyLike(postID, userID uint, liked bool, typ string) {
	var applied bool
	if userID == r.viewerID {
		applied = r.state.ReconcileViewerLike(postID, liked)
	} else if liked {
		applied = r.state.AdjustLikes(postID, 1)
	} else {
		applied = r.state.AdjustLikes(postID, -1)
	}
	r.recordOutcome(typ, applied)
}

func (r *Router) applyComment(postID uint, delta int, typ string) {
	r.recordOutcome(typ, r.state.AdjustComments(postID, delta))
}

func (r *Router) recordOutcome(typ string, applied bool) {
	if applied {
		observability.FeedEvents.WithLabelValues(typ, "applied").Inc()
	} else {
		observability.FeedEvents.WithLabelValues(typ, "ignored").Inc()
	}
}

func eventType(ev Event) string {
	switch ev.(type) {
	case *PostInserted:
		return TypePostInserted
	case *LikeInserted:
		return TypeLikeInserted
	case *LikeDeleted:
		return TypeLikeDeleted
	case *CommentInserted:
		return TypeCommentInserted
	case *CommentDeleted:
		return TypeCommentDeleted
	default:
		return "unknown"
	}
}
