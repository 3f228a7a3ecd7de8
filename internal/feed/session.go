package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNotInFeed is returned when an operation targets a post the session does
// not currently hold.
var ErrNotInFeed = errors.New("post not in feed")

// Collaborators bundles everything a session depends on.
type Collaborators struct {
	Source   PostSource
	Counters CounterReader
	Resolver MediaResolver
	Follows  FollowGraph
	Likes    LikeWriter
	Events   EventSource
}

// SessionConfig carries the tunables for one feed session. Zero values fall
// back to the same defaults the enricher uses.
type SessionConfig struct {
	PageSize    int
	OpTimeout   time.Duration
	MediaTTL    time.Duration
	MaxInFlight int
	StaleAfter  time.Duration
	DedupWindow int
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.PageSize <= 0 {
		c.PageSize = 20
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 5 * time.Minute
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 512
	}
	return c
}

// Session owns one viewer's feed: the enrichment pipeline that fills it, the
// state that holds it, and the router that keeps it live. Page loads run on
// the session's own context, so an enrichment in flight when the caller's
// request context ends still commits; closing the session cancels everything.
type Session struct {
	viewerID uint
	collab   Collaborators
	cfg      SessionConfig
	logger   *slog.Logger

	state    *State
	enricher *Enricher
	router   *Router

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	offset    int
	authorIDs []uint
	connState ConnState
}

// NewSession builds a session for the viewer. Start must be called before
// the feed is usable.
func NewSession(viewerID uint, collab Collaborators, cfg SessionConfig, logger *slog.Logger) *Session {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("viewer_id", viewerID)

	state := NewState(cfg.StaleAfter)
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		viewerID: viewerID,
		collab:   collab,
		cfg:      cfg,
		logger:   logger,
		state:    state,
		enricher: NewEnricher(collab.Resolver, collab.Counters, EnricherConfig{
			OpTimeout:   cfg.OpTimeout,
			MediaTTL:    cfg.MediaTTL,
			MaxInFlight: cfg.MaxInFlight,
		}, logger),
		router: NewRouter(state, viewerID, cfg.DedupWindow, logger),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start loads the initial page and subscribes to the live event stream.
func (s *Session) Start(ctx context.Context) error {
	if err := s.refreshFollows(ctx); err != nil {
		return err
	}
	if _, err := s.loadPage(ctx, 0, true); err != nil {
		return err
	}

	// Live events are best-effort: a feed without a subscription is stale
	// sooner, not broken.
	if s.collab.Events == nil {
		s.setConnState(Disconnected)
		return nil
	}
	s.setConnState(Connecting)
	events, err := s.collab.Events.Subscribe(s.ctx, s.viewerID)
	if err != nil {
		s.setConnState(Disconnected)
		s.logger.Warn("live event subscription failed", "error", err.Error())
		return nil
	}
	s.setConnState(Subscribed)

	go func() {
		s.router.Run(s.ctx, events)
		s.setConnState(Disconnected)
	}()
	return nil
}

// NextPage fetches, enriches, and appends the next page of the feed.
func (s *Session) NextPage(ctx context.Context) (*Page, error) {
	s.mu.Lock()
	offset := s.offset
	s.mu.Unlock()

	page, err := s.loadPage(ctx, offset, false)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.offset += len(page.Posts)
	s.mu.Unlock()
	return page, nil
}

// Refresh re-snapshots the follow graph and replaces the feed with a fresh
// first page, resetting pagination, pending count, and the staleness clock.
func (s *Session) Refresh(ctx context.Context) (*Page, error) {
	if err := s.refreshFollows(ctx); err != nil {
		return nil, err
	}
	page, err := s.loadPage(ctx, 0, true)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.offset = len(page.Posts)
	s.mu.Unlock()
	return page, nil
}

// AcknowledgePendingPosts pulls the posts newer than the current feed head,
// enriches them, and merges them in at the top. A zero pending count is a
// no-op.
func (s *Session) AcknowledgePendingPosts(ctx context.Context) error {
	pending := s.state.PendingNewPosts()
	if pending == 0 {
		return nil
	}

	authorIDs, err := s.collab.Follows.FollowedAuthorIDs(ctx, s.viewerID)
	if err != nil {
		return fmt.Errorf("snapshot follows: %w", err)
	}

	raws, err := s.collab.Source.FetchNewerThan(ctx, authorIDs, s.state.NewestCreatedAt(), s.cfg.PageSize)
	if err != nil {
		return fmt.Errorf("fetch newer posts: %w", err)
	}

	page := s.enricher.EnrichPage(s.ctx, raws, s.viewerID)
	if err := s.ctx.Err(); err != nil {
		return err
	}
	s.state.MergeHead(page.Posts)
	s.state.AcknowledgePending()
	return nil
}

// Rehydrate re-resolves media URLs for stale posts. A nil ids slice means
// every post currently missing media. Returns the IDs still unresolved.
func (s *Session) Rehydrate(ctx context.Context, ids []uint) ([]uint, error) {
	missing := s.state.MissingMedia(ids)
	if len(missing) == 0 {
		return nil, nil
	}

	resolved, stillMissing := s.enricher.RehydrateMedia(ctx, missing)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for id, url := range resolved {
		s.state.SetMediaURL(id, url)
	}
	return stillMissing, nil
}

// ToggleLike applies the viewer's like toggle optimistically, then persists
// it. A persistence failure rolls the local change back and returns the error.
func (s *Session) ToggleLike(ctx context.Context, postID uint, liked bool) error {
	if !s.state.ApplyLocalLike(postID, liked) {
		return fmt.Errorf("%w: %d", ErrNotInFeed, postID)
	}

	var err error
	if liked {
		err = s.collab.Likes.Like(ctx, s.viewerID, postID)
	} else {
		err = s.collab.Likes.Unlike(ctx, s.viewerID, postID)
	}
	if err != nil {
		s.state.UndoLocalLike(postID)
		return fmt.Errorf("persist like toggle: %w", err)
	}
	return nil
}

// OnPending registers a callback fired after each accepted new-post event
// with the updated pending count. Register before Start to avoid missing
// early events.
func (s *Session) OnPending(fn func(count int)) { s.router.OnPending(fn) }

// Posts returns a snapshot of the current feed.
func (s *Session) Posts() []Post { return s.state.Posts() }

// Post returns a copy of one feed entry, if present.
func (s *Session) Post(postID uint) (Post, bool) { return s.state.Get(postID) }

// LastRefreshed reports when the feed last committed a full page.
func (s *Session) LastRefreshed() time.Time { return s.state.LastRefreshed() }

// PendingNewPosts returns the count of unseen posts signalled by the router.
func (s *Session) PendingNewPosts() int { return s.state.PendingNewPosts() }

// IsStale reports whether the feed is older than the staleness threshold.
func (s *Session) IsStale() bool { return s.state.IsStale() }

// ConnState returns the live-subscription state.
func (s *Session) ConnState() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connState
}

// Close tears the session down and stops the event router.
func (s *Session) Close() {
	s.cancel()
	s.setConnState(Disconnected)
}

func (s *Session) setConnState(cs ConnState) {
	s.mu.Lock()
	s.connState = cs
	s.mu.Unlock()
}

func (s *Session) refreshFollows(ctx context.Context) error {
	authorIDs, err := s.collab.Follows.FollowedAuthorIDs(ctx, s.viewerID)
	if err != nil {
		return fmt.Errorf("snapshot follows: %w", err)
	}
	s.router.SetFollowSnapshot(authorIDs)
	s.mu.Lock()
	s.authorIDs = append([]uint{}, authorIDs...)
	s.mu.Unlock()
	return nil
}

// loadPage fetches a raw page on the request context, enriches it on the
// session context, and commits it only if the session is still open. The
// commit is all-or-nothing: either the whole page lands or none of it does.
func (s *Session) loadPage(ctx context.Context, offset int, replace bool) (*Page, error) {
	s.mu.Lock()
	authorIDs := append([]uint{}, s.authorIDs...)
	s.mu.Unlock()

	raws, err := s.collab.Source.FetchPage(ctx, authorIDs, s.cfg.PageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}

	page := s.enricher.EnrichPage(s.ctx, raws, s.viewerID)
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	s.state.CommitPage(page, replace)
	return page, nil
}
