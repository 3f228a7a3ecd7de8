package feed

import (
	"sort"
	"sync"
	"time"
)

// State is the in-memory, ordered, mutable view of a viewer's feed for one
// session. Exactly two producers mutate it: page commits from the enrichment
// pipeline and incremental updates from the live-event router. Both serialize
// on the internal mutex; readers get snapshot copies and never block on an
// in-flight enrichment.
type State struct {
	mu            sync.RWMutex
	posts         []*Post
	index         map[uint]*Post
	pendingNew    int
	lastRefreshed time.Time
	staleAfter    time.Duration

	// likeIntents records the viewer's optimistic like toggles that have not
	// yet been confirmed by an authoritative event, keyed by post ID.
	likeIntents map[uint]bool

	now func() time.Time
}

// NewState creates an empty feed state with the given staleness threshold.
func NewState(staleAfter time.Duration) *State {
	return &State{
		index:       make(map[uint]*Post),
		likeIntents: make(map[uint]bool),
		staleAfter:  staleAfter,
		now:         time.Now,
	}
}

// CommitPage installs an enriched page. With replace=true the page becomes
// the new feed head-to-tail (full load or refresh) and the staleness clock
// and pending counter reset; otherwise the page is appended in page order,
// skipping IDs already present. The whole page lands under one lock hold, so
// live-event mutations never interleave with a half-committed page.
func (s *State) CommitPage(page *Page, replace bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if replace {
		s.posts = s.posts[:0]
		s.index = make(map[uint]*Post, len(page.Posts))
		s.likeIntents = make(map[uint]bool)
		s.pendingNew = 0
		s.lastRefreshed = s.now()
	}

	for _, p := range page.Posts {
		if _, ok := s.index[p.ID]; ok {
			continue
		}
		cp := p.clone()
		s.posts = append(s.posts, cp)
		s.index[cp.ID] = cp
	}
}

// MergeHead inserts newly acknowledged posts at the head of the feed in
// chronological order (newest first), skipping IDs already present.
func (s *State) MergeHead(posts []*Post) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make([]*Post, 0, len(posts))
	for _, p := range posts {
		if _, ok := s.index[p.ID]; ok {
			continue
		}
		cp := p.clone()
		fresh = append(fresh, cp)
		s.index[cp.ID] = cp
	}
	if len(fresh) == 0 {
		return
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].CreatedAt.After(fresh[j].CreatedAt)
	})
	s.posts = append(fresh, s.posts...)
}

// Posts returns a snapshot copy of the ordered feed.
func (s *State) Posts() []Post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Post, len(s.posts))
	for i, p := range s.posts {
		out[i] = *p
	}
	return out
}

// Get returns a copy of one post, if present.
func (s *State) Get(postID uint) (Post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.index[postID]
	if !ok {
		return Post{}, false
	}
	return *p, true
}

// Contains reports whether a post is currently in the feed.
func (s *State) Contains(postID uint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[postID]
	return ok
}

// Len returns the number of posts currently held.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.posts)
}

// NewestCreatedAt returns the creation time of the newest post, or the zero
// time for an empty feed.
func (s *State) NewestCreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.posts) == 0 {
		return time.Time{}
	}
	return s.posts[0].CreatedAt
}

// PendingNewPosts returns how many unseen posts the router has signalled.
func (s *State) PendingNewPosts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingNew
}

// IncrementPending bumps the pending-new-posts counter and returns the new value.
func (s *State) IncrementPending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingNew++
	return s.pendingNew
}

// AcknowledgePending resets the pending-new-posts counter.
func (s *State) AcknowledgePending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingNew = 0
}

// LastRefreshed returns when the feed last committed a full page.
func (s *State) LastRefreshed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRefreshed
}

// IsStale reports whether the feed is older than the staleness threshold.
func (s *State) IsStale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastRefreshed.IsZero() {
		return false
	}
	return s.now().Sub(s.lastRefreshed) > s.staleAfter
}

// AdjustLikes shifts a post's like counter by delta, clamped at zero.
// Returns false if the post is not in the feed (the event is a no-op).
func (s *State) AdjustLikes(postID uint, delta int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.index[postID]
	if !ok {
		return false
	}
	p.LikeCount = clampNonNegative(p.LikeCount + delta)
	return true
}

// AdjustComments shifts a post's comment counter by delta, clamped at zero.
func (s *State) AdjustComments(postID uint, delta int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.index[postID]
	if !ok {
		return false
	}
	p.CommentCount = clampNonNegative(p.CommentCount + delta)
	return true
}

// ApplyLocalLike applies the viewer's optimistic like toggle: flip the flag,
// shift the counter, and remember the intent so the confirming server event
// is not applied a second time. A toggle to the current value is a no-op.
func (s *State) ApplyLocalLike(postID uint, liked bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.index[postID]
	if !ok {
		return false
	}
	if p.Liked == liked {
		return true
	}
	p.Liked = liked
	if liked {
		p.LikeCount++
	} else {
		p.LikeCount = clampNonNegative(p.LikeCount - 1)
	}
	s.likeIntents[postID] = liked
	return true
}

// UndoLocalLike reverses an optimistic toggle whose persistence failed.
func (s *State) UndoLocalLike(postID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent, ok := s.likeIntents[postID]
	if !ok {
		return
	}
	delete(s.likeIntents, postID)
	p, ok := s.index[postID]
	if !ok {
		return
	}
	p.Liked = !intent
	if intent {
		p.LikeCount = clampNonNegative(p.LikeCount - 1)
	} else {
		p.LikeCount++
	}
}

// ReconcileViewerLike applies an authoritative like event for the viewer's
// own user. An event that merely confirms a pending optimistic toggle leaves
// the counter untouched; either way the liked flag ends on the authoritative
// value. Returns false if the post is not in the feed.
func (s *State) ReconcileViewerLike(postID uint, liked bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.index[postID]
	if !ok {
		return false
	}

	if intent, pending := s.likeIntents[postID]; pending {
		delete(s.likeIntents, postID)
		if intent == liked {
			// Confirmation of the change already applied locally.
			p.Liked = liked
			return true
		}
		// The local toggle raced past the server; the event wins.
	}

	if liked {
		p.LikeCount++
	} else {
		p.LikeCount = clampNonNegative(p.LikeCount - 1)
	}
	p.Liked = liked
	return true
}

// MissingMedia returns copies of the posts still lacking a resolved media
// URL, in feed order, optionally restricted to the given IDs.
func (s *State) MissingMedia(only []uint) []*Post {
	var filter map[uint]struct{}
	if len(only) > 0 {
		filter = make(map[uint]struct{}, len(only))
		for _, id := range only {
			filter[id] = struct{}{}
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Post
	for _, p := range s.posts {
		if p.MediaURL != "" {
			continue
		}
		if filter != nil {
			if _, ok := filter[p.ID]; !ok {
				continue
			}
		}
		out = append(out, p.clone())
	}
	return out
}

// SetMediaURL installs a freshly resolved media URL on a post.
func (s *State) SetMediaURL(postID uint, url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.index[postID]
	if !ok {
		return false
	}
	p.MediaURL = url
	return true
}

func clampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
