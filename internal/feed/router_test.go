package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vantage/internal/models"
)

func routerFixture(t *testing.T, viewerID uint) (*Router, *State) {
	t.Helper()
	s := NewState(5 * time.Minute)
	r := NewRouter(s, viewerID, 16, nil)
	r.SetFollowSnapshot([]uint{100, 101})
	return r, s
}

func TestRouterDeduplicatesRedeliveredEvents(t *testing.T) {
	r, s := routerFixture(t, 42)
	s.CommitPage(pageOf(feedPost(1, time.Now())), true)

	ev := &LikeInserted{ID: "evt-1", PostID: 1, UserID: 777}
	r.Apply(ev)
	r.Apply(ev)
	r.Apply(ev)

	got, _ := s.Get(1)
	assert.Equal(t, 1, got.LikeCount, "redelivered like applied more than once")
}

func TestRouterDropsEventWithoutID(t *testing.T) {
	r, s := routerFixture(t, 42)
	s.CommitPage(pageOf(feedPost(1, time.Now())), true)

	r.Apply(&LikeInserted{PostID: 1, UserID: 777})

	got, _ := s.Get(1)
	assert.Zero(t, got.LikeCount)
}

func TestRouterIgnoresEventsForAbsentPosts(t *testing.T) {
	r, s := routerFixture(t, 42)

	r.Apply(&LikeInserted{ID: "evt-1", PostID: 404, UserID: 777})
	r.Apply(&CommentInserted{ID: "evt-2", PostID: 404, CommentID: 1, UserID: 777})

	assert.Zero(t, s.Len())
}

func TestRouterGatesNewPostsOnFollowSet(t *testing.T) {
	r, s := routerFixture(t, 42)

	var pendingSignals []int
	r.OnPending(func(count int) { pendingSignals = append(pendingSignals, count) })

	// Author outside the follow snapshot: dropped.
	r.Apply(&PostInserted{ID: "evt-1", Post: &models.Post{ID: 10, UserID: 999}})
	assert.Zero(t, s.PendingNewPosts())
	assert.Empty(t, pendingSignals)

	// Followed author: pending bumps and the signal fires.
	r.Apply(&PostInserted{ID: "evt-2", Post: &models.Post{ID: 11, UserID: 100}})
	assert.Equal(t, 1, s.PendingNewPosts())
	assert.Equal(t, []int{1}, pendingSignals)

	// The viewer's own posts always pass the gate.
	r.Apply(&PostInserted{ID: "evt-3", Post: &models.Post{ID: 12, UserID: 42}})
	assert.Equal(t, 2, s.PendingNewPosts())
}

func TestRouterSkipsPostsAlreadyInFeed(t *testing.T) {
	r, s := routerFixture(t, 42)
	s.CommitPage(pageOf(feedPost(11, time.Now())), true)

	r.Apply(&PostInserted{ID: "evt-1", Post: &models.Post{ID: 11, UserID: 100}})
	assert.Zero(t, s.PendingNewPosts())
}

func TestRouterReconcilesViewerOwnLike(t *testing.T) {
	r, s := routerFixture(t, 42)
	p := feedPost(1, time.Now())
	p.LikeCount = 5
	s.CommitPage(pageOf(p), true)

	// Optimistic toggle already applied locally.
	require.True(t, s.ApplyLocalLike(1, true))

	// The confirming event must not count the like a second time.
	r.Apply(&LikeInserted{ID: "evt-1", PostID: 1, UserID: 42})

	got, _ := s.Get(1)
	assert.True(t, got.Liked)
	assert.Equal(t, 6, got.LikeCount)
}

func TestRouterAppliesOtherUsersLikes(t *testing.T) {
	r, s := routerFixture(t, 42)
	s.CommitPage(pageOf(feedPost(1, time.Now())), true)

	r.Apply(&LikeInserted{ID: "evt-1", PostID: 1, UserID: 777})
	r.Apply(&LikeInserted{ID: "evt-2", PostID: 1, UserID: 778})
	r.Apply(&LikeDeleted{ID: "evt-3", PostID: 1, UserID: 777})

	got, _ := s.Get(1)
	assert.Equal(t, 1, got.LikeCount)
	assert.False(t, got.Liked)
}

func TestRouterAppliesCommentEvents(t *testing.T) {
	r, s := routerFixture(t, 42)
	s.CommitPage(pageOf(feedPost(1, time.Now())), true)

	r.Apply(&CommentInserted{ID: "evt-1", PostID: 1, CommentID: 50, UserID: 777})
	r.Apply(&CommentInserted{ID: "evt-2", PostID: 1, CommentID: 51, UserID: 778})
	r.Apply(&CommentDeleted{ID: "evt-3", PostID: 1, CommentID: 50, UserID: 777})

	got, _ := s.Get(1)
	assert.Equal(t, 1, got.CommentCount)
}

func TestEventRingEvictsOldestAtCapacity(t *testing.T) {
	r := newEventRing(2)

	assert.False(t, r.Seen("a"))
	assert.False(t, r.Seen("b"))
	assert.True(t, r.Seen("a"))

	// "c" evicts "a", the oldest entry, so "a" reads as unseen again.
	assert.False(t, r.Seen("c"))
	assert.True(t, r.Seen("b"))
	assert.False(t, r.Seen("a"))
}
