package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vantage/internal/models"
)

type stubSource struct {
	fetchPageFn      func(ctx context.Context, authorIDs []uint, limit, offset int) ([]*models.Post, error)
	fetchNewerThanFn func(ctx context.Context, authorIDs []uint, since time.Time, limit int) ([]*models.Post, error)
}

func (s *stubSource) FetchPage(ctx context.Context, authorIDs []uint, limit, offset int) ([]*models.Post, error) {
	return s.fetchPageFn(ctx, authorIDs, limit, offset)
}

func (s *stubSource) FetchNewerThan(ctx context.Context, authorIDs []uint, since time.Time, limit int) ([]*models.Post, error) {
	return s.fetchNewerThanFn(ctx, authorIDs, since, limit)
}

type stubFollows struct {
	followedFn func(ctx context.Context, viewerID uint) ([]uint, error)
}

func (s *stubFollows) FollowedAuthorIDs(ctx context.Context, viewerID uint) ([]uint, error) {
	return s.followedFn(ctx, viewerID)
}

type stubLikes struct {
	likeFn   func(ctx context.Context, userID, postID uint) error
	unlikeFn func(ctx context.Context, userID, postID uint) error
}

func (s *stubLikes) Like(ctx context.Context, userID, postID uint) error {
	return s.likeFn(ctx, userID, postID)
}

func (s *stubLikes) Unlike(ctx context.Context, userID, postID uint) error {
	return s.unlikeFn(ctx, userID, postID)
}

type stubEvents struct {
	subscribeFn func(ctx context.Context, viewerID uint) (<-chan Event, error)
}

func (s *stubEvents) Subscribe(ctx context.Context, viewerID uint) (<-chan Event, error) {
	return s.subscribeFn(ctx, viewerID)
}

func okResolver() *stubResolver {
	return &stubResolver{
		resolveFn: func(ctx context.Context, key string, ttl time.Duration) (string, error) {
			return "https://cdn.example/" + key, nil
		},
	}
}

func sessionFixture(t *testing.T, posts []*models.Post) (*Session, chan Event) {
	t.Helper()
	events := make(chan Event, 16)

	collab := Collaborators{
		Source: &stubSource{
			fetchPageFn: func(ctx context.Context, authorIDs []uint, limit, offset int) ([]*models.Post, error) {
				if offset >= len(posts) {
					return nil, nil
				}
				end := offset + limit
				if end > len(posts) {
					end = len(posts)
				}
				return posts[offset:end], nil
			},
			fetchNewerThanFn: func(ctx context.Context, authorIDs []uint, since time.Time, limit int) ([]*models.Post, error) {
				var newer []*models.Post
				for _, p := range posts {
					if p.CreatedAt.After(since) {
						newer = append(newer, p)
					}
				}
				return newer, nil
			},
		},
		Counters: &stubCounters{},
		Resolver: okResolver(),
		Follows: &stubFollows{
			followedFn: func(ctx context.Context, viewerID uint) ([]uint, error) {
				return []uint{100, 101}, nil
			},
		},
		Likes: &stubLikes{
			likeFn:   func(ctx context.Context, userID, postID uint) error { return nil },
			unlikeFn: func(ctx context.Context, userID, postID uint) error { return nil },
		},
		Events: &stubEvents{
			subscribeFn: func(ctx context.Context, viewerID uint) (<-chan Event, error) {
				return events, nil
			},
		},
	}

	s := NewSession(42, collab, SessionConfig{PageSize: 2}, nil)
	t.Cleanup(s.Close)
	return s, events
}

func TestSessionStartLoadsInitialPageAndSubscribes(t *testing.T) {
	s, _ := sessionFixture(t, rawPosts(3))

	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, Subscribed, s.ConnState())
	posts := s.Posts()
	require.Len(t, posts, 2)
	assert.Equal(t, uint(1), posts[0].ID)
	assert.Equal(t, uint(2), posts[1].ID)
	assert.NotEmpty(t, posts[0].MediaURL)
}

func TestSessionNextPageAppends(t *testing.T) {
	s, _ := sessionFixture(t, rawPosts(3))
	require.NoError(t, s.Start(context.Background()))

	page, err := s.NextPage(context.Background())
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, uint(3), page.Posts[0].ID)
	assert.Equal(t, 3, len(s.Posts()))

	// Past the end: empty page, feed unchanged.
	page, err = s.NextPage(context.Background())
	require.NoError(t, err)
	assert.Empty(t, page.Posts)
	assert.Equal(t, 3, len(s.Posts()))
}

func TestSessionStartFailsWhenFetchFails(t *testing.T) {
	s, _ := sessionFixture(t, nil)
	s.collab.Source = &stubSource{
		fetchPageFn: func(ctx context.Context, authorIDs []uint, limit, offset int) ([]*models.Post, error) {
			return nil, errors.New("db down")
		},
	}

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Empty(t, s.Posts())
}

func TestSessionRefreshReplacesFeed(t *testing.T) {
	posts := rawPosts(3)
	s, _ := sessionFixture(t, posts)
	require.NoError(t, s.Start(context.Background()))
	_, err := s.NextPage(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, len(s.Posts()))

	s.state.IncrementPending()

	page, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, page.Posts, 2)
	assert.Equal(t, 2, len(s.Posts()))
	assert.Zero(t, s.PendingNewPosts())

	// Pagination restarts after the refreshed page.
	page, err = s.NextPage(context.Background())
	require.NoError(t, err)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, uint(3), page.Posts[0].ID)
}

func TestSessionAcknowledgePendingPosts(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	posts := rawPosts(2)
	s, _ := sessionFixture(t, posts)
	require.NoError(t, s.Start(context.Background()))

	// Nothing pending: no-op.
	require.NoError(t, s.AcknowledgePendingPosts(context.Background()))
	assert.Equal(t, 2, len(s.Posts()))

	fresh := &models.Post{
		ID:        77,
		UserID:    100,
		MediaKey:  "media/key-77.jpg",
		CreatedAt: base.Add(time.Hour),
	}
	s.collab.Source = &stubSource{
		fetchNewerThanFn: func(ctx context.Context, authorIDs []uint, since time.Time, limit int) ([]*models.Post, error) {
			assert.Equal(t, posts[0].CreatedAt, since)
			return []*models.Post{fresh}, nil
		},
	}
	s.state.IncrementPending()

	require.NoError(t, s.AcknowledgePendingPosts(context.Background()))

	got := s.Posts()
	require.Len(t, got, 3)
	assert.Equal(t, uint(77), got[0].ID)
	assert.NotEmpty(t, got[0].MediaURL)
	assert.Zero(t, s.PendingNewPosts())
}

func TestSessionRehydrateFillsMissingMedia(t *testing.T) {
	posts := rawPosts(2)
	s, _ := sessionFixture(t, posts)

	// First resolve fails for post 2, leaving its media missing.
	s.collab.Resolver = &stubResolver{
		resolveFn: func(ctx context.Context, key string, ttl time.Duration) (string, error) {
			if key == "media/key-2.jpg" {
				return "", errors.New("transient")
			}
			return "https://cdn.example/" + key, nil
		},
	}
	s.enricher = NewEnricher(s.collab.Resolver, s.collab.Counters, EnricherConfig{}, nil)
	require.NoError(t, s.Start(context.Background()))

	got, ok := s.state.Get(2)
	require.True(t, ok)
	require.Empty(t, got.MediaURL)

	// Storage recovered; rehydration should fill the gap.
	s.enricher = NewEnricher(okResolver(), s.collab.Counters, EnricherConfig{}, nil)

	stillMissing, err := s.Rehydrate(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, stillMissing)

	got, _ = s.state.Get(2)
	assert.Equal(t, "https://cdn.example/media/key-2.jpg", got.MediaURL)
}

func TestSessionToggleLikeRollsBackOnFailure(t *testing.T) {
	posts := rawPosts(1)
	s, _ := sessionFixture(t, posts)
	require.NoError(t, s.Start(context.Background()))

	s.collab.Likes = &stubLikes{
		likeFn: func(ctx context.Context, userID, postID uint) error {
			return errors.New("db down")
		},
	}

	err := s.ToggleLike(context.Background(), 1, true)
	require.Error(t, err)

	got, _ := s.state.Get(1)
	assert.False(t, got.Liked)
	assert.Zero(t, got.LikeCount)
}

func TestSessionToggleLikePersists(t *testing.T) {
	posts := rawPosts(1)
	s, _ := sessionFixture(t, posts)
	require.NoError(t, s.Start(context.Background()))

	var gotUser, gotPost uint
	s.collab.Likes = &stubLikes{
		likeFn: func(ctx context.Context, userID, postID uint) error {
			gotUser, gotPost = userID, postID
			return nil
		},
	}

	require.NoError(t, s.ToggleLike(context.Background(), 1, true))
	assert.Equal(t, uint(42), gotUser)
	assert.Equal(t, uint(1), gotPost)

	got, _ := s.state.Get(1)
	assert.True(t, got.Liked)
	assert.Equal(t, 1, got.LikeCount)
}

func TestSessionRoutesLiveEvents(t *testing.T) {
	posts := rawPosts(1)
	s, events := sessionFixture(t, posts)
	require.NoError(t, s.Start(context.Background()))

	events <- &LikeInserted{ID: "evt-1", PostID: 1, UserID: 777}

	require.Eventually(t, func() bool {
		got, ok := s.state.Get(1)
		return ok && got.LikeCount == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSessionCloseStopsRouter(t *testing.T) {
	s, _ := sessionFixture(t, rawPosts(1))
	require.NoError(t, s.Start(context.Background()))

	s.Close()

	assert.Eventually(t, func() bool {
		return s.ConnState() == Disconnected
	}, time.Second, 5*time.Millisecond)
}
