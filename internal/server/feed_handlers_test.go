package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vantage/internal/config"
	"vantage/internal/featureflags"
	"vantage/internal/feed"
	"vantage/internal/models"
)

type fakeSource struct {
	posts []*models.Post
}

func (f *fakeSource) FetchPage(ctx context.Context, authorIDs []uint, limit, offset int) ([]*models.Post, error) {
	if offset >= len(f.posts) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.posts) {
		end = len(f.posts)
	}
	return f.posts[offset:end], nil
}

func (f *fakeSource) FetchNewerThan(ctx context.Context, authorIDs []uint, since time.Time, limit int) ([]*models.Post, error) {
	var newer []*models.Post
	for _, p := range f.posts {
		if p.CreatedAt.After(since) {
			newer = append(newer, p)
		}
	}
	return newer, nil
}

type fakeCounters struct {
	likeErr error
}

func (f *fakeCounters) LikeCount(ctx context.Context, postID uint) (int64, error)    { return 3, nil }
func (f *fakeCounters) CommentCount(ctx context.Context, postID uint) (int64, error) { return 1, nil }
func (f *fakeCounters) IsLiked(ctx context.Context, userID, postID uint) (bool, error) {
	return false, nil
}
func (f *fakeCounters) Like(ctx context.Context, userID, postID uint) error   { return f.likeErr }
func (f *fakeCounters) Unlike(ctx context.Context, userID, postID uint) error { return f.likeErr }

type fakeResolver struct{}

func (f *fakeResolver) Resolve(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://cdn.example/" + key, nil
}

type fakeFollows struct{}

func (f *fakeFollows) FollowedAuthorIDs(ctx context.Context, viewerID uint) ([]uint, error) {
	return []uint{100, viewerID}, nil
}

type fakeEvents struct{}

func (f *fakeEvents) Subscribe(ctx context.Context, viewerID uint) (<-chan feed.Event, error) {
	ch := make(chan feed.Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func testPosts(n int) []*models.Post {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	posts := make([]*models.Post, n)
	for i := 0; i < n; i++ {
		posts[i] = &models.Post{
			ID:        uint(i + 1),
			UserID:    100,
			User:      models.User{Username: fmt.Sprintf("author%d", i+1)},
			MediaKey:  fmt.Sprintf("media/%d.jpg", i+1),
			CreatedAt: base.Add(-time.Duration(i) * time.Minute),
		}
	}
	return posts
}

func setupTestApp(t *testing.T, counters *fakeCounters, posts []*models.Post) (*fiber.App, *Server) {
	t.Helper()

	cfg := &config.Config{
		FeedPageSize:       2,
		StalenessThreshold: 5 * time.Minute,
		FeatureFlags:       "live_events=on,media_rehydration=on",
	}
	srv, err := NewServerWithDeps(cfg, nil, nil, &fakeResolver{})
	require.NoError(t, err)

	srv.collabFn = func() feed.Collaborators {
		return feed.Collaborators{
			Source:   &fakeSource{posts: posts},
			Counters: counters,
			Resolver: &fakeResolver{},
			Follows:  &fakeFollows{},
			Likes:    counters,
			Events:   &fakeEvents{},
		}
	}
	t.Cleanup(srv.sessions.CloseAll)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("viewerID", uint(42))
		return c.Next()
	})
	app.Get("/api/feed", srv.GetFeed)
	app.Get("/api/feed/status", srv.GetFeedStatus)
	app.Post("/api/feed/refresh", srv.RefreshFeed)
	app.Post("/api/feed/acknowledge", srv.AcknowledgeNewPosts)
	app.Post("/api/feed/rehydrate", srv.RehydrateMedia)
	app.Delete("/api/feed/session", srv.CloseSession)
	app.Post("/api/posts/:id/like", srv.LikePost)
	app.Delete("/api/posts/:id/like", srv.UnlikePost)
	return app, srv
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestGetFeedLoadsInitialPage(t *testing.T) {
	app, _ := setupTestApp(t, &fakeCounters{}, testPosts(3))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/feed", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Posts     []feed.Post `json:"posts"`
		ConnState string      `json:"conn_state"`
	}
	decodeBody(t, resp, &body)

	require.Len(t, body.Posts, 2)
	assert.Equal(t, uint(1), body.Posts[0].ID)
	assert.Equal(t, "https://cdn.example/media/1.jpg", body.Posts[0].MediaURL)
	assert.Equal(t, 3, body.Posts[0].LikeCount)
	assert.Equal(t, "subscribed", body.ConnState)
}

func TestGetFeedNextPageAppends(t *testing.T) {
	app, _ := setupTestApp(t, &fakeCounters{}, testPosts(3))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/feed", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/feed?page=next", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Posts []feed.Post `json:"posts"`
	}
	decodeBody(t, resp, &body)
	assert.Len(t, body.Posts, 3)
}

func TestRefreshFeedResetsSession(t *testing.T) {
	app, srv := setupTestApp(t, &fakeCounters{}, testPosts(3))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/feed?page=next", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/api/feed/refresh", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Posts []feed.Post `json:"posts"`
		Stale bool        `json:"stale"`
	}
	decodeBody(t, resp, &body)
	assert.Len(t, body.Posts, 2)
	assert.False(t, body.Stale)

	sess, err := srv.sessions.Get(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 2, len(sess.Posts()))
}

func TestFeedStatus(t *testing.T) {
	app, _ := setupTestApp(t, &fakeCounters{}, testPosts(1))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/feed/status", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	decodeBody(t, resp, &body)
	assert.Equal(t, float64(0), body["pending_new"])
	assert.Equal(t, false, body["stale"])
	assert.Equal(t, "subscribed", body["conn_state"])
}

func TestLikeAndUnlikePost(t *testing.T) {
	counters := &fakeCounters{}
	app, _ := setupTestApp(t, counters, testPosts(1))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/feed", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/api/posts/1/like", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var post feed.Post
	decodeBody(t, resp, &post)
	assert.True(t, post.Liked)
	assert.Equal(t, 4, post.LikeCount)

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/api/posts/1/like", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	decodeBody(t, resp, &post)
	assert.False(t, post.Liked)
	assert.Equal(t, 3, post.LikeCount)
}

func TestLikeUnknownPostReturns404(t *testing.T) {
	app, _ := setupTestApp(t, &fakeCounters{}, testPosts(1))

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/posts/999/like", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLikeInvalidIDReturns400(t *testing.T) {
	app, _ := setupTestApp(t, &fakeCounters{}, testPosts(1))

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/posts/abc/like", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRehydrateEndpoint(t *testing.T) {
	app, _ := setupTestApp(t, &fakeCounters{}, testPosts(1))

	body, _ := json.Marshal(rehydrateRequest{PostIDs: []uint{1}})
	req := httptest.NewRequest(http.MethodPost, "/api/feed/rehydrate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		StillMissing []uint `json:"still_missing"`
	}
	decodeBody(t, resp, &out)
	assert.Empty(t, out.StillMissing)
}

func TestRehydrateGatedByFeatureFlag(t *testing.T) {
	app, srv := setupTestApp(t, &fakeCounters{}, testPosts(1))
	srv.flags = featureflags.NewManager("live_events=on,media_rehydration=off")

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/feed/rehydrate", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLiveEventsGatedByFeatureFlag(t *testing.T) {
	app, srv := setupTestApp(t, &fakeCounters{}, testPosts(1))
	srv.flags = featureflags.NewManager("live_events=off")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/feed", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		ConnState string `json:"conn_state"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "disconnected", body.ConnState)
}

func TestCloseSession(t *testing.T) {
	app, _ := setupTestApp(t, &fakeCounters{}, testPosts(1))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/feed", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/api/feed/session", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]bool
	decodeBody(t, resp, &out)
	assert.True(t, out["closed"])

	// Closing again reports nothing to close.
	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/api/feed/session", nil))
	require.NoError(t, err)
	decodeBody(t, resp, &out)
	assert.False(t, out["closed"])
}
