package server

import (
	"context"
	"errors"
	"log/slog"

	"vantage/internal/feed"
	"vantage/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper. Handlers must return nil after seeing it so Fiber's
// ErrorHandler does not overwrite the response.
var errResponseWritten = errors.New("response already written")

// parseID extracts a route parameter as a positive uint. On failure it
// writes a 400 JSON response and returns errResponseWritten.
func (s *Server) parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid "+param))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

type feedResponse struct {
	Posts          interface{} `json:"posts"`
	PendingNew     int         `json:"pending_new"`
	Stale          bool        `json:"stale"`
	ConnState      string      `json:"conn_state"`
	IncompleteIDs  []uint      `json:"incomplete_ids,omitempty"`
	RequestedCount int         `json:"requested_count,omitempty"`
}

// GetFeed returns the viewer's current feed. The first call starts a
// session and loads the initial page; `page=next` appends the next page
// before responding.
func (s *Server) GetFeed(c *fiber.Ctx) error {
	viewerID := s.viewerID(c)

	sess, err := s.sessions.Get(c.UserContext(), viewerID)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	resp := feedResponse{
		PendingNew: sess.PendingNewPosts(),
		Stale:      sess.IsStale(),
		ConnState:  sess.ConnState().String(),
	}

	if c.Query("page") == "next" {
		page, err := sess.NextPage(c.UserContext())
		if err != nil {
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		}
		resp.IncompleteIDs = page.Incomplete()
		resp.RequestedCount = page.RequestedCount
	}

	resp.Posts = sess.Posts()
	return c.Status(fiber.StatusOK).JSON(resp)
}

// GetFeedStatus reports session state without touching the feed itself.
func (s *Server) GetFeedStatus(c *fiber.Ctx) error {
	viewerID := s.viewerID(c)

	sess, err := s.sessions.Get(c.UserContext(), viewerID)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"pending_new":    sess.PendingNewPosts(),
		"stale":          sess.IsStale(),
		"conn_state":     sess.ConnState().String(),
		"last_refreshed": sess.LastRefreshed(),
	})
}

// RefreshFeed discards the current feed and loads a fresh first page under a
// new follow snapshot.
func (s *Server) RefreshFeed(c *fiber.Ctx) error {
	viewerID := s.viewerID(c)

	sess, err := s.sessions.Get(c.UserContext(), viewerID)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	page, err := sess.Refresh(c.UserContext())
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	return c.Status(fiber.StatusOK).JSON(feedResponse{
		Posts:          sess.Posts(),
		PendingNew:     sess.PendingNewPosts(),
		Stale:          sess.IsStale(),
		ConnState:      sess.ConnState().String(),
		IncompleteIDs:  page.Incomplete(),
		RequestedCount: page.RequestedCount,
	})
}

// AcknowledgeNewPosts merges the posts behind the pending-new banner into
// the head of the feed.
func (s *Server) AcknowledgeNewPosts(c *fiber.Ctx) error {
	viewerID := s.viewerID(c)

	sess, err := s.sessions.Get(c.UserContext(), viewerID)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	if err := sess.AcknowledgePendingPosts(c.UserContext()); err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	return c.Status(fiber.StatusOK).JSON(feedResponse{
		Posts:      sess.Posts(),
		PendingNew: sess.PendingNewPosts(),
		Stale:      sess.IsStale(),
		ConnState:  sess.ConnState().String(),
	})
}

type rehydrateRequest struct {
	PostIDs []uint `json:"post_ids"`
}

// RehydrateMedia re-resolves media URLs for posts whose links went stale.
// An empty body targets every post currently missing media.
func (s *Server) RehydrateMedia(c *fiber.Ctx) error {
	viewerID := s.viewerID(c)

	if !s.flags.Enabled("media_rehydration", viewerID) {
		return models.RespondWithError(c, fiber.StatusForbidden,
			models.NewForbiddenError("Media rehydration is not available for this account"))
	}

	var req rehydrateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("Invalid request body"))
		}
	}

	sess, err := s.sessions.Get(c.UserContext(), viewerID)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	stillMissing, err := sess.Rehydrate(c.UserContext(), req.PostIDs)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"still_missing": stillMissing,
	})
}

// CloseSession discards the viewer's live feed session.
func (s *Server) CloseSession(c *fiber.Ctx) error {
	viewerID := s.viewerID(c)
	closed := s.sessions.Close(viewerID)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"closed": closed})
}

// LikePost records the viewer's like, optimistically in the session and
// durably in storage.
func (s *Server) LikePost(c *fiber.Ctx) error {
	return s.toggleLike(c, true)
}

// UnlikePost removes the viewer's like.
func (s *Server) UnlikePost(c *fiber.Ctx) error {
	return s.toggleLike(c, false)
}

func (s *Server) toggleLike(c *fiber.Ctx, liked bool) error {
	viewerID := s.viewerID(c)

	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	sess, err := s.sessions.Get(c.UserContext(), viewerID)
	if err != nil {
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	if err := sess.ToggleLike(c.UserContext(), postID, liked); err != nil {
		if errors.Is(err, feed.ErrNotInFeed) {
			return models.RespondWithError(c, fiber.StatusNotFound,
				models.NewNotFoundError("post", postID))
		}
		return models.RespondWithError(c, fiber.StatusInternalServerError,
			models.NewInternalError(err))
	}

	s.publishLikeEvent(c.UserContext(), viewerID, postID, liked)

	post, _ := sess.Post(postID)
	return c.Status(fiber.StatusOK).JSON(post)
}

// publishLikeEvent emits the authoritative like event back onto the viewer's
// own channel. Its round trip through the router confirms the optimistic
// update; other viewers are fanned out to by the upstream write path.
func (s *Server) publishLikeEvent(ctx context.Context, viewerID, postID uint, liked bool) {
	if s.publisher == nil {
		return
	}

	var ev feed.Event
	if liked {
		ev = &feed.LikeInserted{ID: uuid.NewString(), PostID: postID, UserID: viewerID}
	} else {
		ev = &feed.LikeDeleted{ID: uuid.NewString(), PostID: postID, UserID: viewerID}
	}
	if err := s.publisher.Publish(ctx, viewerID, ev); err != nil {
		s.logger.Debug("like event publish failed",
			slog.Uint64("viewer_id", uint64(viewerID)),
			slog.Uint64("post_id", uint64(postID)),
			slog.String("error", err.Error()),
		)
	}
}
