// Package feed assembles a viewer's feed and keeps it consistent as live
// events arrive. It owns the enrichment pipeline, the in-memory feed state,
// and the live-event router; everything it talks to comes in through the
// interfaces below so the pipeline and router are testable with fakes.
package feed

import (
	"context"
	"time"

	"vantage/internal/models"
)

// PostSource retrieves raw post rows for a set of authors, newest first.
type PostSource interface {
	FetchPage(ctx context.Context, authorIDs []uint, limit, offset int) ([]*models.Post, error)
	FetchNewerThan(ctx context.Context, authorIDs []uint, since time.Time, limit int) ([]*models.Post, error)
}

// CounterReader returns social counters for a single post. Each method is
// independently fallible; failures degrade a single field, never a post.
type CounterReader interface {
	LikeCount(ctx context.Context, postID uint) (int64, error)
	CommentCount(ctx context.Context, postID uint) (int64, error)
	IsLiked(ctx context.Context, userID, postID uint) (bool, error)
}

// MediaResolver turns an opaque storage key into a time-limited fetchable URL.
type MediaResolver interface {
	Resolve(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// FollowGraph supplies the snapshot of author IDs eligible for a viewer's
// feed. The snapshot includes the viewer, so their own posts always qualify.
type FollowGraph interface {
	FollowedAuthorIDs(ctx context.Context, viewerID uint) ([]uint, error)
}

// LikeWriter persists the viewer's like toggles.
type LikeWriter interface {
	Like(ctx context.Context, userID, postID uint) error
	Unlike(ctx context.Context, userID, postID uint) error
}

// EventSource subscribes to the live change-notification stream for a viewer.
// Delivery is at-least-once; ordering is only guaranteed per post.
type EventSource interface {
	Subscribe(ctx context.Context, viewerID uint) (<-chan Event, error)
}
