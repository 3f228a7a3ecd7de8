package feed

import (
	"time"

	"vantage/internal/models"
)

// AuthorProfile is the denormalized author info joined at fetch time.
type AuthorProfile struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Post is a display-ready feed entry. Identity and CreatedAt never change
// once the post enters feed state; only MediaURL, the counters, and Liked
// mutate afterwards. An empty MediaURL is a valid state (media not yet
// resolved), not an error.
type Post struct {
	ID           uint             `json:"id"`
	Author       AuthorProfile    `json:"author"`
	Caption      string           `json:"caption"`
	MediaKey     string           `json:"media_key"`
	MediaKind    models.MediaKind `json:"media_kind"`
	CreatedAt    time.Time        `json:"created_at"`
	MediaURL     string           `json:"media_url,omitempty"`
	LikeCount    int              `json:"like_count"`
	CommentCount int              `json:"comment_count"`
	Liked        bool             `json:"liked"`
}

// newPost builds an unenriched feed entry from a raw post row.
func newPost(raw *models.Post) *Post {
	return &Post{
		ID: raw.ID,
		Author: AuthorProfile{
			ID:       raw.UserID,
			Username: raw.User.Username,
			Avatar:   raw.User.Avatar,
		},
		Caption:   raw.Caption,
		MediaKey:  raw.MediaKey,
		MediaKind: raw.MediaKind,
		CreatedAt: raw.CreatedAt,
	}
}

func (p *Post) clone() *Post {
	cp := *p
	return &cp
}

// Page is one enriched page of the feed, in the same order the raw rows came
// in. IncompleteIDs lists posts that came out of enrichment without a
// resolvable media URL; the caller decides whether to retry, show a
// placeholder, or drop them.
type Page struct {
	Posts          []*Post           `json:"posts"`
	RequestedCount int               `json:"requested_count"`
	IncompleteIDs  map[uint]struct{} `json:"-"`
}

// Incomplete returns the IDs of posts still lacking resolved media, in page order.
func (pg *Page) Incomplete() []uint {
	ids := make([]uint, 0, len(pg.IncompleteIDs))
	for _, p := range pg.Posts {
		if _, ok := pg.IncompleteIDs[p.ID]; ok {
			ids = append(ids, p.ID)
		}
	}
	return ids
}
