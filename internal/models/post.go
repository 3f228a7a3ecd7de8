package models

import (
	"time"

	"gorm.io/gorm"
)

// MediaKind distinguishes the media attached to a post.
type MediaKind string

const (
	// MediaKindPhoto marks a still image post.
	MediaKindPhoto MediaKind = "photo"
	// MediaKindVideo marks a video post.
	MediaKindVideo MediaKind = "video"
)

// MaxCaptionLen is the maximum accepted caption length in characters.
const MaxCaptionLen = 2200

// Post is a raw post row as stored. Display-ready enrichment (resolved media
// URL, counters, liked flag) lives on feed.Post, not here; identity and
// creation timestamp never change once written.
type Post struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UserID    uint           `gorm:"not null;index" json:"user_id"`
	User      User           `gorm:"foreignKey:UserID" json:"user"`
	Caption   string         `gorm:"type:varchar(2200)" json:"caption"`
	MediaKey  string         `gorm:"not null" json:"media_key"`
	MediaKind MediaKind      `gorm:"type:varchar(10);not null;default:'photo'" json:"media_kind"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
