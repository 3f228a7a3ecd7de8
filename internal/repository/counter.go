package repository

import (
	"context"

	"vantage/internal/cache"
	"vantage/internal/models"

	"gorm.io/gorm"
)

// CounterRepository reads social counters for a single post. Each method is
// independently callable and independently fallible; the enrichment pipeline
// calls them concurrently and substitutes defaults on failure.
type CounterRepository interface {
	LikeCount(ctx context.Context, postID uint) (int64, error)
	CommentCount(ctx context.Context, postID uint) (int64, error)
	IsLiked(ctx context.Context, userID, postID uint) (bool, error)
	Like(ctx context.Context, userID, postID uint) error
	Unlike(ctx context.Context, userID, postID uint) error
}

// counterRepository implements CounterRepository
type counterRepository struct {
	db *gorm.DB
}

// NewCounterRepository creates a new counter repository
func NewCounterRepository(db *gorm.DB) CounterRepository {
	return &counterRepository{db: db}
}

func (r *counterRepository) LikeCount(ctx context.Context, postID uint) (int64, error) {
	var count int64
	err := cache.Aside(ctx, cache.LikeCountKey(postID), &count, cache.LikeCountTTL, func() error {
		return r.db.WithContext(ctx).
			Model(&models.Like{}).
			Where("post_id = ?", postID).
			Count(&count).Error
	})
	return count, err
}

func (r *counterRepository) CommentCount(ctx context.Context, postID uint) (int64, error) {
	var count int64
	err := cache.Aside(ctx, cache.CommentCountKey(postID), &count, cache.CommentCountTTL, func() error {
		return r.db.WithContext(ctx).
			Model(&models.Comment{}).
			Where("post_id = ?", postID).
			Count(&count).Error
	})
	return count, err
}

// IsLiked is viewer-specific and never cached.
func (r *counterRepository) IsLiked(ctx context.Context, userID, postID uint) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Like{}).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *counterRepository) Like(ctx context.Context, userID, postID uint) error {
	// INSERT ... ON CONFLICT DO NOTHING keeps repeated toggles idempotent.
	result := r.db.WithContext(ctx).Exec(
		`INSERT INTO likes (user_id, post_id, created_at)
		 VALUES (?, ?, NOW())
		 ON CONFLICT (user_id, post_id) DO NOTHING`,
		userID, postID,
	)
	if result.Error == nil {
		cache.Invalidate(ctx, cache.LikeCountKey(postID))
	}
	return result.Error
}

func (r *counterRepository) Unlike(ctx context.Context, userID, postID uint) error {
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Delete(&models.Like{}).Error
	if err == nil {
		cache.Invalidate(ctx, cache.LikeCountKey(postID))
	}
	return err
}
