package repository

import (
	"context"

	"vantage/internal/models"

	"gorm.io/gorm"
)

// FollowRepository reads the follow graph. The returned set is a point-in-time
// snapshot; feed sessions refresh it on full reloads, not continuously.
type FollowRepository interface {
	FollowedAuthorIDs(ctx context.Context, viewerID uint) ([]uint, error)
}

// followRepository implements FollowRepository
type followRepository struct {
	db *gorm.DB
}

// NewFollowRepository creates a new follow repository
func NewFollowRepository(db *gorm.DB) FollowRepository {
	return &followRepository{db: db}
}

// FollowedAuthorIDs returns the IDs of everyone the viewer follows, plus the
// viewer, so their own posts always appear in their feed.
func (r *followRepository) FollowedAuthorIDs(ctx context.Context, viewerID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.Follow{}).
		Where("follower_id = ?", viewerID).
		Pluck("followee_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return append(ids, viewerID), nil
}
