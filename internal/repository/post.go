// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"time"

	"vantage/internal/models"

	"gorm.io/gorm"
)

// PostRepository defines the interface for reading raw post rows.
// Rows come back newest first with the author profile joined; enrichment
// (media URL, counters, liked flag) happens downstream in the feed pipeline.
type PostRepository interface {
	FetchPage(ctx context.Context, authorIDs []uint, limit, offset int) ([]*models.Post, error)
	FetchNewerThan(ctx context.Context, authorIDs []uint, since time.Time, limit int) ([]*models.Post, error)
	GetByID(ctx context.Context, id uint) (*models.Post, error)
}

// postRepository implements PostRepository
type postRepository struct {
	db *gorm.DB
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) FetchPage(ctx context.Context, authorIDs []uint, limit, offset int) ([]*models.Post, error) {
	if len(authorIDs) == 0 {
		return nil, nil
	}
	var posts []*models.Post
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("user_id IN ?", authorIDs).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&posts).Error
	if err != nil {
		return nil, err
	}
	return posts, nil
}

func (r *postRepository) FetchNewerThan(ctx context.Context, authorIDs []uint, since time.Time, limit int) ([]*models.Post, error) {
	if len(authorIDs) == 0 {
		return nil, nil
	}
	var posts []*models.Post
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("user_id IN ?", authorIDs).
		Where("created_at > ?", since).
		Order("created_at DESC").
		Limit(limit).
		Find(&posts).Error
	if err != nil {
		return nil, err
	}
	return posts, nil
}

func (r *postRepository) GetByID(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	err := r.db.WithContext(ctx).
		Preload("User").
		First(&post, id).Error
	if err != nil {
		return nil, err
	}
	return &post, nil
}
