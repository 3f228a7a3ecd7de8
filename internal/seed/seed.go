// Package seed populates the database with demo users, follows, posts,
// likes, and comments for development and testing.
package seed

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"vantage/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Options configures the seeder.
type Options struct {
	NumUsers       int
	PostsPerUser   int
	FollowsPerUser int
	ShouldClean    bool
}

func (o Options) withDefaults() Options {
	if o.NumUsers <= 0 {
		o.NumUsers = 25
	}
	if o.PostsPerUser <= 0 {
		o.PostsPerUser = 8
	}
	if o.FollowsPerUser <= 0 {
		o.FollowsPerUser = 6
	}
	return o
}

// Seed fills the database with a connected social mesh: users following each
// other, posts spread over the past weeks, and likes and comments on them.
func Seed(db *gorm.DB, opts Options) error {
	opts = opts.withDefaults()
	gofakeit.Seed(time.Now().UnixNano())
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	log.Printf("seeding %d users with %d posts each...", opts.NumUsers, opts.PostsPerUser)

	if opts.ShouldClean {
		if err := clearData(db); err != nil {
			return fmt.Errorf("clear data: %w", err)
		}
	}

	users, err := seedUsers(db, opts.NumUsers)
	if err != nil {
		return fmt.Errorf("seed users: %w", err)
	}

	if err := seedFollows(db, r, users, opts.FollowsPerUser); err != nil {
		return fmt.Errorf("seed follows: %w", err)
	}

	posts, err := seedPosts(db, r, users, opts.PostsPerUser)
	if err != nil {
		return fmt.Errorf("seed posts: %w", err)
	}

	if err := seedEngagement(db, r, users, posts); err != nil {
		return fmt.Errorf("seed engagement: %w", err)
	}

	log.Printf("seeded %d users, %d posts", len(users), len(posts))
	return nil
}

func clearData(db *gorm.DB) error {
	for _, table := range []string{"comments", "likes", "follows", "posts", "users"} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			return err
		}
	}
	return nil
}

func seedUsers(db *gorm.DB, n int) ([]models.User, error) {
	users := make([]models.User, 0, n)
	for i := 0; i < n; i++ {
		user := models.User{
			Username: fmt.Sprintf("%s%d", gofakeit.Username(), i),
			Email:    fmt.Sprintf("user%d@%s", i, gofakeit.DomainName()),
			Bio:      gofakeit.Sentence(8),
			Avatar:   fmt.Sprintf("https://i.pravatar.cc/150?u=%s", gofakeit.UUID()),
		}
		if err := db.Create(&user).Error; err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

func seedFollows(db *gorm.DB, r *rand.Rand, users []models.User, perUser int) error {
	for _, follower := range users {
		seen := map[uint]struct{}{follower.ID: {}}
		for i := 0; i < perUser; i++ {
			followee := users[r.Intn(len(users))]
			if _, ok := seen[followee.ID]; ok {
				continue
			}
			seen[followee.ID] = struct{}{}
			follow := models.Follow{
				FollowerID: follower.ID,
				FolloweeID: followee.ID,
			}
			if err := db.Create(&follow).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

func seedPosts(db *gorm.DB, r *rand.Rand, users []models.User, perUser int) ([]models.Post, error) {
	kinds := []models.MediaKind{models.MediaKindPhoto, models.MediaKindPhoto, models.MediaKindVideo}
	posts := make([]models.Post, 0, len(users)*perUser)

	for _, user := range users {
		for i := 0; i < perUser; i++ {
			kind := kinds[r.Intn(len(kinds))]
			ext := "jpg"
			if kind == models.MediaKindVideo {
				ext = "mp4"
			}
			post := models.Post{
				UserID:    user.ID,
				Caption:   gofakeit.Sentence(r.Intn(20) + 3),
				MediaKey:  fmt.Sprintf("media/%d/%s.%s", user.ID, uuid.NewString(), ext),
				MediaKind: kind,
				CreatedAt: spreadBack(r, 21),
			}
			if err := db.Create(&post).Error; err != nil {
				return nil, err
			}
			posts = append(posts, post)
		}
	}
	return posts, nil
}

func seedEngagement(db *gorm.DB, r *rand.Rand, users []models.User, posts []models.Post) error {
	for _, post := range posts {
		for _, user := range users {
			if user.ID == post.UserID {
				continue
			}
			if r.Intn(100) < 20 {
				like := models.Like{UserID: user.ID, PostID: post.ID}
				if err := db.Create(&like).Error; err != nil {
					return err
				}
			}
			if r.Intn(100) < 8 {
				comment := models.Comment{
					UserID:  user.ID,
					PostID:  post.ID,
					Content: gofakeit.Sentence(r.Intn(12) + 2),
				}
				if err := db.Create(&comment).Error; err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// spreadBack returns a timestamp up to maxDays in the past so feeds have a
// realistic chronology.
func spreadBack(r *rand.Rand, maxDays int) time.Time {
	daysBack := r.Intn(maxDays)
	hoursBack := r.Intn(24)
	minsBack := r.Intn(60)
	return time.Now().Add(-time.Duration(daysBack)*24*time.Hour -
		time.Duration(hoursBack)*time.Hour -
		time.Duration(minsBack)*time.Minute)
}
