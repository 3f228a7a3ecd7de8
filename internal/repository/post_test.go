package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestPostRepository_FetchPage(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostRepository(db)
	ctx := context.Background()

	now := time.Now()

	// main query, newest first
	mock.ExpectQuery(`SELECT \* FROM "posts" WHERE user_id IN`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "caption", "media_key", "created_at"}).
			AddRow(3, 10, "latest", "media/3.jpg", now).
			AddRow(2, 11, "older", "media/2.jpg", now.Add(-time.Hour)))

	// author preload
	mock.ExpectQuery(`SELECT \* FROM "users" WHERE "users"\."id" IN`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username"}).
			AddRow(10, "alice").
			AddRow(11, "bob"))

	posts, err := repo.FetchPage(ctx, []uint{10, 11}, 20, 0)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, uint(3), posts[0].ID)
	assert.Equal(t, "alice", posts[0].User.Username)
	assert.Equal(t, uint(2), posts[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepository_FetchPage_EmptyAuthorSet(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostRepository(db)

	posts, err := repo.FetchPage(context.Background(), nil, 20, 0)
	require.NoError(t, err)
	assert.Empty(t, posts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepository_FetchNewerThan(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostRepository(db)

	since := time.Now().Add(-10 * time.Minute)

	mock.ExpectQuery(`SELECT \* FROM "posts" WHERE user_id IN`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "media_key"}).
			AddRow(42, 10, "media/42.jpg"))
	mock.ExpectQuery(`SELECT \* FROM "users" WHERE "users"\."id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username"}).AddRow(10, "alice"))

	posts, err := repo.FetchNewerThan(context.Background(), []uint{10}, since, 20)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, uint(42), posts[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepository_FetchPage_Error(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPostRepository(db)

	mock.ExpectQuery(`SELECT \* FROM "posts"`).
		WillReturnError(assert.AnError)

	_, err := repo.FetchPage(context.Background(), []uint{1}, 20, 0)
	assert.Error(t, err)
}
