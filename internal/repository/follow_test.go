package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFollowRepository_FollowedAuthorIDs(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewFollowRepository(db)

	mock.ExpectQuery(`SELECT "followee_id" FROM "follows" WHERE follower_id`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"followee_id"}).AddRow(10).AddRow(11))

	ids, err := repo.FollowedAuthorIDs(context.Background(), 5)
	require.NoError(t, err)

	// The viewer is always part of their own author set.
	assert.ElementsMatch(t, []uint{10, 11, 5}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFollowRepository_FollowedAuthorIDs_NoFollows(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewFollowRepository(db)

	mock.ExpectQuery(`SELECT "followee_id" FROM "follows"`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"followee_id"}))

	ids, err := repo.FollowedAuthorIDs(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []uint{5}, ids)
}
