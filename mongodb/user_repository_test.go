package mongodb

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.pilab.hu/usersync/domain"
	"go.pilab.hu/usersync/mongodb/testutil"
)

func newTestUser(email string) *domain.User {
	return &domain.User{
		Email:      email,
		Name:       "Ann Lee",
		Picture:    "p.png",
		ExternalID: "u1",
		UID:        "u1",
	}
}

func TestUserRepository_InsertFindGet(t *testing.T) {
	db, cleanup := testutil.SetupTestMongoDB(t, "test_usersync_users")
	defer cleanup()
	ctx := context.Background()

	repo, err := NewUserRepository(ctx, db)
	require.NoError(t, err)

	found, err := repo.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Nil(t, found)

	id, err := repo.Insert(ctx, newTestUser("a@x.com"))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	found, err = repo.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, id, found.ID)
	assert.Equal(t, "Ann Lee", found.Name)
	assert.Equal(t, "u1", found.ExternalID)
	assert.False(t, found.CreatedAt.IsZero())

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, found.Email, got.Email)
}

func TestUserRepository_Patch(t *testing.T) {
	db, cleanup := testutil.SetupTestMongoDB(t, "test_usersync_users")
	defer cleanup()
	ctx := context.Background()

	repo, err := NewUserRepository(ctx, db)
	require.NoError(t, err)

	id, err := repo.Insert(ctx, newTestUser("a@x.com"))
	require.NoError(t, err)

	name := "Ann Lane"
	picture := "q.png"
	require.NoError(t, repo.Patch(ctx, id, domain.UserPatch{Name: &name, Picture: &picture}))

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ann Lane", got.Name)
	assert.Equal(t, "q.png", got.Picture)
	assert.Equal(t, "a@x.com", got.Email)
	assert.Equal(t, "u1", got.UID)

	err = repo.Patch(ctx, NewObjectID(), domain.UserPatch{Name: &name})
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = repo.Get(ctx, NewObjectID())
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestUserRepository_UniqueEmail(t *testing.T) {
	db, cleanup := testutil.SetupTestMongoDB(t, "test_usersync_users")
	defer cleanup()
	ctx := context.Background()

	repo, err := NewUserRepository(ctx, db, WithUniqueEmail(true))
	require.NoError(t, err)

	_, err = repo.Insert(ctx, newTestUser("a@x.com"))
	require.NoError(t, err)

	_, err = repo.Insert(ctx, newTestUser("a@x.com"))
	assert.ErrorIs(t, err, domain.ErrDuplicateEmail)
}

func TestUserRepository_UniqueEmailFallsBackOnDuplicates(t *testing.T) {
	db, cleanup := testutil.SetupTestMongoDB(t, "test_usersync_users")
	defer cleanup()
	ctx := context.Background()

	// Data written before uniqueness was configured.
	legacy, err := NewUserRepository(ctx, db)
	require.NoError(t, err)
	_, err = legacy.Insert(ctx, newTestUser("a@x.com"))
	require.NoError(t, err)
	_, err = legacy.Insert(ctx, newTestUser("a@x.com"))
	require.NoError(t, err)

	repo, err := NewUserRepository(ctx, db, WithUniqueEmail(true))
	require.NoError(t, err)

	found, err := repo.FindByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.NotNil(t, found)
}

func TestIsIndexConflict(t *testing.T) {
	assert.True(t, isIndexConflict(mongo.CommandError{Code: 85, Name: "IndexOptionsConflict"}))
	assert.True(t, isIndexConflict(mongo.CommandError{Code: 86, Name: "IndexKeySpecsConflict"}))
	assert.True(t, isIndexConflict(mongo.CommandError{Code: 11000, Message: "E11000 duplicate key error"}))
	assert.False(t, isIndexConflict(mongo.CommandError{Code: 13, Name: "Unauthorized"}))
	assert.False(t, isIndexConflict(errors.New("connection refused")))
}

func TestUserRepository_InsertRejectsInvalid(t *testing.T) {
	db, cleanup := testutil.SetupTestMongoDB(t, "test_usersync_users")
	defer cleanup()
	ctx := context.Background()

	repo, err := NewUserRepository(ctx, db)
	require.NoError(t, err)

	_, err = repo.Insert(ctx, &domain.User{Email: "a@x.com"})
	assert.ErrorIs(t, err, domain.ErrInvalidUser)
}
