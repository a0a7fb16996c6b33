//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/v2/bson"

	"livestock-track/internal/database"
	"livestock-track/internal/model"
)

func setupMongo(t *testing.T) *database.MongoDB {
	t.Helper()
	ctx := context.Background()

	container, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	mdb, err := database.NewMongo(ctx, uri, "livestock_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = mdb.Close(context.Background()) })

	require.NoError(t, mdb.EnsureIndexes(ctx))
	// Applying twice is a no-op.
	require.NoError(t, mdb.EnsureIndexes(ctx))

	return mdb
}

func TestUserRepository_Mongo(t *testing.T) {
	mdb := setupMongo(t)
	ctx := context.Background()
	repo := NewMongoUserRepository(mdb.Database)

	expires := time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)
	u := newTestUser("2b7c3e10-8a41-4f4e-9b0d-5c6e7f8a9b0c", "herder@example.com")
	u.PasswordResetTokenHash = "reset-hash"
	u.PasswordResetExpires = &expires
	u.FarmLocation = &model.FarmLocation{
		Province:     "Free State",
		Municipality: "Mangaung",
		Coordinates:  &model.Coordinates{Lat: -29.12, Lon: 26.21},
	}
	require.NoError(t, repo.Create(ctx, u))

	t.Run("duplicate email maps to sentinel", func(t *testing.T) {
		dup := newTestUser("3b7c3e10-8a41-4f4e-9b0d-5c6e7f8a9b0c", "herder@example.com")
		assert.ErrorIs(t, repo.Create(ctx, dup), model.ErrUserAlreadyExists)
	})

	t.Run("round trip", func(t *testing.T) {
		found, err := repo.FindByEmail(ctx, " Herder@Example.com ")
		require.NoError(t, err)
		assert.Equal(t, u.ID, found.ID)
		require.NotNil(t, found.FarmLocation)
		assert.Equal(t, "Mangaung", found.FarmLocation.Municipality)
		require.NotNil(t, found.FarmLocation.Coordinates)
		assert.InDelta(t, 26.21, found.FarmLocation.Coordinates.Lon, 0.0001)
		require.NotNil(t, found.PasswordResetExpires)
		assert.True(t, expires.Equal(*found.PasswordResetExpires))
		assert.NotNil(t, found.RefreshTokens)
		assert.Empty(t, found.RefreshTokens)
	})

	t.Run("lookup by token hash", func(t *testing.T) {
		found, err := repo.FindByResetTokenHash(ctx, "reset-hash")
		require.NoError(t, err)
		assert.Equal(t, u.ID, found.ID)

		_, err = repo.FindByVerificationTokenHash(ctx, "missing")
		assert.ErrorIs(t, err, model.ErrUserNotFound)

		_, err = repo.FindByID(ctx, "missing")
		assert.ErrorIs(t, err, model.ErrUserNotFound)
	})

	t.Run("compare and swap", func(t *testing.T) {
		a, err := repo.FindByID(ctx, u.ID)
		require.NoError(t, err)
		b := a.Clone()

		a.RefreshTokens = append(a.RefreshTokens, "token-a")
		a.PasswordResetTokenHash = ""
		a.PasswordResetExpires = nil
		saved, err := repo.Update(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, a.Version+1, saved.Version)

		reloaded, err := repo.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"token-a"}, reloaded.RefreshTokens)
		assert.Empty(t, reloaded.PasswordResetTokenHash)
		assert.Nil(t, reloaded.PasswordResetExpires)
		assert.Equal(t, saved.Version, reloaded.Version)

		b.RefreshTokens = append(b.RefreshTokens, "token-b")
		_, err = repo.Update(ctx, b)
		assert.ErrorIs(t, err, model.ErrVersionConflict)

		ghost := newTestUser("4b7c3e10-8a41-4f4e-9b0d-5c6e7f8a9b0c", "ghost@example.com")
		_, err = repo.Update(ctx, ghost)
		assert.ErrorIs(t, err, model.ErrUserNotFound)
	})

	t.Run("update to a taken email maps to sentinel", func(t *testing.T) {
		other := newTestUser("5b7c3e10-8a41-4f4e-9b0d-5c6e7f8a9b0c", "other@example.com")
		require.NoError(t, repo.Create(ctx, other))

		other.Email = "herder@example.com"
		_, err := repo.Update(ctx, other)
		assert.ErrorIs(t, err, model.ErrUserAlreadyExists)
	})
}

func TestRevocationRepository_Mongo(t *testing.T) {
	mdb := setupMongo(t)
	ctx := context.Background()
	repo := NewMongoRevocationRepository(mdb.Database)
	collection := mdb.Database.Collection(database.TokenBlacklistCollection)

	t.Run("ttl index", func(t *testing.T) {
		specs, err := collection.Indexes().ListSpecifications(ctx)
		require.NoError(t, err)

		var ttl *int32
		for _, spec := range specs {
			if spec.Name == "expires_at_ttl" {
				ttl = spec.ExpireAfterSeconds
			}
		}
		require.NotNil(t, ttl, "expires_at_ttl index missing")
		assert.Equal(t, int32(0), *ttl)
	})

	t.Run("blacklist is idempotent", func(t *testing.T) {
		entry := model.RevocationEntry{
			TokenHash: "live",
			Type:      model.TokenTypeAccess,
			UserID:    "u1",
			ExpiresAt: time.Now().UTC().Add(15 * time.Minute),
		}
		require.NoError(t, repo.Blacklist(ctx, entry))

		later := entry
		later.ExpiresAt = entry.ExpiresAt.Add(time.Hour)
		require.NoError(t, repo.Blacklist(ctx, later))

		count, err := collection.CountDocuments(ctx, bson.D{{Key: "_id", Value: "live"}})
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		var stored struct {
			ExpiresAt time.Time `bson:"expiresAt"`
		}
		require.NoError(t, collection.FindOne(ctx, bson.D{{Key: "_id", Value: "live"}}).Decode(&stored))
		assert.WithinDuration(t, entry.ExpiresAt, stored.ExpiresAt, time.Millisecond)

		revoked, err := repo.IsBlacklisted(ctx, "live")
		require.NoError(t, err)
		assert.True(t, revoked)
	})

	t.Run("expired entries are treated as absent", func(t *testing.T) {
		require.NoError(t, repo.Blacklist(ctx, model.RevocationEntry{
			TokenHash: "stale",
			Type:      model.TokenTypeAccess,
			UserID:    "u1",
			ExpiresAt: time.Now().UTC().Add(-time.Minute),
		}))

		revoked, err := repo.IsBlacklisted(ctx, "stale")
		require.NoError(t, err)
		assert.False(t, revoked)

		revoked, err = repo.IsBlacklisted(ctx, "never-seen")
		require.NoError(t, err)
		assert.False(t, revoked)
	})
}
