package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"livestock-track/internal/database"
	"livestock-track/internal/model"
)

// MongoRevocationRepository relies on the expiresAt TTL index created by
// database.MongoDB.EnsureIndexes to purge stale entries.
type MongoRevocationRepository struct {
	collection *mongo.Collection
}

func NewMongoRevocationRepository(db *mongo.Database) *MongoRevocationRepository {
	return &MongoRevocationRepository{collection: db.Collection(database.TokenBlacklistCollection)}
}

func (r *MongoRevocationRepository) Blacklist(ctx context.Context, entry model.RevocationEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.collection.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: entry.TokenHash}},
		bson.D{{Key: "$setOnInsert", Value: bson.D{
			{Key: "type", Value: entry.Type},
			{Key: "userId", Value: entry.UserID},
			{Key: "reason", Value: entry.Reason},
			{Key: "expiresAt", Value: entry.ExpiresAt},
			{Key: "createdAt", Value: createdAt},
		}}},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}
	return nil
}

func (r *MongoRevocationRepository) IsBlacklisted(ctx context.Context, tokenHash string) (bool, error) {
	count, err := r.collection.CountDocuments(ctx, bson.D{
		{Key: "_id", Value: tokenHash},
		{Key: "expiresAt", Value: bson.D{{Key: "$gt", Value: time.Now().UTC()}}},
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return count > 0, nil
}
