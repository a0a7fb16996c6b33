package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"livestock-track/internal/database"
	"livestock-track/internal/model"
)

type userDocument struct {
	ID                         string                `bson:"_id"`
	Email                      string                `bson:"email"`
	PasswordHash               string                `bson:"password"`
	FirstName                  string                `bson:"firstName"`
	LastName                   string                `bson:"lastName"`
	Phone                      string                `bson:"phone"`
	OrganizationType           string                `bson:"organizationType"`
	OrganizationName           string                `bson:"organizationName,omitempty"`
	FarmLocation               *farmLocationDocument `bson:"farmLocation,omitempty"`
	Role                       string                `bson:"role"`
	IsEmailVerified            bool                  `bson:"isEmailVerified"`
	EmailVerificationTokenHash string                `bson:"emailVerificationToken,omitempty"`
	EmailVerificationExpires   *time.Time            `bson:"emailVerificationExpires,omitempty"`
	PasswordResetTokenHash     string                `bson:"passwordResetToken,omitempty"`
	PasswordResetExpires       *time.Time            `bson:"passwordResetExpires,omitempty"`
	RefreshTokens              []string              `bson:"refreshTokens"`
	LastLogin                  *time.Time            `bson:"lastLogin,omitempty"`
	IsActive                   bool                  `bson:"isActive"`
	IsBlocked                  bool                  `bson:"isBlocked"`
	BlockedReason              string                `bson:"blockedReason,omitempty"`
	Version                    int64                 `bson:"version"`
	CreatedAt                  time.Time             `bson:"createdAt"`
	UpdatedAt                  time.Time             `bson:"updatedAt"`
}

type farmLocationDocument struct {
	Province     string               `bson:"province"`
	Municipality string               `bson:"municipality"`
	Coordinates  *coordinatesDocument `bson:"coordinates,omitempty"`
}

type coordinatesDocument struct {
	Lat float64 `bson:"lat"`
	Lon float64 `bson:"lon"`
}

type MongoUserRepository struct {
	collection *mongo.Collection
}

func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{collection: db.Collection(database.UsersCollection)}
}

func (r *MongoUserRepository) Create(ctx context.Context, u model.User) error {
	_, err := r.collection.InsertOne(ctx, toUserDocument(u))
	if mongo.IsDuplicateKeyError(err) {
		return model.ErrUserAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *MongoUserRepository) FindByID(ctx context.Context, id string) (model.User, error) {
	return r.findOne(ctx, "find user by id", bson.D{{Key: "_id", Value: id}})
}

func (r *MongoUserRepository) FindByEmail(ctx context.Context, email string) (model.User, error) {
	return r.findOne(ctx, "find user by email", bson.D{{Key: "email", Value: strings.ToLower(strings.TrimSpace(email))}})
}

func (r *MongoUserRepository) FindByVerificationTokenHash(ctx context.Context, tokenHash string) (model.User, error) {
	return r.findOne(ctx, "find user by verification token", bson.D{{Key: "emailVerificationToken", Value: tokenHash}})
}

func (r *MongoUserRepository) FindByResetTokenHash(ctx context.Context, tokenHash string) (model.User, error) {
	return r.findOne(ctx, "find user by reset token", bson.D{{Key: "passwordResetToken", Value: tokenHash}})
}

// Update replaces the document only while its version still matches.
func (r *MongoUserRepository) Update(ctx context.Context, u model.User) (model.User, error) {
	next := u.Clone()
	next.Version = u.Version + 1

	result, err := r.collection.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: u.ID}, {Key: "version", Value: u.Version}},
		toUserDocument(next))
	if mongo.IsDuplicateKeyError(err) {
		return model.User{}, model.ErrUserAlreadyExists
	}
	if err != nil {
		return model.User{}, fmt.Errorf("update user: %w", err)
	}

	if result.MatchedCount == 0 {
		count, err := r.collection.CountDocuments(ctx, bson.D{{Key: "_id", Value: u.ID}})
		if err != nil {
			return model.User{}, fmt.Errorf("check user exists: %w", err)
		}
		if count == 0 {
			return model.User{}, model.ErrUserNotFound
		}
		return model.User{}, model.ErrVersionConflict
	}

	return next, nil
}

func (r *MongoUserRepository) findOne(ctx context.Context, op string, filter bson.D) (model.User, error) {
	var doc userDocument
	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.User{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return doc.toModel(), nil
}

func toUserDocument(u model.User) userDocument {
	doc := userDocument{
		ID:                         u.ID,
		Email:                      u.Email,
		PasswordHash:               u.PasswordHash,
		FirstName:                  u.FirstName,
		LastName:                   u.LastName,
		Phone:                      u.Phone,
		OrganizationType:           string(u.OrganizationType),
		OrganizationName:           u.OrganizationName,
		Role:                       string(u.Role),
		IsEmailVerified:            u.IsEmailVerified,
		EmailVerificationTokenHash: u.EmailVerificationTokenHash,
		EmailVerificationExpires:   u.EmailVerificationExpires,
		PasswordResetTokenHash:     u.PasswordResetTokenHash,
		PasswordResetExpires:       u.PasswordResetExpires,
		RefreshTokens:              u.RefreshTokens,
		LastLogin:                  u.LastLogin,
		IsActive:                   u.IsActive,
		IsBlocked:                  u.IsBlocked,
		BlockedReason:              u.BlockedReason,
		Version:                    u.Version,
		CreatedAt:                  u.CreatedAt,
		UpdatedAt:                  u.UpdatedAt,
	}
	if doc.RefreshTokens == nil {
		doc.RefreshTokens = []string{}
	}
	if loc := u.FarmLocation; loc != nil {
		doc.FarmLocation = &farmLocationDocument{Province: loc.Province, Municipality: loc.Municipality}
		if loc.Coordinates != nil {
			doc.FarmLocation.Coordinates = &coordinatesDocument{Lat: loc.Coordinates.Lat, Lon: loc.Coordinates.Lon}
		}
	}
	return doc
}

func (d userDocument) toModel() model.User {
	u := model.User{
		ID:                         d.ID,
		Email:                      d.Email,
		PasswordHash:               d.PasswordHash,
		FirstName:                  d.FirstName,
		LastName:                   d.LastName,
		Phone:                      d.Phone,
		OrganizationType:           model.OrganizationType(d.OrganizationType),
		OrganizationName:           d.OrganizationName,
		Role:                       model.Role(d.Role),
		IsEmailVerified:            d.IsEmailVerified,
		EmailVerificationTokenHash: d.EmailVerificationTokenHash,
		EmailVerificationExpires:   utcPtr(d.EmailVerificationExpires),
		PasswordResetTokenHash:     d.PasswordResetTokenHash,
		PasswordResetExpires:       utcPtr(d.PasswordResetExpires),
		RefreshTokens:              d.RefreshTokens,
		LastLogin:                  utcPtr(d.LastLogin),
		IsActive:                   d.IsActive,
		IsBlocked:                  d.IsBlocked,
		BlockedReason:              d.BlockedReason,
		Version:                    d.Version,
		CreatedAt:                  d.CreatedAt.UTC(),
		UpdatedAt:                  d.UpdatedAt.UTC(),
	}
	if u.RefreshTokens == nil {
		u.RefreshTokens = []string{}
	}
	if loc := d.FarmLocation; loc != nil {
		u.FarmLocation = &model.FarmLocation{Province: loc.Province, Municipality: loc.Municipality}
		if loc.Coordinates != nil {
			u.FarmLocation.Coordinates = &model.Coordinates{Lat: loc.Coordinates.Lat, Lon: loc.Coordinates.Lon}
		}
	}
	return u
}
