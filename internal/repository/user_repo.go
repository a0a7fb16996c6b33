package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"livestock-track/internal/model"
)

const userColumns = `id, email, password_hash, first_name, last_name, phone,
	organization_type, organization_name, farm_location, role, is_email_verified,
	email_verification_token_hash, email_verification_expires,
	password_reset_token_hash, password_reset_expires, refresh_tokens,
	last_login, is_active, is_blocked, blocked_reason, version, created_at, updated_at`

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) Create(ctx context.Context, u model.User) error {
	refreshTokens := u.RefreshTokens
	if refreshTokens == nil {
		refreshTokens = []string{}
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Phone,
		string(u.OrganizationType), u.OrganizationName, u.FarmLocation, string(u.Role), u.IsEmailVerified,
		nullString(u.EmailVerificationTokenHash), u.EmailVerificationExpires,
		nullString(u.PasswordResetTokenHash), u.PasswordResetExpires, refreshTokens,
		u.LastLogin, u.IsActive, u.IsBlocked, u.BlockedReason, u.Version, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return model.ErrUserAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (model.User, error) {
	return r.findOne(ctx, "find user by id", `id = $1`, id)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (model.User, error) {
	return r.findOne(ctx, "find user by email", `lower(email) = lower($1)`, strings.TrimSpace(email))
}

func (r *UserRepository) FindByVerificationTokenHash(ctx context.Context, tokenHash string) (model.User, error) {
	return r.findOne(ctx, "find user by verification token", `email_verification_token_hash = $1`, tokenHash)
}

func (r *UserRepository) FindByResetTokenHash(ctx context.Context, tokenHash string) (model.User, error) {
	return r.findOne(ctx, "find user by reset token", `password_reset_token_hash = $1`, tokenHash)
}

// Update writes u only if the stored version still equals u.Version and
// returns the stored row with the bumped version.
func (r *UserRepository) Update(ctx context.Context, u model.User) (model.User, error) {
	refreshTokens := u.RefreshTokens
	if refreshTokens == nil {
		refreshTokens = []string{}
	}

	query, args, err := psql.Update("users").
		SetMap(map[string]any{
			"email":                         u.Email,
			"password_hash":                 u.PasswordHash,
			"first_name":                    u.FirstName,
			"last_name":                     u.LastName,
			"phone":                         u.Phone,
			"organization_type":             string(u.OrganizationType),
			"organization_name":             u.OrganizationName,
			"farm_location":                 u.FarmLocation,
			"role":                          string(u.Role),
			"is_email_verified":             u.IsEmailVerified,
			"email_verification_token_hash": nullString(u.EmailVerificationTokenHash),
			"email_verification_expires":    u.EmailVerificationExpires,
			"password_reset_token_hash":     nullString(u.PasswordResetTokenHash),
			"password_reset_expires":        u.PasswordResetExpires,
			"refresh_tokens":                refreshTokens,
			"last_login":                    u.LastLogin,
			"is_active":                     u.IsActive,
			"is_blocked":                    u.IsBlocked,
			"blocked_reason":                u.BlockedReason,
			"updated_at":                    u.UpdatedAt,
			"version":                       sq.Expr("version + 1"),
		}).
		Where(sq.Eq{"id": u.ID, "version": u.Version}).
		Suffix("RETURNING " + userColumns).
		ToSql()
	if err != nil {
		return model.User{}, fmt.Errorf("build user update: %w", err)
	}

	saved, err := scanUser(r.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, r.missOrConflict(ctx, u.ID)
	}
	if isUniqueViolation(err) {
		return model.User{}, model.ErrUserAlreadyExists
	}
	if err != nil {
		return model.User{}, fmt.Errorf("update user: %w", err)
	}
	return saved, nil
}

func (r *UserRepository) missOrConflict(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check user exists: %w", err)
	}
	if !exists {
		return model.ErrUserNotFound
	}
	return model.ErrVersionConflict
}

func (r *UserRepository) findOne(ctx context.Context, op string, where string, arg any) (model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (model.User, error) {
	var (
		u                model.User
		organizationType string
		role             string
		verificationHash *string
		resetHash        *string
	)

	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Phone,
		&organizationType, &u.OrganizationName, &u.FarmLocation, &role, &u.IsEmailVerified,
		&verificationHash, &u.EmailVerificationExpires,
		&resetHash, &u.PasswordResetExpires, &u.RefreshTokens,
		&u.LastLogin, &u.IsActive, &u.IsBlocked, &u.BlockedReason, &u.Version, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, err
	}

	u.OrganizationType = model.OrganizationType(organizationType)
	u.Role = model.Role(role)
	if verificationHash != nil {
		u.EmailVerificationTokenHash = *verificationHash
	}
	if resetHash != nil {
		u.PasswordResetTokenHash = *resetHash
	}
	if u.RefreshTokens == nil {
		u.RefreshTokens = []string{}
	}
	u.EmailVerificationExpires = utcPtr(u.EmailVerificationExpires)
	u.PasswordResetExpires = utcPtr(u.PasswordResetExpires)
	u.LastLogin = utcPtr(u.LastLogin)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
