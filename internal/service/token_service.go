package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"livestock-track/internal/model"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

type tokenClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies HS256 bearer tokens. Access and refresh
// tokens use separate secrets and a typ claim, so neither can stand in for
// the other.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokenIssuer(accessSecret string, refreshSecret string, accessTTL time.Duration, refreshTTL time.Duration) (*TokenIssuer, error) {
	if accessSecret == "" || refreshSecret == "" {
		return nil, errors.New("token secrets are required")
	}
	if accessSecret == refreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}

	return &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}, nil
}

func (t *TokenIssuer) AccessTTL() time.Duration {
	return t.accessTTL
}

func (t *TokenIssuer) IssueAccessToken(user model.User) (string, time.Time, error) {
	return t.sign(tokenClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   string(user.Role),
		Type:   tokenTypeAccess,
	}, t.accessSecret, t.accessTTL)
}

func (t *TokenIssuer) IssueRefreshToken(userID string) (string, time.Time, error) {
	return t.sign(tokenClaims{
		UserID: userID,
		Type:   tokenTypeRefresh,
	}, t.refreshSecret, t.refreshTTL)
}

func (t *TokenIssuer) IssuePair(user model.User) (model.TokenPair, error) {
	access, _, err := t.IssueAccessToken(user)
	if err != nil {
		return model.TokenPair{}, err
	}
	refresh, _, err := t.IssueRefreshToken(user.ID)
	if err != nil {
		return model.TokenPair{}, err
	}
	return model.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (t *TokenIssuer) VerifyAccessToken(token string) (*model.AuthClaims, error) {
	return t.verify(token, t.accessSecret, tokenTypeAccess)
}

func (t *TokenIssuer) VerifyRefreshToken(token string) (*model.AuthClaims, error) {
	return t.verify(token, t.refreshSecret, tokenTypeRefresh)
}

func (t *TokenIssuer) sign(claims tokenClaims, secret []byte, ttl time.Duration) (string, time.Time, error) {
	now := t.now().UTC()
	expiresAt := now.Add(ttl)

	// jti keeps two tokens minted in the same second distinct.
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.UserID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", claims.Type, err)
	}
	return signed, expiresAt.Truncate(time.Second), nil
}

func (t *TokenIssuer) verify(token string, secret []byte, expectedType string) (*model.AuthClaims, error) {
	if token == "" {
		return nil, model.ErrTokenInvalid
	}

	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, model.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", model.ErrTokenInvalid, err)
	}
	if !parsed.Valid || claims.Type != expectedType || claims.UserID == "" {
		return nil, model.ErrTokenInvalid
	}

	out := &model.AuthClaims{
		UserID:  claims.UserID,
		Email:   claims.Email,
		Role:    model.Role(claims.Role),
		Type:    claims.Type,
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return out, nil
}

// NewOpaqueToken returns n random bytes hex-encoded together with the digest
// that is persisted in its place.
func NewOpaqueToken(n int) (string, string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	plain := hex.EncodeToString(buf)
	return plain, HashToken(plain), nil
}

// HashToken is the SHA-256 hex digest used to store and look up tokens.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
