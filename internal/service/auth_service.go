package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"livestock-track/internal/model"
	"livestock-track/internal/notify"
	"livestock-track/internal/util"
	"livestock-track/pkg/apierror"
)

const (
	verificationTokenBytes = 24
	resetTokenBytes        = 32

	// Attempts for one read-modify-write before a version conflict is
	// reported as an internal error.
	maxUpdateAttempts = 3
)

type UserStore interface {
	Create(ctx context.Context, user model.User) error
	FindByID(ctx context.Context, id string) (model.User, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	FindByVerificationTokenHash(ctx context.Context, tokenHash string) (model.User, error)
	FindByResetTokenHash(ctx context.Context, tokenHash string) (model.User, error)
	Update(ctx context.Context, user model.User) (model.User, error)
}

type RevocationLedger interface {
	Blacklist(ctx context.Context, entry model.RevocationEntry) error
	IsBlacklisted(ctx context.Context, tokenHash string) (bool, error)
}

type AuthConfig struct {
	FrontendURL          string
	VerificationTokenTTL time.Duration
	ResetTokenTTL        time.Duration
	BcryptCost           int
}

// AuthService owns the credential and session lifecycle. Every change to a
// user is a load, derive, compare-and-swap cycle against the UserStore.
type AuthService struct {
	users    UserStore
	ledger   RevocationLedger
	tokens   *TokenIssuer
	notifier notify.Notifier
	cfg      AuthConfig
	now      func() time.Time

	// Compared against on unknown emails so both login failures cost a
	// bcrypt round.
	dummyHash []byte
}

func NewAuthService(users UserStore, ledger RevocationLedger, tokens *TokenIssuer, notifier notify.Notifier, cfg AuthConfig) (*AuthService, error) {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.VerificationTokenTTL <= 0 {
		cfg.VerificationTokenTTL = 24 * time.Hour
	}
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = time.Hour
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("prepare password hashing: %w", err)
	}

	return &AuthService{
		users:     users,
		ledger:    ledger,
		tokens:    tokens,
		notifier:  notifier,
		cfg:       cfg,
		now:       time.Now,
		dummyHash: dummy,
	}, nil
}

func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (model.SafeUser, error) {
	req = normalizeRegister(req)
	if err := validateRegister(req); err != nil {
		return model.SafeUser{}, err
	}

	if _, err := s.users.FindByEmail(ctx, req.Email); err == nil {
		return model.SafeUser{}, model.ErrUserAlreadyExists
	} else if !errors.Is(err, model.ErrUserNotFound) {
		return model.SafeUser{}, err
	}

	passwordHash, err := s.hashPassword(req.Password)
	if err != nil {
		return model.SafeUser{}, err
	}

	token, tokenHash, err := NewOpaqueToken(verificationTokenBytes)
	if err != nil {
		return model.SafeUser{}, err
	}

	now := s.now().UTC()
	expires := now.Add(s.cfg.VerificationTokenTTL)
	user := model.User{
		ID:                         uuid.NewString(),
		Email:                      req.Email,
		PasswordHash:               passwordHash,
		FirstName:                  req.FirstName,
		LastName:                   req.LastName,
		Phone:                      req.Phone,
		OrganizationType:           req.OrganizationType,
		OrganizationName:           req.OrganizationName,
		FarmLocation:               req.FarmLocation,
		Role:                       model.RoleFarmer,
		EmailVerificationTokenHash: tokenHash,
		EmailVerificationExpires:   &expires,
		RefreshTokens:              []string{},
		IsActive:                   true,
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return model.SafeUser{}, err
	}

	slog.Info("user registered", "user_id", user.ID)
	s.notify(ctx, notify.Message{
		Kind:      notify.KindVerification,
		To:        user.Email,
		FirstName: user.FirstName,
		Link:      s.link("/verify-email", token),
	})

	return user.Safe(), nil
}

func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return apierror.Validation("Invalid token", nil)
	}

	tokenHash := HashToken(token)
	_, err := s.mutate(ctx, func(ctx context.Context) (model.User, error) {
		return s.users.FindByVerificationTokenHash(ctx, tokenHash)
	}, func(u *model.User) error {
		if !s.unexpired(u.EmailVerificationExpires) {
			return model.ErrOneTimeTokenInvalid
		}
		u.IsEmailVerified = true
		u.EmailVerificationTokenHash = ""
		u.EmailVerificationExpires = nil
		return nil
	})
	if errors.Is(err, model.ErrUserNotFound) {
		return model.ErrOneTimeTokenInvalid
	}
	return err
}

func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (model.LoginResult, error) {
	email := util.NormalizeEmail(req.Email)
	if !validEmail(email) || req.Password == "" {
		return model.LoginResult{}, apierror.Validation("Invalid credentials", nil)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, model.ErrUserNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(req.Password))
		return model.LoginResult{}, model.ErrInvalidCredentials
	}
	if err != nil {
		return model.LoginResult{}, err
	}

	if !user.IsEmailVerified {
		return model.LoginResult{}, model.ErrEmailNotVerified
	}
	if user.Disabled() {
		return model.LoginResult{}, model.ErrAccountDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return model.LoginResult{}, model.ErrInvalidCredentials
	}

	var refreshToken string
	updated, err := s.mutate(ctx, s.byID(user.ID), func(u *model.User) error {
		if u.Disabled() {
			return model.ErrAccountDisabled
		}
		token, _, err := s.tokens.IssueRefreshToken(u.ID)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		u.LastLogin = &now
		u.RefreshTokens = append(u.RefreshTokens, token)
		refreshToken = token
		return nil
	})
	if err != nil {
		return model.LoginResult{}, err
	}

	accessToken, _, err := s.tokens.IssueAccessToken(updated)
	if err != nil {
		return model.LoginResult{}, err
	}

	slog.Info("user logged in", "user_id", updated.ID)
	return model.LoginResult{
		User:         updated.Safe(),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// Refresh rotates a refresh token: the presented token leaves the live set
// and its replacement joins it in the same write.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	if refreshToken == "" {
		return model.TokenPair{}, apierror.Validation("Invalid refresh token", nil)
	}

	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return model.TokenPair{}, err
	}

	var next string
	updated, err := s.mutate(ctx, s.byID(claims.UserID), func(u *model.User) error {
		if !u.HasRefreshToken(refreshToken) {
			return model.ErrTokenRevoked
		}
		if u.Disabled() {
			return model.ErrAccountDisabled
		}
		token, _, err := s.tokens.IssueRefreshToken(u.ID)
		if err != nil {
			return err
		}
		u.RefreshTokens = append(u.WithoutRefreshToken(refreshToken), token)
		next = token
		return nil
	})
	if errors.Is(err, model.ErrUserNotFound) {
		return model.TokenPair{}, model.ErrTokenInvalid
	}
	if errors.Is(err, model.ErrTokenRevoked) {
		slog.Warn("refresh token reuse rejected", "user_id", claims.UserID)
	}
	if err != nil {
		return model.TokenPair{}, err
	}

	accessToken, _, err := s.tokens.IssueAccessToken(updated)
	if err != nil {
		return model.TokenPair{}, err
	}

	return model.TokenPair{AccessToken: accessToken, RefreshToken: next}, nil
}

// Logout drops refreshToken from the user's live set (when given) and
// blacklists the access token until its own expiry.
func (s *AuthService) Logout(ctx context.Context, userID string, accessToken string, accessExpires time.Time, refreshToken string) error {
	if userID == "" {
		return model.ErrUnauthorized
	}

	if refreshToken != "" {
		_, err := s.mutate(ctx, s.byID(userID), func(u *model.User) error {
			if !u.HasRefreshToken(refreshToken) {
				return errUnchanged
			}
			u.RefreshTokens = u.WithoutRefreshToken(refreshToken)
			return nil
		})
		if errors.Is(err, model.ErrUserNotFound) {
			return model.ErrUnauthorized
		}
		if err != nil && !errors.Is(err, errUnchanged) {
			return err
		}
	}

	if accessToken != "" {
		now := s.now().UTC()
		if accessExpires.IsZero() {
			accessExpires = now.Add(s.tokens.AccessTTL())
		}
		if err := s.ledger.Blacklist(ctx, model.RevocationEntry{
			TokenHash: HashToken(accessToken),
			Type:      model.TokenTypeAccess,
			UserID:    userID,
			Reason:    "logout",
			ExpiresAt: accessExpires.UTC(),
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("blacklist access token: %w", err)
		}
	}

	slog.Info("user logged out", "user_id", userID)
	return nil
}

// ForgotPassword issues a reset link when the email belongs to an account.
// Unknown or malformed emails succeed silently.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	email = util.NormalizeEmail(email)
	if !validEmail(email) {
		return nil
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, model.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	token, tokenHash, err := NewOpaqueToken(resetTokenBytes)
	if err != nil {
		return err
	}

	updated, err := s.mutate(ctx, s.byID(user.ID), func(u *model.User) error {
		expires := s.now().UTC().Add(s.cfg.ResetTokenTTL)
		u.PasswordResetTokenHash = tokenHash
		u.PasswordResetExpires = &expires
		return nil
	})
	if err != nil {
		return err
	}

	s.notify(ctx, notify.Message{
		Kind:      notify.KindPasswordReset,
		To:        updated.Email,
		FirstName: updated.FirstName,
		Link:      s.link("/reset-password", token),
	})
	return nil
}

func (s *AuthService) ResetPassword(ctx context.Context, req model.ResetPasswordRequest) error {
	if req.Token == "" {
		return apierror.Validation("Invalid input", []FieldError{{Field: "token", Message: "Required"}})
	}
	if err := validateNewPassword(req.NewPassword, req.ConfirmPassword); err != nil {
		return err
	}

	passwordHash, err := s.hashPassword(req.NewPassword)
	if err != nil {
		return err
	}

	tokenHash := HashToken(req.Token)
	updated, err := s.mutate(ctx, func(ctx context.Context) (model.User, error) {
		return s.users.FindByResetTokenHash(ctx, tokenHash)
	}, func(u *model.User) error {
		if !s.unexpired(u.PasswordResetExpires) {
			return model.ErrOneTimeTokenInvalid
		}
		u.PasswordHash = passwordHash
		u.PasswordResetTokenHash = ""
		u.PasswordResetExpires = nil
		u.RefreshTokens = []string{}
		return nil
	})
	if errors.Is(err, model.ErrUserNotFound) {
		return model.ErrOneTimeTokenInvalid
	}
	if err != nil {
		return err
	}

	slog.Info("password reset", "user_id", updated.ID)
	s.notifyPasswordChanged(ctx, updated)
	return nil
}

func (s *AuthService) ChangePassword(ctx context.Context, userID string, req model.ChangePasswordRequest) error {
	if req.CurrentPassword == "" {
		return apierror.Validation("Invalid input", []FieldError{{Field: "currentPassword", Message: "Required"}})
	}
	if err := validateNewPassword(req.NewPassword, req.ConfirmPassword); err != nil {
		return err
	}

	passwordHash, err := s.hashPassword(req.NewPassword)
	if err != nil {
		return err
	}

	updated, err := s.mutate(ctx, s.byID(userID), func(u *model.User) error {
		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.CurrentPassword)); err != nil {
			return model.ErrCurrentPasswordIncorrect
		}
		u.PasswordHash = passwordHash
		u.PasswordResetTokenHash = ""
		u.PasswordResetExpires = nil
		u.RefreshTokens = []string{}
		return nil
	})
	if errors.Is(err, model.ErrUserNotFound) {
		return model.ErrUnauthorized
	}
	if err != nil {
		return err
	}

	slog.Info("password changed", "user_id", updated.ID)
	s.notifyPasswordChanged(ctx, updated)
	return nil
}

// ResendVerification reissues the verification link for unverified
// accounts. Every other case succeeds silently.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	email = util.NormalizeEmail(email)
	if !validEmail(email) {
		return nil
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, model.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if user.IsEmailVerified {
		return nil
	}

	token, tokenHash, err := NewOpaqueToken(verificationTokenBytes)
	if err != nil {
		return err
	}

	updated, err := s.mutate(ctx, s.byID(user.ID), func(u *model.User) error {
		if u.IsEmailVerified {
			return errUnchanged
		}
		expires := s.now().UTC().Add(s.cfg.VerificationTokenTTL)
		u.EmailVerificationTokenHash = tokenHash
		u.EmailVerificationExpires = &expires
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		return err
	}

	s.notify(ctx, notify.Message{
		Kind:      notify.KindVerification,
		To:        updated.Email,
		FirstName: updated.FirstName,
		Link:      s.link("/verify-email", token),
	})
	return nil
}

func (s *AuthService) GetMe(ctx context.Context, userID string) (model.SafeUser, error) {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.SafeUser{}, model.ErrUnauthorized
	}
	if err != nil {
		return model.SafeUser{}, err
	}
	return user.Safe(), nil
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID string, req model.UpdateProfileRequest) (model.SafeUser, error) {
	req, err := normalizeProfile(req)
	if err != nil {
		return model.SafeUser{}, err
	}

	updated, err := s.mutate(ctx, s.byID(userID), func(u *model.User) error {
		if req.FirstName != nil {
			u.FirstName = *req.FirstName
		}
		if req.LastName != nil {
			u.LastName = *req.LastName
		}
		if req.Phone != nil {
			u.Phone = *req.Phone
		}
		if req.OrganizationName != nil {
			u.OrganizationName = *req.OrganizationName
		}
		if req.FarmLocation != nil {
			u.FarmLocation = req.FarmLocation
		}
		return nil
	})
	if errors.Is(err, model.ErrUserNotFound) {
		return model.SafeUser{}, model.ErrUnauthorized
	}
	if err != nil {
		return model.SafeUser{}, err
	}

	return updated.Safe(), nil
}

// Authenticate resolves a bearer access token to its user. The ledger is
// consulted before the signature so a revoked token is reported as such.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (model.User, *model.AuthClaims, error) {
	if accessToken == "" {
		return model.User{}, nil, model.ErrUnauthorized
	}

	revoked, err := s.ledger.IsBlacklisted(ctx, HashToken(accessToken))
	if err != nil {
		return model.User{}, nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return model.User{}, nil, model.ErrTokenRevoked
	}

	claims, err := s.tokens.VerifyAccessToken(accessToken)
	if err != nil {
		return model.User{}, nil, err
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.User{}, nil, model.ErrTokenInvalid
	}
	if err != nil {
		return model.User{}, nil, err
	}
	if user.Disabled() {
		return model.User{}, nil, model.ErrAccountDisabled
	}

	return user, claims, nil
}

func (s *AuthService) GetUser(ctx context.Context, userID string) (model.SafeUser, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return model.SafeUser{}, err
	}
	return user.Safe(), nil
}

// UpdateAccountStatus applies an admin change to activation, blocking or
// role. A disabled account loses all refresh tokens.
func (s *AuthService) UpdateAccountStatus(ctx context.Context, userID string, req model.UpdateAccountStatusRequest) (model.SafeUser, error) {
	if req.IsActive == nil && req.IsBlocked == nil && req.BlockedReason == nil && req.Role == nil {
		return model.SafeUser{}, apierror.Validation("Invalid input", []FieldError{{Field: "body", Message: "No changes supplied"}})
	}
	if req.Role != nil && !req.Role.Valid() {
		return model.SafeUser{}, apierror.Validation("Invalid input", []FieldError{{Field: "role", Message: "Must be one of farmer, manager, admin, viewer"}})
	}

	updated, err := s.mutate(ctx, s.byID(userID), func(u *model.User) error {
		if req.IsActive != nil {
			u.IsActive = *req.IsActive
		}
		if req.IsBlocked != nil {
			u.IsBlocked = *req.IsBlocked
		}
		if req.BlockedReason != nil {
			u.BlockedReason = util.SanitizeText(*req.BlockedReason, maxTextLength)
		}
		if !u.IsBlocked {
			u.BlockedReason = ""
		}
		if req.Role != nil {
			u.Role = *req.Role
		}
		if u.Disabled() {
			u.RefreshTokens = []string{}
		}
		return nil
	})
	if err != nil {
		return model.SafeUser{}, err
	}

	slog.Info("account status updated", "user_id", updated.ID, "active", updated.IsActive, "blocked", updated.IsBlocked, "role", updated.Role)
	return updated.Safe(), nil
}

// EnsureAdmin creates a verified admin account for email unless one is
// already registered.
func (s *AuthService) EnsureAdmin(ctx context.Context, email string, password string) error {
	email = util.NormalizeEmail(email)
	if !validEmail(email) || password == "" {
		return errors.New("admin email and password are required")
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, model.ErrUserNotFound) {
		return err
	}

	passwordHash, err := s.hashPassword(password)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	admin := model.User{
		ID:               uuid.NewString(),
		Email:            email,
		PasswordHash:     passwordHash,
		FirstName:        "Admin",
		LastName:         "User",
		OrganizationType: model.OrganizationIndividual,
		Role:             model.RoleAdmin,
		IsEmailVerified:  true,
		RefreshTokens:    []string{},
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.users.Create(ctx, admin); err != nil && !errors.Is(err, model.ErrUserAlreadyExists) {
		return err
	}

	slog.Info("admin account ensured", "user_id", admin.ID)
	return nil
}

// errUnchanged aborts a mutation that has nothing to write.
var errUnchanged = errors.New("no change")

type userLoader func(ctx context.Context) (model.User, error)

func (s *AuthService) byID(userID string) userLoader {
	return func(ctx context.Context) (model.User, error) {
		return s.users.FindByID(ctx, userID)
	}
}

// mutate loads a user, applies fn to a copy and writes it back with a
// version check. On a conflict the whole cycle runs again, so fn must
// re-derive every decision from the freshly loaded value.
func (s *AuthService) mutate(ctx context.Context, load userLoader, fn func(u *model.User) error) (model.User, error) {
	var lastErr error
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		current, err := load(ctx)
		if err != nil {
			return model.User{}, err
		}

		next := current.Clone()
		if err := fn(&next); err != nil {
			return model.User{}, err
		}
		next.UpdatedAt = s.now().UTC()

		updated, err := s.users.Update(ctx, next)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, model.ErrVersionConflict) {
			return model.User{}, err
		}

		lastErr = err
		slog.Debug("user update conflict, retrying", "user_id", current.ID, "attempt", attempt)
	}

	return model.User{}, fmt.Errorf("update user after %d attempts: %w", maxUpdateAttempts, lastErr)
}

func (s *AuthService) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *AuthService) unexpired(expires *time.Time) bool {
	return expires != nil && s.now().Before(*expires)
}

func (s *AuthService) link(path string, token string) string {
	return s.cfg.FrontendURL + path + "?token=" + url.QueryEscape(token)
}

func (s *AuthService) notifyPasswordChanged(ctx context.Context, user model.User) {
	s.notify(ctx, notify.Message{
		Kind:      notify.KindPasswordChanged,
		To:        user.Email,
		FirstName: user.FirstName,
	})
}

// notify never fails the calling operation; the outcome is only logged.
func (s *AuthService) notify(ctx context.Context, msg notify.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		slog.Warn("notification not dispatched", "kind", msg.Kind, "error", err)
	}
}
