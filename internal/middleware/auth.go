package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"livestock-track/internal/model"
	"livestock-track/pkg/apierror"
)

type authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (model.User, *model.AuthClaims, error)
}

type contextKey string

const principalContextKey contextKey = "principal"

// Principal is the authenticated caller. Token is the raw bearer token, kept
// so logout can revoke it.
type Principal struct {
	User   model.User
	Claims *model.AuthClaims
	Token  string
}

type AuthMiddleware struct {
	authenticator authenticator
}

func NewAuthMiddleware(authenticator authenticator) *AuthMiddleware {
	return &AuthMiddleware{authenticator: authenticator}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "Missing token")
			return
		}

		user, claims, err := m.authenticator.Authenticate(r.Context(), token)
		if err != nil {
			writeAuthError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey, Principal{User: user, Claims: claims, Token: token})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) RequireRoles(allowedRoles ...model.Role) func(http.Handler) http.Handler {
	roleSet := map[model.Role]struct{}{}
	for _, role := range allowedRoles {
		roleSet[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "Missing user")
				return
			}

			if _, exists := roleSet[principal.User.Role]; !exists {
				writeJSONError(w, http.StatusForbidden, apierror.CodeForbidden, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(Principal)
	return principal, ok
}

func ClaimsFromContext(ctx context.Context) (*model.AuthClaims, bool) {
	principal, ok := PrincipalFromContext(ctx)
	if !ok || principal.Claims == nil {
		return nil, false
	}
	return principal.Claims, true
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}

	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

// writeAuthError keeps expired and malformed tokens indistinguishable.
func writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrTokenRevoked):
		writeJSONError(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "Token revoked")
	case errors.Is(err, model.ErrAccountDisabled):
		writeJSONError(w, http.StatusForbidden, apierror.CodeForbidden, "Account disabled")
	case errors.Is(err, model.ErrTokenInvalid), errors.Is(err, model.ErrTokenExpired), errors.Is(err, model.ErrUnauthorized):
		writeJSONError(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "Invalid or expired token")
	default:
		slog.Error("authentication failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, apierror.CodeInternalError, "Unexpected server error")
	}
}
