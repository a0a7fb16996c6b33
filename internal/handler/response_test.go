package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livestock-track/internal/model"
	"livestock-track/pkg/apierror"
)

func TestWriteError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"invalid credentials", model.ErrInvalidCredentials, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid credentials"},
		{"unverified", model.ErrEmailNotVerified, http.StatusForbidden, "FORBIDDEN", "Email not verified"},
		{"disabled", model.ErrAccountDisabled, http.StatusForbidden, "FORBIDDEN", "Account disabled"},
		{"revoked", model.ErrTokenRevoked, http.StatusUnauthorized, "UNAUTHORIZED", "Token revoked"},
		{"expired", model.ErrTokenExpired, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token"},
		{"wrapped invalid", fmt.Errorf("%w: signature", model.ErrTokenInvalid), http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired token"},
		{"one-time token", model.ErrOneTimeTokenInvalid, http.StatusBadRequest, "INVALID_TOKEN", "Token invalid or expired"},
		{"conflict", model.ErrUserAlreadyExists, http.StatusConflict, "CONFLICT", "Email already registered"},
		{"current password", model.ErrCurrentPasswordIncorrect, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid current password"},
		{"not found", model.ErrUserNotFound, http.StatusNotFound, "NOT_FOUND", "User not found"},
		{"api error", apierror.Validation("Invalid input", nil), http.StatusBadRequest, "VALIDATION_ERROR", "Invalid input"},
		{"unknown", errors.New("connection reset by peer"), http.StatusInternalServerError, "INTERNAL_ERROR", "Unexpected server error"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			writeError(rec, tt.err)

			var body model.APIResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.status, rec.Code)
			assert.False(t, body.Success)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.Equal(t, tt.message, body.Error.Message)
			assert.NotContains(t, rec.Body.String(), "connection reset")
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	var dst model.EmailRequest

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	assert.NoError(t, decodeJSON(httptest.NewRecorder(), req, &dst, true))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	assert.Error(t, decodeJSON(httptest.NewRecorder(), req, &dst, false))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@x.com"}`))
	require.NoError(t, decodeJSON(httptest.NewRecorder(), req, &dst, false))
	assert.Equal(t, "a@x.com", dst.Email)

	big := `{"email":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
	err := decodeJSON(httptest.NewRecorder(), req, &dst, false)
	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusRequestEntityTooLarge, apiErr.HTTPStatus)
}
