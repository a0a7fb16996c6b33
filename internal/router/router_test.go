package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"livestock-track/docs"
	"livestock-track/internal/config"
	"livestock-track/internal/handler"
	"livestock-track/internal/middleware"
	"livestock-track/internal/model"
	"livestock-track/internal/notify"
	"livestock-track/internal/repository"
	"livestock-track/internal/service"
)

const password = "Str0ng!Pass"

type outbox struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (o *outbox) Notify(_ context.Context, msg notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *outbox) lastToken(t *testing.T, kind notify.Kind) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()

	for i := len(o.msgs) - 1; i >= 0; i-- {
		if o.msgs[i].Kind != kind {
			continue
		}
		link, err := url.Parse(o.msgs[i].Link)
		require.NoError(t, err)
		return link.Query().Get("token")
	}
	t.Fatalf("no %s message sent", kind)
	return ""
}

func (o *outbox) count(kind notify.Kind) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for _, msg := range o.msgs {
		if msg.Kind == kind {
			n++
		}
	}
	return n
}

type testServer struct {
	handler http.Handler
	outbox  *outbox
	service *service.AuthService
}

func testConfig() *config.Config {
	return &config.Config{
		APIVersion:     "v1",
		CORSOrigins:    []string{"*"},
		FrontendURL:    "http://localhost:5173",
		RequestTimeout: 5 * time.Second,
		RateLimit: config.RateLimitConfig{
			GeneralRPM:     1000,
			LoginMax:       50,
			LoginWindow:    15 * time.Minute,
			RegisterMax:    50,
			RegisterWindow: time.Hour,
			ForgotMax:      3,
			ForgotWindow:   time.Hour,
			ResendMax:      3,
			ResendWindow:   time.Hour,
		},
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithConfig(t, testConfig())
}

func newTestServerWithConfig(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()

	tokens, err := service.NewTokenIssuer("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour)
	require.NoError(t, err)

	box := &outbox{}
	svc, err := service.NewAuthService(
		repository.NewMemoryUserRepository(),
		repository.NewMemoryRevocationRepository(),
		tokens,
		box,
		service.AuthConfig{FrontendURL: cfg.FrontendURL, BcryptCost: bcrypt.MinCost},
	)
	require.NoError(t, err)

	h := New(cfg, middleware.NewAuthMiddleware(svc), middleware.NewMemoryLimiter(), Handlers{
		Auth: handler.NewAuthHandler(svc),
		User: handler.NewUserHandler(svc),
		Docs: handler.NewDocsHandler(docs.OpenAPI),
	})
	return &testServer{handler: h, outbox: box, service: svc}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method string, path string, body any, accessToken string) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.10:40000"
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func registerBody(email string) map[string]any {
	return map[string]any{
		"email":            email,
		"password":         password,
		"confirmPassword":  password,
		"firstName":        "Thandi",
		"lastName":         "Nkosi",
		"phone":            "+27821234567",
		"organizationType": "individual",
		"farmLocation":     map[string]any{"province": "Mpumalanga", "municipality": "Mbombela"},
	}
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

type loginData struct {
	User         model.SafeUser `json:"user"`
	AccessToken  string         `json:"accessToken"`
	RefreshToken string         `json:"refreshToken"`
}

func (s *testServer) login(t *testing.T, email string, pass string) loginData {
	t.Helper()
	status, env := s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": email, "password": pass}, "")
	require.Equal(t, http.StatusOK, status, env.Error)
	return decodeData[loginData](t, env)
}

func (s *testServer) activeUser(t *testing.T, email string) loginData {
	t.Helper()
	status, _ := s.do(t, http.MethodPost, "/api/v1/auth/register", registerBody(email), "")
	require.Equal(t, http.StatusCreated, status)

	status, _ = s.do(t, http.MethodPost, "/api/v1/auth/verify-email", map[string]string{"token": s.outbox.lastToken(t, notify.KindVerification)}, "")
	require.Equal(t, http.StatusOK, status)
	return s.login(t, email, password)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestDocs(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "/auth/refresh-token:")

	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swagger", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "swagger-ui")
}

func TestSessionLifecycleScenario(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodPost, "/api/v1/auth/register", registerBody("a@x.com"), "")
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Registration successful. Please verify your email.", env.Message)
	assert.NotContains(t, string(env.Data), "passwordHash")
	assert.NotContains(t, string(env.Data), "refreshTokens")

	status, env = s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "a@x.com", "password": password}, "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	status, _ = s.do(t, http.MethodPost, "/api/v1/auth/verify-email", map[string]string{"token": s.outbox.lastToken(t, notify.KindVerification)}, "")
	require.Equal(t, http.StatusOK, status)

	session := s.login(t, "a@x.com", password)
	require.NotEmpty(t, session.AccessToken)
	require.NotEmpty(t, session.RefreshToken)
	assert.Equal(t, "a@x.com", session.User.Email)

	status, env = s.do(t, http.MethodPost, "/api/v1/auth/refresh-token", map[string]string{"refreshToken": session.RefreshToken}, "")
	require.Equal(t, http.StatusOK, status)
	pair := decodeData[model.TokenPair](t, env)
	assert.NotEqual(t, session.RefreshToken, pair.RefreshToken)

	status, env = s.do(t, http.MethodPost, "/api/v1/auth/refresh-token", map[string]string{"refreshToken": session.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	status, env = s.do(t, http.MethodPost, "/api/v1/auth/logout", map[string]string{"refreshToken": pair.RefreshToken}, pair.AccessToken)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Logged out successfully", env.Message)

	status, env = s.do(t, http.MethodGet, "/api/v1/auth/me", nil, pair.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Token revoked", env.Error.Message)

	status, _ = s.do(t, http.MethodPost, "/api/v1/auth/refresh-token", map[string]string{"refreshToken": pair.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestForgotPasswordRateLimit(t *testing.T) {
	s := newTestServer(t)
	body := map[string]string{"email": "nobody@x.com"}

	for i := 0; i < 3; i++ {
		status, env := s.do(t, http.MethodPost, "/api/v1/auth/forgot-password", body, "")
		require.Equal(t, http.StatusOK, status, "attempt %d", i+1)
		assert.True(t, env.Success)
	}

	status, env := s.do(t, http.MethodPost, "/api/v1/auth/forgot-password", body, "")
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", env.Error.Code)
	assert.Equal(t, "Too many reset requests", env.Error.Message)
}

func (s *testServer) forgotFrom(remoteAddr string, forwardedFor string) int {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/forgot-password", bytes.NewReader([]byte(`{"email":"nobody@x.com"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remoteAddr
	req.Header.Set("X-Forwarded-For", forwardedFor)

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestForwardedForCannotBypassRateLimit(t *testing.T) {
	s := newTestServer(t)

	codes := make([]int, 0, 10)
	for i := 0; i < 10; i++ {
		codes = append(codes, s.forgotFrom("203.0.113.10:40000", fmt.Sprintf("10.0.0.%d", i)))
	}

	assert.Equal(t, []int{200, 200, 200, 429, 429, 429, 429, 429, 429, 429}, codes)
}

func TestTrustedProxyForwardsClientAddress(t *testing.T) {
	cfg := testConfig()
	cfg.TrustedProxies = []string{"10.0.0.0/8"}
	s := newTestServerWithConfig(t, cfg)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, s.forgotFrom("10.0.0.2:40000", "198.51.100.1"))
	}
	assert.Equal(t, http.StatusTooManyRequests, s.forgotFrom("10.0.0.3:40000", "198.51.100.1"))

	// A different client behind the same proxy has its own budget.
	assert.Equal(t, http.StatusOK, s.forgotFrom("10.0.0.2:40000", "198.51.100.2"))

	// Entries a client prepends itself are not trusted.
	assert.Equal(t, http.StatusTooManyRequests, s.forgotFrom("10.0.0.2:40000", "192.0.2.77, 198.51.100.1"))
}

func TestGenericResponsesDoNotRevealAccounts(t *testing.T) {
	s := newTestServer(t)
	s.activeUser(t, "known@x.com")

	for _, path := range []string{"/api/v1/auth/forgot-password", "/api/v1/auth/resend-verification"} {
		knownStatus, known := s.do(t, http.MethodPost, path, map[string]string{"email": "known@x.com"}, "")
		unknownStatus, unknown := s.do(t, http.MethodPost, path, map[string]string{"email": "unknown@x.com"}, "")
		invalidStatus, invalid := s.do(t, http.MethodPost, path, map[string]string{"email": "not-an-email"}, "")

		assert.Equal(t, http.StatusOK, knownStatus, path)
		assert.Equal(t, knownStatus, unknownStatus, path)
		assert.Equal(t, knownStatus, invalidStatus, path)
		assert.Equal(t, known, unknown, path)
		assert.Equal(t, known, invalid, path)
	}

	assert.Equal(t, 1, s.outbox.count(notify.KindPasswordReset))
}

func TestLoginFailuresAreIdentical(t *testing.T) {
	s := newTestServer(t)
	s.activeUser(t, "a@x.com")

	wrongStatus, wrong := s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "a@x.com", "password": "Wrong1!pass"}, "")
	unknownStatus, unknown := s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "b@x.com", "password": password}, "")

	assert.Equal(t, http.StatusUnauthorized, wrongStatus)
	assert.Equal(t, wrongStatus, unknownStatus)
	assert.Equal(t, wrong, unknown)
}

func TestPasswordResetRevokesSessions(t *testing.T) {
	s := newTestServer(t)
	session := s.activeUser(t, "a@x.com")

	status, _ := s.do(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": "a@x.com"}, "")
	require.Equal(t, http.StatusOK, status)

	reset := map[string]string{
		"token":           s.outbox.lastToken(t, notify.KindPasswordReset),
		"newPassword":     "N3w!Password",
		"confirmPassword": "N3w!Password",
	}
	status, env := s.do(t, http.MethodPost, "/api/v1/auth/reset-password", reset, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Password reset successful. Please log in with your new password.", env.Message)

	status, _ = s.do(t, http.MethodPost, "/api/v1/auth/refresh-token", map[string]string{"refreshToken": session.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env = s.do(t, http.MethodPost, "/api/v1/auth/reset-password", reset, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_TOKEN", env.Error.Code)

	s.login(t, "a@x.com", "N3w!Password")
}

func TestProfileAndChangePassword(t *testing.T) {
	s := newTestServer(t)
	session := s.activeUser(t, "a@x.com")

	status, env := s.do(t, http.MethodGet, "/api/v1/auth/me", nil, session.AccessToken)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "a@x.com", decodeData[struct {
		User model.SafeUser `json:"user"`
	}](t, env).User.Email)

	status, env = s.do(t, http.MethodPatch, "/api/v1/auth/me", map[string]any{"firstName": "Lerato", "role": "admin"}, session.AccessToken)
	require.Equal(t, http.StatusOK, status)
	me := decodeData[struct {
		User model.SafeUser `json:"user"`
	}](t, env).User
	assert.Equal(t, "Lerato", me.FirstName)
	assert.Equal(t, model.RoleFarmer, me.Role)

	status, env = s.do(t, http.MethodPatch, "/api/v1/auth/me", map[string]any{"phone": "123"}, session.AccessToken)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Contains(t, string(env.Error.Details), `"phone"`)

	change := map[string]string{"currentPassword": "Wrong1!pass", "newPassword": "N3w!Password", "confirmPassword": "N3w!Password"}
	status, _ = s.do(t, http.MethodPost, "/api/v1/auth/change-password", change, session.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, status)

	change["currentPassword"] = password
	status, env = s.do(t, http.MethodPost, "/api/v1/auth/change-password", change, session.AccessToken)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Password changed successfully", env.Message)

	status, _ = s.do(t, http.MethodPost, "/api/v1/auth/refresh-token", map[string]string{"refreshToken": session.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRegisterErrors(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodPost, "/api/v1/auth/register", registerBody("a@x.com"), "")
	require.Equal(t, http.StatusCreated, status, env.Error)

	status, env = s.do(t, http.MethodPost, "/api/v1/auth/register", registerBody("A@X.com"), "")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "CONFLICT", env.Error.Code)

	body := registerBody("c@x.com")
	body["password"] = "weak"
	status, env = s.do(t, http.MethodPost, "/api/v1/auth/register", body, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid JSON body")
}

func TestAdminEndpoints(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	farmer := s.activeUser(t, "farmer@x.com")
	require.NoError(t, s.service.EnsureAdmin(ctx, "admin@x.com", "Adm1n!Pass"))
	admin := s.login(t, "admin@x.com", "Adm1n!Pass")

	path := "/api/v1/admin/users/" + farmer.User.ID

	status, env := s.do(t, http.MethodGet, path, nil, farmer.AccessToken)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Insufficient permissions", env.Error.Message)

	status, _ = s.do(t, http.MethodGet, path, nil, admin.AccessToken)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(t, http.MethodGet, "/api/v1/admin/users/missing", nil, admin.AccessToken)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, http.MethodPatch, path+"/status", map[string]any{"isBlocked": true, "blockedReason": "stock theft"}, admin.AccessToken)
	require.Equal(t, http.StatusOK, status)

	status, env = s.do(t, http.MethodGet, "/api/v1/auth/me", nil, farmer.AccessToken)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "Account disabled", env.Error.Message)

	status, _ = s.do(t, http.MethodPost, "/api/v1/auth/refresh-token", map[string]string{"refreshToken": farmer.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestMissingBearerToken(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodGet, "/api/v1/auth/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Missing token", env.Error.Message)

	status, env = s.do(t, http.MethodGet, "/api/v1/auth/me", nil, "garbage")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid or expired token", env.Error.Message)
}
