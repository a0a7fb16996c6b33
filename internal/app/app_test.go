package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livestock-track/internal/config"
)

func memoryConfig() *config.Config {
	return &config.Config{
		ServerPort:           "0",
		ShutdownTimeout:      time.Second,
		RequestTimeout:       5 * time.Second,
		APIVersion:           "v1",
		CORSOrigins:          []string{"*"},
		FrontendURL:          "http://localhost:5173",
		JWTAccessSecret:      "access-secret",
		JWTRefreshSecret:     "refresh-secret",
		JWTAccessTTL:         15 * time.Minute,
		JWTRefreshTTL:        7 * 24 * time.Hour,
		VerificationTokenTTL: 24 * time.Hour,
		ResetTokenTTL:        time.Hour,
		BcryptCost:           4,
		AdminEmail:           "admin@x.com",
		AdminPassword:        "Adm1n!Pass",
		StoreDriver:          config.StoreDriverMemory,
		RevocationDriver:     config.RevocationDriverStore,
		RateLimit: config.RateLimitConfig{
			Driver:         config.RateLimitDriverMemory,
			GeneralRPM:     100,
			LoginMax:       5,
			LoginWindow:    15 * time.Minute,
			RegisterMax:    3,
			RegisterWindow: time.Hour,
			ForgotMax:      3,
			ForgotWindow:   time.Hour,
			ResendMax:      3,
			ResendWindow:   time.Hour,
		},
		Notify: config.NotifyConfig{Transport: config.NotifyTransportLog},
	}
}

func TestNew_MemoryStack(t *testing.T) {
	cfg := memoryConfig()
	require.NoError(t, cfg.Validate())

	a, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(a.cleanup)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"admin@x.com","password":"Adm1n!Pass"}`))
	req.RemoteAddr = "192.0.2.1:1000"
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"accessToken"`)
}

func TestNew_InlineNotifierStartsWorker(t *testing.T) {
	cfg := memoryConfig()
	cfg.Notify = config.NotifyConfig{Transport: config.NotifyTransportInline, BufferSize: 10}
	cfg.SMTP = config.SMTPConfig{Host: "localhost", Port: 2525, From: "LiveStock Track <no-reply@livestocktrack.local>"}

	a, err := New(cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, a.cleanupFuncs)
	a.cleanup()
	assert.Empty(t, a.cleanupFuncs)
}

func TestNew_BadSenderAddress(t *testing.T) {
	cfg := memoryConfig()
	cfg.Notify = config.NotifyConfig{Transport: config.NotifyTransportInline, BufferSize: 10}
	cfg.SMTP = config.SMTPConfig{From: "not an address"}

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notifier")
}
