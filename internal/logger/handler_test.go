package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" warn "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestPrettyHandler(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, "pretty", "info")

	log.Debug("hidden")
	log.With("user_id", "u1").WithGroup("mail").Info("notification not dispatched", "kind", "verification", "link", "http://x/verify?token=abc")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "notification not dispatched")
	assert.Contains(t, out, "user_id")
	assert.Contains(t, out, "mail.kind")
	assert.Contains(t, out, redacted)
	assert.NotContains(t, out, "token=abc")
}

func TestJSONHandlerRedacts(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, "json", "debug")
	log.Debug("login", "password", "Str0ng!Pass", "email", "a@x.com")

	assert.Contains(t, buf.String(), `"password":"[REDACTED]"`)
	assert.Contains(t, buf.String(), `"email":"a@x.com"`)
	assert.NotContains(t, buf.String(), "Str0ng!Pass")
}

func TestPrettyHandlerNilLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(NewPrettyHandler(&buf, nil))
	log.Debug("skipped")
	log.Info("kept")

	assert.NotContains(t, buf.String(), "skipped")
	assert.Contains(t, buf.String(), "kept")
}
