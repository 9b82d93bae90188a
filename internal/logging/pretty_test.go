package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failure struct{ status int }

func (f failure) LogValue() slog.Value {
	return slog.GroupValue(slog.Int("status", f.status), slog.String("body", "rate limited"))
}

func TestNewPrettyHandler(t *testing.T) {
	var buf bytes.Buffer
	handler := NewPrettyHandler(&buf, PrettyHandlerOptions{})

	assert.NotNil(t, handler.Handler, "Expected handler to have a non-nil Handler field")
	assert.NotNil(t, handler.l, "Expected handler to have a non-nil logger field")
}

func TestPrettyHandlerHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("Level, message and attributes", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewPrettyHandler(&buf, PrettyHandlerOptions{})

		record := slog.NewRecord(time.Now(), slog.LevelWarn, "warning message", 0)
		record.AddAttrs(slog.Bool("flag", true), slog.Int("count", 42))
		require.NoError(t, handler.Handle(ctx, record))

		output := buf.String()
		assert.Contains(t, output, "WARN:")
		assert.Contains(t, output, "warning message")
		assert.Contains(t, output, `"flag":true`)
		assert.Contains(t, output, `"count":42`)
		assert.Regexp(t, `\[\d{2}:\d{2}:\d{2}\.\d{3}\]`, output)
	})

	t.Run("No attributes", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewPrettyHandler(&buf, PrettyHandlerOptions{})

		require.NoError(t, handler.Handle(ctx, slog.NewRecord(time.Now(), slog.LevelInfo, "simple message", 0)))
		assert.Contains(t, buf.String(), "{}")
	})

	t.Run("Errors print their message", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewPrettyHandler(&buf, PrettyHandlerOptions{})

		record := slog.NewRecord(time.Now(), slog.LevelError, "error message", 0)
		record.AddAttrs(slog.Any("error", errors.New("something went wrong")))
		require.NoError(t, handler.Handle(ctx, record))

		assert.Contains(t, buf.String(), `"error":"something went wrong"`)
	})

	t.Run("Log valuers are resolved", func(t *testing.T) {
		var buf bytes.Buffer
		handler := NewPrettyHandler(&buf, PrettyHandlerOptions{})

		record := slog.NewRecord(time.Now(), slog.LevelWarn, "request failed", 0)
		record.AddAttrs(slog.Any("failure", failure{status: 429}))
		require.NoError(t, handler.Handle(ctx, record))

		assert.Contains(t, buf.String(), `"failure":{"body":"rate limited","status":429}`)
	})
}

func TestPrettyHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, PrettyHandlerOptions{})).With("repository", "u/r")

	logger.Info("Scanning repository", "issues", 3)

	output := buf.String()
	assert.Contains(t, output, `"repository":"u/r"`)
	assert.Contains(t, output, `"issues":3`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, ParseLevel("warn"))

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
