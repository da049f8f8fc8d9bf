package logging

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/face-verify/internal/config"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(config.LogConfig{Level: "chatty"})
	require.Error(t, err)
}

func TestNewLoggerWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "face-verify.log")
	logger, err := NewLogger(config.LogConfig{
		Level:        "info",
		File:         path,
		MaxAge:       time.Hour,
		RotationTime: time.Hour,
	})
	require.NoError(t, err)

	logger.Info("hello")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"hello"`)
	require.Contains(t, string(data), `"timestamp"`)
}

func TestOperationErrorFormatting(t *testing.T) {
	base := errors.New("boom")

	err := NewOperationError("usecase.save_log", "req-1", base)
	require.EqualError(t, err, "usecase.save_log (request_id=req-1): boom")
	require.ErrorIs(t, err, base)

	err = NewOperationError("uploads.save", "", base)
	require.EqualError(t, err, "uploads.save: boom")

	require.NoError(t, NewOperationError("noop", "req", nil))
}

func TestFailedOperation(t *testing.T) {
	err := NewOperationError("uploads.save", "req", errors.New("disk full"))
	wrapped := NewOperationError("usecase.verify_images", "req", err)

	require.Equal(t, "usecase.verify_images", FailedOperation(wrapped))
	require.Equal(t, "", FailedOperation(errors.New("plain")))
}
