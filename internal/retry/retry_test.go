package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-verify/internal/logging"
)

type transientError struct{}

func (transientError) Error() string   { return "transient" }
func (transientError) Timeout() bool   { return true }
func (transientError) Temporary() bool { return true }

var fastPolicy = Policy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func TestDoRetriesTransientErrors(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy, zap.NewNop(), "cache.set", "req-1", func() error {
		attempts++
		if attempts < 3 {
			return transientError{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy, zap.NewNop(), "cache.set", "req-2", func() error {
		attempts++
		return errors.New("wrongtype")
	})
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "cache.set" || opErr.RequestID != "req-2" {
		t.Fatalf("unexpected operation error: %+v", opErr)
	}
}

func TestDoGivesUpAfterAttempts(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastPolicy, zap.NewNop(), "db.save", "", func() error {
		attempts++
		return transientError{}
	})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != fastPolicy.Attempts {
		t.Fatalf("expected %d attempts, got %d", fastPolicy.Attempts, attempts)
	}
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := Policy{Attempts: 3, InitialBackoff: time.Hour, MaxBackoff: time.Hour}

	err := Do(ctx, slow, zap.NewNop(), "db.save", "req", func() error {
		cancel()
		return transientError{}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) {
		t.Fatal("nil must not be transient")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Fatal("deadline must be transient")
	}
	if IsTransient(errors.New("boom")) {
		t.Fatal("plain error must not be transient")
	}
}
