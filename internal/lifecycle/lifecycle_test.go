package lifecycle_test

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/tipi-build/goldilock/internal/lifecycle"
)

func TestWithSignalCancelCancelsOnSIGTERM(t *testing.T) {
	t.Parallel()

	ctx, cancel := lifecycle.WithSignalCancel(context.Background())
	defer cancel()

	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		t.Fatalf("FindProcess: %v", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		t.Fatalf("Signal: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected context to be cancelled after SIGTERM")
	}
}

func TestWithSignalCancelStopsOnExplicitCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := lifecycle.WithSignalCancel(context.Background())
	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected context to be done after explicit cancel")
	}
}
