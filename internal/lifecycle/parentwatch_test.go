package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/tipi-build/goldilock/internal/clock"
	"github.com/tipi-build/goldilock/internal/lifecycle"
)

func TestWatchParentDoesNotCancelWhileParentAlive(t *testing.T) {
	t.Parallel()

	watchCtx, cancel, err := lifecycle.WatchParent(context.Background(), lifecycle.ParentWatchConfig{
		Clock:        clock.Real{},
		PollInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("WatchParent: %v", err)
	}
	defer cancel()

	select {
	case <-watchCtx.Done():
		t.Fatal("expected watch context to remain live while parent process is unchanged")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatchParentStopsWhenParentContextCancelled(t *testing.T) {
	t.Parallel()

	parentCtx, parentCancel := context.WithCancel(context.Background())
	watchCtx, _, err := lifecycle.WatchParent(parentCtx, lifecycle.ParentWatchConfig{
		Clock:        clock.Real{},
		PollInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("WatchParent: %v", err)
	}
	parentCancel()

	select {
	case <-watchCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected watch context to be cancelled once its parent context is cancelled")
	}
}
