package exclusivehold_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/tipi-build/goldilock/internal/exclusivehold"
	"github.com/tipi-build/goldilock/internal/filelock"
)

func TestTryHoldSucceedsWhenUncontended(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "foo.lock")
	cache := filelock.NewCache(8)
	defer cache.Close()

	h, err := exclusivehold.New(path, cache)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer h.Close()

	ok, err := h.TryHold(exclusivehold.DefaultTimeout)
	if err != nil {
		t.Fatalf("TryHold: %v", err)
	}
	if !ok {
		t.Fatal("expected uncontended TryHold to succeed")
	}
}

func TestTryHoldFailsWhileContended(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "foo.lock")
	cache := filelock.NewCache(8)
	defer cache.Close()

	holder, err := exclusivehold.New(path, cache)
	if err != nil {
		t.Fatalf("New (holder): %v", err)
	}
	defer holder.Close()
	ok, err := holder.TryHold(exclusivehold.DefaultTimeout)
	if err != nil || !ok {
		t.Fatalf("holder TryHold: ok=%v err=%v", ok, err)
	}

	contender, err := exclusivehold.New(path, cache)
	if err != nil {
		t.Fatalf("New (contender): %v", err)
	}
	defer contender.Close()

	ok, err = contender.TryHold(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("TryHold: %v", err)
	}
	if ok {
		t.Fatal("expected contended TryHold to fail")
	}
}

func TestReleaseAllowsAnotherHolder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "foo.lock")
	cache := filelock.NewCache(8)
	defer cache.Close()

	first, err := exclusivehold.New(path, cache)
	if err != nil {
		t.Fatalf("New (first): %v", err)
	}
	ok, err := first.TryHold(exclusivehold.DefaultTimeout)
	if err != nil || !ok {
		t.Fatalf("first TryHold: ok=%v err=%v", ok, err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	first.Close()

	second, err := exclusivehold.New(path, cache)
	if err != nil {
		t.Fatalf("New (second): %v", err)
	}
	defer second.Close()
	ok, err = second.TryHold(exclusivehold.DefaultTimeout)
	if err != nil {
		t.Fatalf("TryHold: %v", err)
	}
	if !ok {
		t.Fatal("expected second holder to succeed after release")
	}
}
