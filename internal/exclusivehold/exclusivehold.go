// Package exclusivehold implements the short-duration whole-file advisory
// lock taken on a lockfile itself once a Reservation believes it is
// first-in-line. It exists to defend against a stale first-in-line spot
// record whose owner crashed before the record expired, and against
// filesystems where spot-file semantics alone are weaker than a whole-file
// lock.
package exclusivehold

import (
	"fmt"
	"time"

	"github.com/tipi-build/goldilock/internal/filelock"
)

// DefaultTimeout is the bound used to confirm ownership once first-in-line.
const DefaultTimeout = 50 * time.Millisecond

// Hold is a whole-file advisory exclusive lock on one lockfile path.
type Hold struct {
	path   string
	cache  *filelock.Cache
	handle *filelock.Handle
	held   bool
}

// New ensures the lockfile at path exists (creating it with permissions
// that permit cross-user sharing on multi-user hosts) and returns a Hold
// ready to attempt acquisition. cache may be nil to open the file
// uncached.
func New(path string, cache *filelock.Cache) (*Hold, error) {
	handle, err := cache.Acquire(path)
	if err != nil {
		return nil, fmt.Errorf("exclusivehold: open %s: %w", path, err)
	}
	return &Hold{path: path, cache: cache, handle: handle}, nil
}

// TryHold attempts to take the exclusive lock within timeout, polling
// rather than blocking indefinitely. A false return with a nil error means
// the lock is currently held by someone else; it is not a failure.
func (h *Hold) TryHold(timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ok, err := h.handle.TryLock(timeout)
	if err != nil {
		return false, fmt.Errorf("exclusivehold: try-lock %s: %w", h.path, err)
	}
	h.held = ok
	return ok, nil
}

// Release drops the advisory lock if held. Safe to call when not held.
func (h *Hold) Release() error {
	if h == nil || !h.held {
		return nil
	}
	h.held = false
	if err := h.handle.Unlock(); err != nil {
		return fmt.Errorf("exclusivehold: unlock %s: %w", h.path, err)
	}
	return nil
}

// Close releases the lock if held and returns the file handle to its cache.
// After Close the Hold must not be reused.
func (h *Hold) Close() {
	if h == nil {
		return
	}
	_ = h.Release()
	if h.handle != nil {
		h.handle.Release()
		h.handle = nil
	}
}
