// Package filelock wraps the host OS's whole-file advisory locking
// primitives (POSIX fcntl locks on Unix, a no-op stub elsewhere) plus a
// small ref-counted handle cache so repeated lock/unlock cycles against the
// same path do not reopen the file every time.
package filelock

import (
	"os"
	"time"
)

// Cache hands out ref-counted *os.File handles for paths opened with
// create-if-absent, read-write, world-writable permissions (the lockfile
// itself must be shareable across users on multi-user hosts). A bounded LRU
// evicts idle handles once their refcount drops to zero and max is
// exceeded.
type Cache struct {
	inner *lockFileCache
}

// NewCache returns a handle cache that keeps at most max idle handles open.
// max<=0 disables caching: every Acquire/Release pair opens and closes the
// file.
func NewCache(max int) *Cache {
	return &Cache{inner: newLockFileCache(max)}
}

// Handle is a reference to a cached, possibly-locked file.
type Handle struct {
	cache *Cache
	entry *lockFileEntry
	owned *os.File // non-nil only when cache is nil (uncached mode)
	path  string
}

// Acquire opens (creating if absent) the file at path and returns a handle.
// Permission failures while chmod-ing a freshly created file are ignored: a
// racing peer may have created the file first and already owns it.
func (c *Cache) Acquire(path string) (*Handle, error) {
	if c == nil || c.inner == nil {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o666)
		if err != nil {
			return nil, err
		}
		_ = f.Chmod(0o666)
		return &Handle{owned: f, path: path}, nil
	}
	entry, err := c.inner.acquire(path)
	if err != nil {
		return nil, err
	}
	_ = entry.file.Chmod(0o666)
	return &Handle{cache: c, entry: entry, path: path}, nil
}

// Release returns the handle to the cache (or closes it, in uncached mode).
// It does not drop any lock held on the underlying file.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	if h.owned != nil {
		_ = h.owned.Close()
		h.owned = nil
		return
	}
	if h.cache != nil && h.entry != nil {
		h.cache.inner.release(h.entry)
	}
}

// Discard drops the handle from the cache entirely and closes it,
// regardless of other outstanding references. Use this after an I/O error
// that may have left the underlying file descriptor in a bad state.
func (h *Handle) Discard() {
	if h == nil {
		return
	}
	if h.owned != nil {
		_ = h.owned.Close()
		h.owned = nil
		return
	}
	if h.cache != nil && h.entry != nil {
		h.cache.inner.discard(h.entry)
	}
}

func (h *Handle) file() *os.File {
	if h.owned != nil {
		return h.owned
	}
	if h.entry != nil {
		return h.entry.file
	}
	return nil
}

// TryLock attempts the exclusive whole-file advisory lock, polling until it
// succeeds or timeout elapses.
func (h *Handle) TryLock(timeout time.Duration) (bool, error) {
	f := h.file()
	if f == nil {
		return false, os.ErrClosed
	}
	return tryLockFile(f, timeout)
}

// Lock blocks until the exclusive lock is acquired.
func (h *Handle) Lock() error {
	f := h.file()
	if f == nil {
		return os.ErrClosed
	}
	return lockFile(f)
}

// Unlock releases the exclusive lock.
func (h *Handle) Unlock() error {
	f := h.file()
	if f == nil {
		return nil
	}
	return unlockFile(f)
}

// Close closes the cache and every file it holds open, including handles
// that still have outstanding references.
func (c *Cache) Close() {
	if c == nil || c.inner == nil {
		return
	}
	c.inner.close()
}

// IsNFS reports whether the filesystem backing root appears to be NFS-
// mounted. Detection is best-effort; an inconclusive result returns false,
// matching spec guidance to default to the common case rather than refuse
// to run on an unrecognized filesystem.
func IsNFS(root string) bool {
	return isNFS(root)
}

// Sync flushes file content to stable storage, using fdatasync where the
// platform supports it (which skips metadata not needed to read the data
// back, such as timestamps).
func Sync(f *os.File) error {
	return syncFile(f)
}
