package filelock

import (
	"container/list"
	"os"
	"sync"
)

// lockFileEntry is one open *os.File shared by every in-process holder of
// the same lockfile path, kept alive by a reference count so the advisory
// lock underneath it (which is per-fd on some platforms, per-process on
// others) isn't dropped out from under a still-active holder.
type lockFileEntry struct {
	path string
	file *os.File
	refs int
	elem *list.Element
}

// lockFileCache bounds how many distinct lockfile descriptors a single
// goldilock process keeps open at once. Entries with refs==0 sit on an LRU
// list and are the only ones eligible for eviction; a nil receiver is a
// valid, unbounded cache (every call on it is a no-op/pass-through).
type lockFileCache struct {
	max     int
	mu      sync.Mutex
	entries map[string]*lockFileEntry
	lru     *list.List
}

// newLockFileCache returns a cache capped at max open descriptors, or nil
// when max<=0 (no bound, no sharing).
func newLockFileCache(max int) *lockFileCache {
	if max <= 0 {
		return nil
	}
	return &lockFileCache{
		max:     max,
		entries: make(map[string]*lockFileEntry),
		lru:     list.New(),
	}
}

// acquire returns the cached entry for path, opening it if this is the
// first reference, and removes it from the LRU eviction list while it's in
// use.
func (c *lockFileCache) acquire(path string) (*lockFileEntry, error) {
	if c == nil {
		return nil, nil
	}
	if entry := c.pin(path); entry != nil {
		return entry, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return nil, err
	}
	if entry := c.pin(path); entry != nil {
		_ = f.Close()
		return entry, nil
	}

	c.mu.Lock()
	entry := &lockFileEntry{path: path, file: f, refs: 1}
	c.entries[path] = entry
	c.mu.Unlock()
	return entry, nil
}

// pin bumps refs on an already-cached entry for path and unlists it from
// the LRU, or reports nil if no entry exists yet.
func (c *lockFileCache) pin(path string) *lockFileEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.entries[path]
	if entry == nil {
		return nil
	}
	entry.refs++
	if entry.elem != nil {
		c.lru.Remove(entry.elem)
		entry.elem = nil
	}
	return entry
}

// release drops one reference on entry, parking it on the LRU list once
// unreferenced, and closes whatever that eviction displaces.
func (c *lockFileCache) release(entry *lockFileEntry) {
	if c == nil || entry == nil {
		return
	}
	c.mu.Lock()
	if entry.refs > 0 {
		entry.refs--
	}
	if entry.refs == 0 && entry.elem == nil {
		entry.elem = c.lru.PushFront(entry)
	}
	evicted := c.evictLocked()
	c.mu.Unlock()
	closeAll(evicted)
}

// discard removes entry from the cache unconditionally and closes its
// descriptor, used when the entry's lock state can no longer be trusted
// (e.g. the file was deleted out from under it).
func (c *lockFileCache) discard(entry *lockFileEntry) {
	if c == nil || entry == nil {
		return
	}
	c.mu.Lock()
	if entry.elem != nil {
		c.lru.Remove(entry.elem)
		entry.elem = nil
	}
	delete(c.entries, entry.path)
	file := entry.file
	entry.file = nil
	entry.refs = 0
	c.mu.Unlock()
	closeAll([]*os.File{file})
}

// close drops every entry and closes every descriptor the cache holds.
func (c *lockFileCache) close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	files := make([]*os.File, 0, len(c.entries))
	for _, entry := range c.entries {
		files = append(files, entry.file)
	}
	c.entries = make(map[string]*lockFileEntry)
	c.lru.Init()
	c.mu.Unlock()
	closeAll(files)
}

// evictLocked drops least-recently-released entries until the cache is
// back at or under max. Caller must hold c.mu.
func (c *lockFileCache) evictLocked() []*os.File {
	if c == nil || c.max <= 0 {
		return nil
	}
	var evicted []*os.File
	for c.lru.Len() > c.max {
		back := c.lru.Back()
		if back == nil {
			break
		}
		entry := back.Value.(*lockFileEntry)
		c.lru.Remove(back)
		entry.elem = nil
		delete(c.entries, entry.path)
		if entry.file != nil {
			evicted = append(evicted, entry.file)
			entry.file = nil
		}
	}
	return evicted
}

func closeAll(files []*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
