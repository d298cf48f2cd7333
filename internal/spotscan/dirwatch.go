package spotscan

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"pkt.systems/pslog"

	"github.com/tipi-build/goldilock/internal/loggingutil"
)

// DirWatch wakes up the acquisition loop on writes to the directories
// containing a Lock Set's lockfiles, so the Coordinator can re-survey
// immediately instead of always waiting out the tick interval. It is a
// pure latency optimization: the tick-based poll remains the source of
// truth, and when fsnotify can't watch a directory (no inotify support,
// too many watches) this degrades silently to no early wakeup at all.
type DirWatch struct {
	watchers  []*fsnotify.Watcher
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Watch starts watching the parent directory of every path in paths,
// deduplicated. Directories that fail to watch are skipped silently. The
// returned DirWatch is always non-nil and safe to use even when every
// directory failed to watch (Wake then simply never fires).
func Watch(paths []string, logger pslog.Logger) *DirWatch {
	log := loggingutil.EnsureLogger(logger)
	dw := &DirWatch{wake: make(chan struct{}, 1), done: make(chan struct{})}

	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		dir := filepath.Dir(p)
		if seen[dir] {
			continue
		}
		seen[dir] = true

		w, err := fsnotify.NewWatcher()
		if err != nil {
			log.Debug("spotscan.watch_unavailable", "dir", dir, "error", err)
			continue
		}
		if err := w.Add(dir); err != nil {
			log.Debug("spotscan.watch_add_failed", "dir", dir, "error", err)
			w.Close()
			continue
		}
		dw.watchers = append(dw.watchers, w)
		go dw.pump(w)
	}
	return dw
}

func (dw *DirWatch) pump(w *fsnotify.Watcher) {
	for {
		select {
		case <-dw.done:
			return
		case _, ok := <-w.Events:
			if !ok {
				return
			}
			select {
			case dw.wake <- struct{}{}:
			default:
			}
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}

// Wake returns a channel that receives a value whenever a watched
// directory changes, coalesced to at most one pending wakeup. Safe to
// call on a nil *DirWatch, which returns a nil channel and so simply
// never fires in a select.
func (dw *DirWatch) Wake() <-chan struct{} {
	if dw == nil {
		return nil
	}
	return dw.wake
}

// Close stops every underlying watcher. Safe to call more than once, or
// on a nil *DirWatch.
func (dw *DirWatch) Close() {
	if dw == nil {
		return
	}
	dw.closeOnce.Do(func() {
		close(dw.done)
		for _, w := range dw.watchers {
			w.Close()
		}
	})
}
