// Package spotscan enumerates and validates the Spot Records belonging to
// a lockfile, discarding anything expired or unparsable along the way.
package spotscan

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tipi-build/goldilock/internal/clock"
	"github.com/tipi-build/goldilock/internal/loggingutil"
	"github.com/tipi-build/goldilock/internal/spotfile"
	"pkt.systems/pslog"
)

// View is an immutable, possibly-stale snapshot of a Spot Record read from
// disk. It never aliases a live Reservation's state.
type View struct {
	Path      string
	SpotIndex int
	Token     string
	Timestamp time.Time
}

// Config controls scan behaviour.
type Config struct {
	// Lifetime is the maximum age a record may have before it is considered
	// expired and eligible for cleanup. Zero uses the default (60s).
	Lifetime time.Duration
	Clock    clock.Clock
	Logger   pslog.Logger
}

// Scanner surveys the Spot Records for one lockfile.
type Scanner struct {
	cfg Config
}

// New constructs a Scanner. A zero Config is valid and uses defaults.
func New(cfg Config) *Scanner {
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = 60 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	cfg.Logger = loggingutil.WithSubsystem(cfg.Logger, "lock.scan")
	return &Scanner{cfg: cfg}
}

// Scan lists the Spot Records for the lockfile at lockfilePath. Expired or
// malformed records are removed on a best-effort basis and excluded from
// the result. A directory-listing failure (e.g. the lockfile's directory no
// longer exists) is returned as an error, per spec: this is treated as
// fatal rather than silently swallowed, since there is no sensible way to
// hold a spot in a directory that does not exist.
func (s *Scanner) Scan(lockfilePath string) (map[string]View, error) {
	dir := filepath.Dir(lockfilePath)
	name := filepath.Base(lockfilePath)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("spotscan: list %s: %w", dir, err)
	}

	now := s.cfg.Clock.Now()
	result := make(map[string]View, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		filename := entry.Name()
		idx, ok := spotfile.ParseIndex(name, filename)
		if !ok {
			continue
		}
		path := filepath.Join(dir, filename)
		view, expired, ok := s.readOne(path, idx, now)
		if !ok {
			continue
		}
		if expired {
			s.removeBestEffort(path, "expired")
			continue
		}
		result[path] = view
	}
	return result, nil
}

func (s *Scanner) readOne(path string, idx int, now time.Time) (View, bool, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Deleted between listdir and open: not an error, just absent.
		return View{}, false, false
	}
	rec, err := spotfile.DecodeBytes(data)
	if err != nil {
		s.cfg.Logger.Warn("lock.scan.corrupt_spot", "path", path, "error", err)
		s.removeBestEffort(path, "corrupt")
		return View{}, false, false
	}
	return View{
		Path:      path,
		SpotIndex: idx,
		Token:     rec.Token,
		Timestamp: rec.Time(),
	}, rec.Expired(now, s.cfg.Lifetime), true
}

func (s *Scanner) removeBestEffort(path string, reason string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.cfg.Logger.Warn("lock.scan.cleanup_failed", "path", path, "reason", reason, "error", err)
	}
}

// MaxIndex returns the highest spot index present in views, or -1 if empty.
func MaxIndex(views map[string]View) int {
	max := -1
	for _, v := range views {
		if v.SpotIndex > max {
			max = v.SpotIndex
		}
	}
	return max
}

// LowestFirst returns the View with the smallest spot index, and true if
// views is non-empty.
func LowestFirst(views map[string]View) (View, bool) {
	first := View{}
	found := false
	for _, v := range views {
		if !found || v.SpotIndex < first.SpotIndex {
			first = v
			found = true
		}
	}
	return first, found
}
