// Package lockset implements the Lock Set Coordinator: it drives a group of
// Reservations against a set of lockfiles through the "all first-in-line →
// confirm with an exclusive hold → HELD" cycle, with anti-deadlock
// re-queueing when acquisition stalls partway.
package lockset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/tipi-build/goldilock/internal/clock"
	"github.com/tipi-build/goldilock/internal/correlation"
	"github.com/tipi-build/goldilock/internal/exclusivehold"
	"github.com/tipi-build/goldilock/internal/filelock"
	"github.com/tipi-build/goldilock/internal/loggingutil"
	"github.com/tipi-build/goldilock/internal/reservation"
	"github.com/tipi-build/goldilock/internal/spotscan"
	"pkt.systems/pslog"
)

// Defaults mirror the protocol's stated tick cadence and stall window.
const (
	DefaultTickInterval    = 100 * time.Millisecond
	DefaultRefreshInterval = 2 * time.Second
	DefaultHoldTimeout     = 50 * time.Millisecond
	DefaultStallThreshold  = 300 // ticks, ~30s at the default tick interval
	DefaultLifetime        = 60 * time.Second
)

// Config tunes a Coordinator's timing and dependencies. Zero values take
// the protocol defaults.
type Config struct {
	Clock           clock.Clock
	Logger          pslog.Logger
	FileCache       *filelock.Cache
	Lifetime        time.Duration
	TickInterval    time.Duration
	RefreshInterval time.Duration
	HoldTimeout     time.Duration
	StallThreshold  int

	// OnTick, if set, is invoked once per acquisition-loop survey. It exists
	// so an ambient metrics recorder can observe acquisition activity
	// without the core depending on any particular metrics library.
	OnTick func()
}

func (c *Config) setDefaults() {
	if c.Clock == nil {
		c.Clock = clock.Real{}
	}
	if c.Lifetime <= 0 {
		c.Lifetime = DefaultLifetime
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.HoldTimeout <= 0 {
		c.HoldTimeout = DefaultHoldTimeout
	}
	if c.StallThreshold <= 0 {
		c.StallThreshold = DefaultStallThreshold
	}
}

// ErrLogicViolation marks an internal invariant break (e.g. a refresh
// attempted on a reservation that never became owned). Tested code must
// never trigger this; it signals an implementation bug, not a runtime
// condition.
type ErrLogicViolation struct {
	Path string
	Err  error
}

func (e *ErrLogicViolation) Error() string {
	return fmt.Sprintf("lockset: logic violation on %s: %v", e.Path, e.Err)
}

func (e *ErrLogicViolation) Unwrap() error { return e.Err }

type member struct {
	path string
	res  *reservation.Reservation
	hold *exclusivehold.Hold
}

// Handle represents a held Lock Set. The critical section protected by the
// caller-supplied paths may run for as long as the Handle is not released;
// Release is idempotent.
type Handle struct {
	coordinator *Coordinator
	mu          sync.Mutex
	released    bool
	lostCh      chan error
}

// Lost returns a channel that receives at most one error if the background
// refresher discovers the hold has been lost (e.g. a spot vanished out from
// under a reservation believed HELD). The channel is never closed; an
// ordinary Release never sends on it.
func (h *Handle) Lost() <-chan error {
	return h.lostCh
}

// Release unwinds the Lock Set: it stops the refresher, drops every
// Exclusive Hold, and deletes every spot file, independently and
// best-effort. Safe to call more than once.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	h.mu.Unlock()
	h.coordinator.release()
}

// Coordinator drives acquisition, hold, and release over one Lock Set.
type Coordinator struct {
	cfg     Config
	logger  pslog.Logger
	members []*member

	refresherDone chan struct{}
	refresherStop chan struct{}
	dirWatch      *spotscan.DirWatch

	releaseOnce sync.Once
	unwindOnce  sync.Once
}

// Acquire blocks until every lockfile in paths is simultaneously and
// exclusively reserved, or until ctx is cancelled. On success it returns a
// Handle whose Release drops every reservation and hold. On cancellation it
// returns ctx.Err() (ordinarily context.Canceled), which callers should
// treat as a non-error outcome rather than a failure to diagnose.
func Acquire(ctx context.Context, paths []string, cfg Config) (*Handle, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("lockset: no lockfile paths given")
	}
	cfg.setDefaults()
	logger := loggingutil.WithSubsystem(cfg.Logger, "lock.coordinator").With("run", correlation.Generate())

	c := &Coordinator{cfg: cfg, logger: logger}
	scanner := spotscan.New(spotscan.Config{Lifetime: cfg.Lifetime, Clock: cfg.Clock, Logger: cfg.Logger})
	logNFSDiagnostics(logger, paths)

	for _, path := range paths {
		res, err := reservation.New(ctx, path, reservation.Config{
			Clock:    cfg.Clock,
			Scanner:  scanner,
			Logger:   cfg.Logger,
			Lifetime: cfg.Lifetime,
		})
		if err != nil {
			c.releaseReservationsOnly()
			return nil, err
		}
		c.members = append(c.members, &member{path: path, res: res})
	}

	c.dirWatch = spotscan.Watch(paths, cfg.Logger)

	acquireErr := c.acquireLoop(ctx)
	c.dirWatch.Close()
	if acquireErr != nil {
		c.releaseReservationsOnly()
		return nil, acquireErr
	}

	handle := &Handle{coordinator: c, lostCh: make(chan error, 1)}
	c.startRefresher(handle)
	return handle, nil
}

// logNFSDiagnostics logs, once per distinct directory among paths, whether
// that directory appears to be NFS-mounted. fcntl advisory locks are
// unreliable over NFS on several kernel/server combinations, so a reader
// debugging a stuck acquisition benefits from knowing this up front instead
// of guessing from symptoms.
func logNFSDiagnostics(logger pslog.Logger, paths []string) {
	seen := make(map[string]bool, len(paths))
	for _, path := range paths {
		dir := filepath.Dir(path)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if filelock.IsNFS(dir) {
			logger.Warn("lock.coordinator.nfs_detected", "dir", dir)
		}
	}
}

func (c *Coordinator) releaseReservationsOnly() {
	for _, m := range c.members {
		m.res.Release()
	}
}

func (c *Coordinator) acquireLoop(ctx context.Context) error {
	stall := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.cfg.OnTick != nil {
			c.cfg.OnTick()
		}

		k := 0
		for _, m := range c.members {
			first, err := m.res.IsFirst()
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return err
				}
				c.logger.Warn("lock.coordinator.survey_error", "path", m.path, "error", err)
				continue
			}
			if first {
				k++
			}
		}

		if k == len(c.members) {
			ok, err := c.attemptHold()
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
			stall = 0
		} else if k > 0 {
			stall++
		}

		if stall > c.cfg.StallThreshold {
			c.logger.Warn("lock.coordinator.anti_deadlock_requeue", "stall_ticks", stall)
			for _, m := range c.members {
				if err := m.res.Reacquire(ctx); err != nil {
					return err
				}
			}
			stall = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.dirWatch.Wake():
		case <-c.cfg.Clock.After(c.cfg.TickInterval):
		}
	}
}

// attemptHold tries to take the Exclusive Hold on every member's lockfile,
// sequentially. If any attempt fails or times out, every hold acquired in
// this pass is released before returning (false, nil), leaving the
// acquisition loop to retry on the next tick.
func (c *Coordinator) attemptHold() (bool, error) {
	acquired := make([]*member, 0, len(c.members))
	for _, m := range c.members {
		hold, err := exclusivehold.New(m.path, c.cfg.FileCache)
		if err != nil {
			c.releasePartialHolds(acquired)
			return false, err
		}
		ok, err := hold.TryHold(c.cfg.HoldTimeout)
		if err != nil {
			hold.Close()
			c.releasePartialHolds(acquired)
			return false, err
		}
		if !ok {
			hold.Close()
			c.releasePartialHolds(acquired)
			return false, nil
		}
		m.hold = hold
		acquired = append(acquired, m)
	}
	return true, nil
}

func (c *Coordinator) releasePartialHolds(acquired []*member) {
	for _, m := range acquired {
		m.hold.Close()
		m.hold = nil
	}
}

func (c *Coordinator) startRefresher(handle *Handle) {
	c.refresherStop = make(chan struct{})
	c.refresherDone = make(chan struct{})
	go func() {
		defer close(c.refresherDone)
		for {
			select {
			case <-c.refresherStop:
				return
			case <-c.cfg.Clock.After(c.cfg.RefreshInterval):
			}
			for _, m := range c.members {
				if err := m.res.Refresh(); err != nil {
					c.logger.Error("lock.coordinator.refresh_lost", "path", m.path, "error", err)
					c.unwind()
					select {
					case handle.lostCh <- err:
					default:
					}
					return
				}
			}
		}
	}()
}

// release stops the refresher and unwinds the lock set: every Exclusive
// Hold is dropped and every spot file is removed. Safe to call more than
// once, and safe to call after the refresher has already unwound on a
// detected loss.
func (c *Coordinator) release() {
	c.releaseOnce.Do(func() {
		if c.refresherStop != nil {
			close(c.refresherStop)
			<-c.refresherDone
		}
	})
	c.unwind()
}

func (c *Coordinator) unwind() {
	c.unwindOnce.Do(func() {
		for _, m := range c.members {
			if m.hold != nil {
				m.hold.Close()
				m.hold = nil
			}
		}
		for _, m := range c.members {
			m.res.Release()
		}
	})
}
