// Package reservation implements the Reservation Manager: the in-process
// owner of exactly one live Spot Record on a single lockfile.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/tipi-build/goldilock/internal/clock"
	"github.com/tipi-build/goldilock/internal/filelock"
	"github.com/tipi-build/goldilock/internal/identity"
	"github.com/tipi-build/goldilock/internal/loggingutil"
	"github.com/tipi-build/goldilock/internal/spotfile"
	"github.com/tipi-build/goldilock/internal/spotscan"
	"pkt.systems/pslog"
)

// ErrNotOwned is returned by Refresh if called on a Reservation that holds
// no spot; this indicates a logic error in the caller and must not occur in
// tested code.
var ErrNotOwned = fmt.Errorf("reservation: operation attempted on a non-owned reservation")

// Config tunes a Reservation's dependencies. All fields are optional.
type Config struct {
	Clock      clock.Clock
	Scanner    *spotscan.Scanner
	Logger     pslog.Logger
	Lifetime   time.Duration
	RetryDelay time.Duration
}

// Reservation is the in-process owner of one spot on one lockfile.
type Reservation struct {
	lockfilePath string
	dir          string
	filename     string
	token        string

	currentSpotPath string
	spotIndex       int
	owned           bool

	clock      clock.Clock
	scanner    *spotscan.Scanner
	logger     pslog.Logger
	retryDelay time.Duration
}

// New constructs a Reservation for lockfilePath and blocks until it has
// written a spot record, retrying transient filesystem errors indefinitely.
// A missing lockfile directory is not retried: that error is returned at
// once. ctx cancellation aborts the retry loop and returns ctx.Err().
func New(ctx context.Context, lockfilePath string, cfg Config) (*Reservation, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = 60 * time.Second
	}
	if cfg.Scanner == nil {
		cfg.Scanner = spotscan.New(spotscan.Config{Lifetime: cfg.Lifetime, Clock: cfg.Clock, Logger: cfg.Logger})
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	r := &Reservation{
		lockfilePath: lockfilePath,
		dir:          filepath.Dir(lockfilePath),
		filename:     filepath.Base(lockfilePath),
		token:        identity.New(),
		clock:        cfg.Clock,
		scanner:      cfg.Scanner,
		logger:       loggingutil.WithSubsystem(cfg.Logger, "lock.reservation"),
		retryDelay:   cfg.RetryDelay,
	}
	if err := r.reacquire(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Token returns the reservation's binding token.
func (r *Reservation) Token() string { return r.token }

// LockfilePath returns the lockfile this reservation is queued against.
func (r *Reservation) LockfilePath() string { return r.lockfilePath }

// SpotPath returns the current on-disk spot record path.
func (r *Reservation) SpotPath() string { return r.currentSpotPath }

// Reacquire forgets the current spot (best-effort delete) and queues a new
// one at the back of the line. Filesystem errors are retried indefinitely
// until ctx is done, except a missing lockfile directory, which is returned
// at once.
func (r *Reservation) Reacquire(ctx context.Context) error {
	return r.reacquire(ctx)
}

func (r *Reservation) reacquire(ctx context.Context) error {
	if r.currentSpotPath != "" {
		_ = os.Remove(r.currentSpotPath)
		r.currentSpotPath = ""
		r.owned = false
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, index, err := r.tryClaimNextSpot()
		if err == nil {
			r.currentSpotPath = path
			r.spotIndex = index
			r.owned = true
			return nil
		}
		if _, ok := err.(raceError); ok {
			continue
		}
		if errors.Is(err, fs.ErrNotExist) {
			return err
		}
		r.logger.Warn("lock.reservation.reacquire_retry", "lockfile", r.lockfilePath, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(r.retryDelay):
		}
	}
}

// raceError marks a recoverable loss of a race for a spot index; the caller
// retries immediately without the backoff delay used for real I/O errors.
type raceError struct{ reason string }

func (e raceError) Error() string { return "reservation: race: " + e.reason }

func (r *Reservation) tryClaimNextSpot() (string, int, error) {
	views, err := r.scanner.Scan(r.lockfilePath)
	if err != nil {
		return "", 0, err
	}
	index := spotscan.MaxIndex(views) + 1

	now := r.clock.Now()
	rec := spotfile.New(r.token, now)
	data, err := spotfile.EncodeBytes(rec)
	if err != nil {
		return "", 0, err
	}

	path := filepath.Join(r.dir, spotfile.FileName(r.filename, index))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o666)
	if err != nil {
		if os.IsExist(err) {
			return "", 0, raceError{reason: "spot index already claimed"}
		}
		return "", 0, err
	}
	_, werr := f.Write(data)
	if werr == nil {
		// A spot record is the only evidence of this reservation's place in
		// line; flush it before the readback below so a crash right after
		// claiming a spot doesn't leave a record the directory entry points
		// to but the disk never actually committed.
		werr = filelock.Sync(f)
	}
	cerr := f.Close()
	if werr != nil {
		_ = os.Remove(path)
		return "", 0, werr
	}
	if cerr != nil {
		_ = os.Remove(path)
		return "", 0, cerr
	}

	readback, err := os.ReadFile(path)
	if err != nil {
		return "", 0, raceError{reason: "readback failed: " + err.Error()}
	}
	got, err := spotfile.DecodeBytes(readback)
	if err != nil || got.Token != r.token || got.Timestamp != rec.Timestamp {
		return "", 0, raceError{reason: "readback mismatch"}
	}
	return path, index, nil
}

// Refresh extends the current spot's validity by rewriting its timestamp to
// now. Returns ErrNotOwned if called without an owned spot; returns the
// underlying I/O error if the spot file is gone (lost position).
func (r *Reservation) Refresh() error {
	if !r.owned || r.currentSpotPath == "" {
		return ErrNotOwned
	}
	rec := spotfile.New(r.token, r.clock.Now())
	data, err := spotfile.EncodeBytes(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(r.currentSpotPath, os.O_WRONLY|os.O_TRUNC, 0o666)
	if err != nil {
		return err
	}
	_, werr := f.Write(data)
	if werr == nil {
		werr = filelock.Sync(f)
	}
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

// IsFirst reports whether this reservation holds the lowest-indexed
// non-expired spot on its lockfile. An empty scan (no one in line,
// including ourselves) is treated as loss of our own position and reports
// false.
func (r *Reservation) IsFirst() (bool, error) {
	views, err := r.scanner.Scan(r.lockfilePath)
	if err != nil {
		return false, err
	}
	lowest, ok := spotscan.LowestFirst(views)
	if !ok {
		return false, nil
	}
	return lowest.Token == r.token, nil
}

// Release removes the current spot file if it still exists. Safe to call
// more than once.
func (r *Reservation) Release() {
	if r.currentSpotPath == "" {
		return
	}
	if err := os.Remove(r.currentSpotPath); err != nil && !os.IsNotExist(err) {
		r.logger.Warn("lock.reservation.release_failed", "path", r.currentSpotPath, "error", err)
	}
	r.currentSpotPath = ""
	r.owned = false
}
