package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"pkt.systems/pslog"

	"github.com/tipi-build/goldilock/internal/lockset"
	"github.com/tipi-build/goldilock/internal/metrics"
)

// unlockfilePollInterval matches the original tool's 50ms poll cadence for
// --unlockfile mode, distinct from the 100ms lockset acquisition tick.
const unlockfilePollInterval = 50 * time.Millisecond

// runUnlockfileMode acquires every lockfile as runCommandMode does, but
// instead of running a child command it waits for every path in
// unlockfiles to exist, deletes them on success, and returns. timeout of
// zero means wait indefinitely.
func runUnlockfileMode(ctx context.Context, lockfiles, unlockfiles []string, timeout time.Duration, settings Settings, logger pslog.Logger, recorder *metrics.Recorder) error {
	cfg := settings.ToLocksetConfig(recorder)
	cfg.Logger = logger

	started := time.Now()
	handle, err := lockset.Acquire(ctx, lockfiles, cfg)
	if err != nil {
		outcome := "error"
		if errors.Is(err, context.Canceled) {
			outcome = "cancelled"
		}
		recorder.RecordOutcome(ctx, outcome, time.Since(started))
		return fmt.Errorf("acquire lock set: %w", err)
	}
	recorder.RecordOutcome(ctx, "held", time.Since(started))
	defer handle.Release()
	logger.Info("lock set acquired, waiting for unlock files", "lockfiles", lockfiles, "unlockfiles", unlockfiles)

	waitCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(unlockfilePollInterval)
	defer ticker.Stop()

	for {
		if allExist(unlockfiles) {
			for _, f := range unlockfiles {
				_ = os.Remove(f)
			}
			logger.Info("all unlock files present, releasing lock set")
			return nil
		}
		select {
		case <-waitCtx.Done():
			if timeout > 0 && waitCtx.Err() == context.DeadlineExceeded {
				return fmt.Errorf("timed out after %s waiting for unlock files", timeout)
			}
			return waitCtx.Err()
		case <-ticker.C:
		}
	}
}

func allExist(paths []string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
