package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/dustin/go-humanize"
	"pkt.systems/pslog"

	"github.com/tipi-build/goldilock/internal/lockset"
	"github.com/tipi-build/goldilock/internal/metrics"
)

// childExitError carries a child command's own exit status through the
// RunE → ExecuteContextC → main error path so goldilock's process exit code
// matches the child's, not a generic failure code.
type childExitError struct {
	Code int
}

func (e *childExitError) Error() string {
	return fmt.Sprintf("child exited with status %d", e.Code)
}

// runCommandMode acquires every lockfile, runs args as a child process with
// its standard streams forwarded, and releases the lock set on completion,
// cancellation, or signal.
func runCommandMode(ctx context.Context, lockfiles []string, args []string, lockSuccessMarker string, settings Settings, logger pslog.Logger, recorder *metrics.Recorder) error {
	if len(args) == 0 {
		return fmt.Errorf("no command given: pass one after --")
	}

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
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("acquire lock set: %w", err)
	}
	recorder.RecordOutcome(ctx, "held", time.Since(started))
	logger.Info("lock set acquired", "lockfiles", lockfiles, "waited", humanize.RelTime(started, time.Now(), "", ""))
	defer handle.Release()
	writeLockSuccessMarker(lockSuccessMarker)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	runErr := cmd.Run()

	select {
	case lostErr := <-handle.Lost():
		logger.Error("lock set lost while child was running", "error", lostErr)
	default:
	}

	if runErr == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return &childExitError{Code: exitErr.ExitCode()}
	}
	return fmt.Errorf("run command: %w", runErr)
}
