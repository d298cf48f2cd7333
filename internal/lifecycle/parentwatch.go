package lifecycle

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/tipi-build/goldilock/internal/clock"
)

// ParentWatchConfig configures the optional parent-process watchdog: if the
// process that was the parent at startup either exits or is replaced by a
// process of a different name at the same pid, the watch cancels the
// context it was given. The expected name is the parent's own name, read
// when the watch starts.
//
// Process name matching is inherently lossy on platforms that truncate
// process names (historically 15 characters on Linux's /proc/<pid>/comm).
// Both names are truncated to that width before comparison so
// that false "parent gone" triggers are not produced by the truncation
// itself; this is documented here as a known limitation, not a bug.
type ParentWatchConfig struct {
	Clock        clock.Clock
	PollInterval time.Duration
}

const linuxCommNameLimit = 15

// WatchParent polls the process that was the parent when this call was made
// and cancels the returned context if it disappears or changes identity.
// The watch itself exits once ctx is already done.
func WatchParent(ctx context.Context, cfg ParentWatchConfig) (context.Context, context.CancelFunc, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	parentPID, err := parentProcessID()
	if err != nil {
		return ctx, func() {}, err
	}
	parentName, err := processName(parentPID)
	if err != nil {
		return ctx, func() {}, err
	}
	expected := truncateCommName(parentName)

	watchCtx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-cfg.Clock.After(cfg.PollInterval):
			}
			name, err := processName(parentPID)
			if err != nil || truncateCommName(name) != expected {
				cancel()
				return
			}
		}
	}()
	return watchCtx, cancel, nil
}

func truncateCommName(name string) string {
	if len(name) <= linuxCommNameLimit {
		return name
	}
	return name[:linuxCommNameLimit]
}

func parentProcessID() (int32, error) {
	return int32(os.Getppid()), nil
}

func processName(pid int32) (string, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return "", err
	}
	return proc.Name()
}
