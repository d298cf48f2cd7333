package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"github.com/tipi-build/goldilock/internal/lifecycle"
	"github.com/tipi-build/goldilock/internal/loggingutil"
	"github.com/tipi-build/goldilock/internal/pathutil"
)

// unlockfileTimeout turns the --timeout/--no-timeout flag pair into a
// duration, or zero to mean "no timeout", mirroring the original tool's
// CLI_DEFAULT_TIMEOUT_SECONDS plus its --no-timeout override.
func unlockfileTimeout(seconds int, noTimeout bool) time.Duration {
	if noTimeout {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("GOLDILOCK_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "goldilock")

	cmd := newRootCommand(baseLogger)
	rootInvocation := invocationTargetsRootCommand(cmd, os.Args[1:])

	ctx, cancel := lifecycle.WithSignalCancel(ctx)
	defer cancel()

	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			if rootInvocation {
				loggingutil.WithSubsystem(baseLogger, "cli.root").Error("command failed", "error", err)
			} else {
				fmt.Fprintf(os.Stderr, "%s\n", err)
			}
		}
		return exitCodeFor(err)
	}
	return 0
}

// exitCodeFor maps a command error to a process exit code. A wrapped child
// exit status (set by the run-a-command acquisition path) passes through
// unchanged so "goldilock -l f -- mycmd" forwards mycmd's own exit code.
func exitCodeFor(err error) int {
	var ce *childExitError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 1
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	settings := defaultSettings()
	var configPath string
	var lockfiles []string
	var unlockfiles []string
	var timeoutSeconds int
	var noTimeout bool
	var detach bool
	var lockSuccessMarker string

	cmd := &cobra.Command{
		Use:           "goldilock [flags] -- command [args...]",
		Short:         "goldilock serializes commands across processes using only files as the coordination medium",
		SilenceErrors: true,
		Example: `
  # run a command while holding a single lockfile
  goldilock -l /var/lock/build.lock -- make release

  # acquire several lockfiles atomically before running
  goldilock -l /var/lock/a.lock -l /var/lock/b.lock -- ./migrate.sh

  # wait for unlock files instead of running anything
  goldilock -l /var/lock/build.lock --unlockfile /tmp/done.flag --timeout 120
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx := cmd.Context()

			if err := loadConfigFile(configPath); err != nil {
				return err
			}
			bindSettings(&settings)

			logger := baseLogger
			if level, ok := pslog.ParseLevel(settings.LogLevel); ok {
				logger = logger.LogLevel(level)
			}
			cliLogger := loggingutil.WithSubsystem(logger, "cli.root")

			if len(lockfiles) == 0 {
				return fmt.Errorf("you must specify at least one --lockfile")
			}

			if detach {
				return relaunchDetached(cliLogger)
			}

			if settings.ParentWatchName != "" {
				var err error
				var watchCancel context.CancelFunc
				ctx, watchCancel, err = lifecycle.WatchParent(ctx, lifecycle.ParentWatchConfig{})
				if err != nil {
					cliLogger.Warn("parent-watch unavailable", "error", err)
				} else {
					defer watchCancel()
				}
			}

			recorder, stopMetrics, err := maybeStartMetrics(settings.MetricsAddr, cliLogger)
			if err != nil {
				return err
			}
			if stopMetrics != nil {
				defer stopMetrics()
			}

			if len(unlockfiles) > 0 {
				return runUnlockfileMode(ctx, lockfiles, unlockfiles, unlockfileTimeout(timeoutSeconds, noTimeout), settings, cliLogger, recorder)
			}
			return runCommandMode(ctx, lockfiles, args, lockSuccessMarker, settings, cliLogger, recorder)
		},
	}

	cmd.AddCommand(newVersionCommand())
	cmd.AddCommand(newConfigCommand())

	persistent := cmd.PersistentFlags()
	persistent.StringVarP(&configPath, "config", "c", "", "path to YAML config file (defaults to $HOME/.goldilock/"+DefaultConfigFileName+")")

	flags := cmd.Flags()
	flags.StringArrayVarP(&lockfiles, "lockfile", "l", nil, "lockfile(s) to acquire / release; specify as many as you want")
	flags.StringArrayVar(&unlockfiles, "unlockfile", nil, "instead of running a command, wait for these files to exist (deleted on exit)")
	flags.IntVar(&timeoutSeconds, "timeout", DefaultTimeoutSeconds, "in the case of --unlockfile, timeout in seconds before giving up")
	flags.BoolVar(&noTimeout, "no-timeout", false, "in the case of --unlockfile, never time out")
	flags.BoolVar(&detach, "detach", false, "launch a detached copy of this invocation with the same arguments")
	flags.StringVar(&lockSuccessMarker, lockSuccessMarkerFlag[2:], "", "internal: path to touch once the lock set is held (used by --detach)")
	_ = flags.MarkHidden(lockSuccessMarkerFlag[2:])
	flags.DurationVar(&settings.SpotLifetime, "spot-lifetime", settings.SpotLifetime, "maximum age of a spot record before it is considered abandoned")
	flags.DurationVar(&settings.TickInterval, "tick-interval", settings.TickInterval, "acquisition survey interval")
	flags.DurationVar(&settings.RefreshInterval, "refresh-interval", settings.RefreshInterval, "spot refresh interval while held")
	flags.DurationVar(&settings.HoldTimeout, "hold-timeout", settings.HoldTimeout, "exclusive-hold confirmation timeout")
	flags.IntVar(&settings.StallThreshold, "stall-threshold", settings.StallThreshold, "ticks of partial stall before re-queueing (anti-deadlock)")
	flags.StringVar(&settings.ParentWatchName, "parent-watch", "", "if set, release and exit if the parent process's name changes (best-effort)")
	flags.StringVar(&settings.MetricsAddr, "metrics-addr", "", "optional address to serve Prometheus metrics on (empty disables)")
	flags.StringVar(&settings.LogLevel, "log-level", settings.LogLevel, "log level (trace, debug, info, warn, error)")

	_ = viper.BindPFlags(flags)
	_ = viper.BindPFlags(persistent)
	viper.SetEnvPrefix("GOLDILOCK")
	viper.AutomaticEnv()

	return cmd
}

func loadConfigFile(explicitPath string) error {
	cfgPath := strings.TrimSpace(explicitPath)
	explicit := cfgPath != ""

	if cfgPath == "" {
		if dir, err := defaultConfigDir(); err == nil {
			candidate := filepath.Join(dir, DefaultConfigFileName)
			if _, err := os.Stat(candidate); err == nil {
				cfgPath = candidate
			}
		}
	}
	if cfgPath == "" {
		return nil
	}

	expanded, err := expandPath(cfgPath)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config file %q is a directory", expanded)
	}

	viper.SetConfigFile(expanded)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return nil
}

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".goldilock"), nil
}

func expandPath(p string) (string, error) {
	expanded, err := pathutil.ExpandUserAndEnv(p)
	if err != nil || expanded == "" {
		return expanded, err
	}
	return filepath.Abs(expanded)
}

// invocationTargetsRootCommand reports whether args, as given to the
// process, would dispatch to the root command's own RunE rather than to a
// named subcommand (version, config). Used only to decide how to format an
// error: root-command failures go through the structured logger, while
// subcommand failures print plainly, matching cobra's own default.
func invocationTargetsRootCommand(root *cobra.Command, args []string) bool {
	flags := root.LocalFlags()
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return true
		}
		if strings.HasPrefix(arg, "-") {
			if name := strings.TrimLeft(arg, "-"); !strings.Contains(name, "=") {
				f := flags.Lookup(name)
				if f == nil && len(name) == 1 {
					f = flags.ShorthandLookup(name)
				}
				if f != nil && f.NoOptDefVal == "" {
					i++ // the flag's value is the next argument
				}
			}
			continue
		}
		for _, sub := range root.Commands() {
			if arg == sub.Name() {
				return false
			}
		}
		return true
	}
	return true
}
