package main

import (
	"context"
	"time"

	"github.com/spf13/viper"

	"github.com/tipi-build/goldilock/internal/lockset"
	"github.com/tipi-build/goldilock/internal/metrics"
)

// DefaultConfigFileName is the config file searched for when --config is
// omitted.
const DefaultConfigFileName = "config.yaml"

// DefaultTimeoutSeconds matches the original tool's CLI_DEFAULT_TIMEOUT_SECONDS.
const DefaultTimeoutSeconds = 60

// Settings holds every acquisition tuning knob, bindable from flags, a YAML
// config file, or GOLDILOCK_* environment variables (flags win).
type Settings struct {
	SpotLifetime    time.Duration `yaml:"spot-lifetime"`
	TickInterval    time.Duration `yaml:"tick-interval"`
	RefreshInterval time.Duration `yaml:"refresh-interval"`
	HoldTimeout     time.Duration `yaml:"hold-timeout"`
	StallThreshold  int           `yaml:"stall-threshold"`
	ParentWatchName string        `yaml:"parent-watch"`
	MetricsAddr     string        `yaml:"metrics-addr"`
	LogLevel        string        `yaml:"log-level"`
}

func defaultSettings() Settings {
	return Settings{
		SpotLifetime:    lockset.DefaultLifetime,
		TickInterval:    lockset.DefaultTickInterval,
		RefreshInterval: lockset.DefaultRefreshInterval,
		HoldTimeout:     lockset.DefaultHoldTimeout,
		StallThreshold:  lockset.DefaultStallThreshold,
		LogLevel:        "info",
	}
}

// bindSettings reads every setting from viper (which has already merged
// flags, config file, and environment in that order of precedence) into s.
func bindSettings(s *Settings) {
	if v := viper.GetDuration("spot-lifetime"); v > 0 {
		s.SpotLifetime = v
	}
	if v := viper.GetDuration("tick-interval"); v > 0 {
		s.TickInterval = v
	}
	if v := viper.GetDuration("refresh-interval"); v > 0 {
		s.RefreshInterval = v
	}
	if v := viper.GetDuration("hold-timeout"); v > 0 {
		s.HoldTimeout = v
	}
	if v := viper.GetInt("stall-threshold"); v > 0 {
		s.StallThreshold = v
	}
	s.ParentWatchName = viper.GetString("parent-watch")
	s.MetricsAddr = viper.GetString("metrics-addr")
	if v := viper.GetString("log-level"); v != "" {
		s.LogLevel = v
	}
}

// ToLocksetConfig builds the lockset.Config this invocation will drive its
// acquisition with. recorder may be nil (metrics disabled).
func (s Settings) ToLocksetConfig(recorder *metrics.Recorder) lockset.Config {
	cfg := lockset.Config{
		Lifetime:        s.SpotLifetime,
		TickInterval:    s.TickInterval,
		RefreshInterval: s.RefreshInterval,
		HoldTimeout:     s.HoldTimeout,
		StallThreshold:  s.StallThreshold,
	}
	if recorder != nil {
		cfg.OnTick = func() { recorder.RecordTick(context.Background()) }
	}
	return cfg
}
