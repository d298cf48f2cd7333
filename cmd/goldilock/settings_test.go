package main

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/tipi-build/goldilock/internal/connguard"
	"github.com/tipi-build/goldilock/internal/lockset"
	"github.com/tipi-build/goldilock/internal/metrics"
)

func resetViper(t *testing.T) {
	t.Helper()
	old := viper.GetViper()
	viper.Reset()
	t.Cleanup(func() { *viper.GetViper() = *old })
}

func TestDefaultSettingsMatchLocksetDefaults(t *testing.T) {
	s := defaultSettings()
	if s.SpotLifetime != lockset.DefaultLifetime {
		t.Fatalf("SpotLifetime = %v, want %v", s.SpotLifetime, lockset.DefaultLifetime)
	}
	if s.TickInterval != lockset.DefaultTickInterval {
		t.Fatalf("TickInterval = %v, want %v", s.TickInterval, lockset.DefaultTickInterval)
	}
	if s.StallThreshold != lockset.DefaultStallThreshold {
		t.Fatalf("StallThreshold = %d, want %d", s.StallThreshold, lockset.DefaultStallThreshold)
	}
	if s.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want \"info\"", s.LogLevel)
	}
}

func TestBindSettingsOverridesFromViper(t *testing.T) {
	resetViper(t)
	viper.Set("spot-lifetime", 5*time.Second)
	viper.Set("stall-threshold", 42)
	viper.Set("parent-watch", "make")
	viper.Set("metrics-addr", "127.0.0.1:9999")
	viper.Set("log-level", "debug")

	s := defaultSettings()
	bindSettings(&s)

	if s.SpotLifetime != 5*time.Second {
		t.Fatalf("SpotLifetime = %v, want 5s", s.SpotLifetime)
	}
	if s.StallThreshold != 42 {
		t.Fatalf("StallThreshold = %d, want 42", s.StallThreshold)
	}
	if s.ParentWatchName != "make" {
		t.Fatalf("ParentWatchName = %q, want \"make\"", s.ParentWatchName)
	}
	if s.MetricsAddr != "127.0.0.1:9999" {
		t.Fatalf("MetricsAddr = %q, want \"127.0.0.1:9999\"", s.MetricsAddr)
	}
	if s.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q, want \"debug\"", s.LogLevel)
	}
}

func TestBindSettingsKeepsDefaultsWhenUnset(t *testing.T) {
	resetViper(t)
	s := defaultSettings()
	bindSettings(&s)
	want := defaultSettings()
	if s != want {
		t.Fatalf("bindSettings changed settings with nothing set: got %+v want %+v", s, want)
	}
}

func TestToLocksetConfigWithoutRecorderLeavesOnTickNil(t *testing.T) {
	s := defaultSettings()
	cfg := s.ToLocksetConfig(nil)
	if cfg.OnTick != nil {
		t.Fatal("expected OnTick to be nil when recorder is nil")
	}
	if cfg.Lifetime != s.SpotLifetime {
		t.Fatalf("Lifetime = %v, want %v", cfg.Lifetime, s.SpotLifetime)
	}
}

func TestToLocksetConfigWithRecorderSetsOnTick(t *testing.T) {
	bundle, err := metrics.Start("127.0.0.1:0", nil, connguard.ConnectionGuardConfig{})
	if err != nil {
		t.Fatalf("metrics.Start: %v", err)
	}
	defer bundle.Shutdown(context.Background())

	s := defaultSettings()
	cfg := s.ToLocksetConfig(bundle.Recorder)
	if cfg.OnTick == nil {
		t.Fatal("expected OnTick to be set when a recorder is supplied")
	}
	cfg.OnTick()
}
