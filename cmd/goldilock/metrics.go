package main

import (
	"context"
	"time"

	"pkt.systems/pslog"

	"github.com/tipi-build/goldilock/internal/connguard"
	"github.com/tipi-build/goldilock/internal/metrics"
)

// maybeStartMetrics starts the optional Prometheus metrics listener when
// addr is non-empty and returns a stop function plus the recorder to wire
// into the acquisition path; both are nil when addr is empty.
func maybeStartMetrics(addr string, logger pslog.Logger) (*metrics.Recorder, func(), error) {
	bundle, err := metrics.Start(addr, logger, connguard.ConnectionGuardConfig{
		Enabled:          true,
		FailureThreshold: 20,
		FailureWindow:    10 * time.Second,
		BlockDuration:    time.Minute,
		ProbeTimeout:     2 * time.Second,
	})
	if err != nil {
		return nil, nil, err
	}
	if bundle == nil {
		return nil, nil, nil
	}
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		bundle.Shutdown(ctx)
	}
	return bundle.Recorder, stop, nil
}
