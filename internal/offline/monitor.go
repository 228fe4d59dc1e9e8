package offline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/nestelia/internal/cachekey"
)

// Monitor probes the origin periodically and reports connectivity to a Manager.
type Monitor struct {
	manager  *Manager
	probe    string
	interval time.Duration
	logger   *zap.Logger
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorLogger sets the monitor's logger.
func WithMonitorLogger(l *zap.Logger) MonitorOption {
	return func(mon *Monitor) { mon.logger = l }
}

// NewMonitor probes probePath (resolved against the manager's origin) every interval.
func NewMonitor(manager *Manager, probePath string, interval time.Duration, opts ...MonitorOption) *Monitor {
	mon := &Monitor{
		manager:  manager,
		probe:    probePath,
		interval: interval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(mon)
	}
	return mon
}

// Probe issues one probe. Any HTTP response counts as online.
func (mon *Monitor) Probe(ctx context.Context) bool {
	abs, err := cachekey.Resolve(mon.manager.Origin(), mon.probe)
	if err != nil {
		mon.logger.Warn("Invalid probe url", zap.String("path", mon.probe), zap.Error(err))
		return mon.manager.Online()
	}
	_, err = mon.manager.fetcher.Fetch(ctx, FetchRequest{URL: abs})
	if err != nil && ctx.Err() != nil {
		return mon.manager.Online()
	}
	online := err == nil
	if !online {
		mon.logger.Debug("Probe failed", zap.String("url", abs), zap.Error(err))
	}
	mon.manager.SetOnline(ctx, online)
	return online
}

// Run probes immediately and then every interval until ctx is cancelled.
func (mon *Monitor) Run(ctx context.Context) {
	if mon.interval <= 0 {
		return
	}
	ticker := time.NewTicker(mon.interval)
	defer ticker.Stop()

	mon.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mon.Probe(ctx)
		}
	}
}
