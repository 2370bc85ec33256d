package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"gridbot/internal/core"
)

// HeartbeatReporter periodically emits the supervisor's status
// snapshot as a JSON line for external process supervisors, and keeps
// the latest snapshot for the health endpoint.
type HeartbeatReporter struct {
	supervisor *Supervisor
	logger     core.ILogger
	interval   time.Duration
	health     core.IHealthMonitor

	mu   sync.RWMutex
	last core.Heartbeat
}

// NewHeartbeatReporter creates a reporter. interval defaults to 30 s
// when non-positive.
func NewHeartbeatReporter(supervisor *Supervisor, logger core.ILogger, interval time.Duration) *HeartbeatReporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HeartbeatReporter{
		supervisor: supervisor,
		logger:     logger,
		interval:   interval,
	}
}

// SetHealthMonitor attaches a health monitor whose per-component
// status is folded into each snapshot.
func (h *HeartbeatReporter) SetHealthMonitor(monitor core.IHealthMonitor) {
	h.health = monitor
}

// Run emits heartbeats until the context is cancelled.
func (h *HeartbeatReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.emit()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.emit()
		}
	}
}

// Latest returns the most recent snapshot.
func (h *HeartbeatReporter) Latest() core.Heartbeat {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

func (h *HeartbeatReporter) emit() {
	hb := h.supervisor.Heartbeat()
	if h.health != nil {
		hb.Health = h.health.GetStatus()
	}

	h.mu.Lock()
	h.last = hb
	h.mu.Unlock()

	data, err := json.Marshal(hb)
	if err != nil {
		h.logger.Warn("Failed to marshal heartbeat", "error", err)
		return
	}
	h.logger.Info("heartbeat", "snapshot", string(data))
}
