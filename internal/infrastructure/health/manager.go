// Package health aggregates liveness checks from the engine's
// components and serves them as a JSON endpoint.
package health

import (
	"encoding/json"
	"net/http"
	"sync"

	"gridbot/internal/core"
)

// Manager runs registered checks on demand. Checks must be cheap;
// they execute inline on every status request.
type Manager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
}

var _ core.IHealthMonitor = (*Manager)(nil)

// NewManager creates an empty health manager.
func NewManager(logger core.ILogger) *Manager {
	m := &Manager{checks: make(map[string]func() error)}
	if logger != nil {
		m.logger = logger.WithField("component", "health")
	}
	return m
}

// Register adds a component's check, replacing any previous one.
func (m *Manager) Register(component string, check func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

// GetStatus evaluates every check and reports per-component status.
func (m *Manager) GetStatus() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]string, len(m.checks))
	for component, check := range m.checks {
		if err := check(); err != nil {
			status[component] = "unhealthy: " + err.Error()
		} else {
			status[component] = "healthy"
		}
	}
	return status
}

// IsHealthy reports whether every registered check passes.
func (m *Manager) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, check := range m.checks {
		if err := check(); err != nil {
			return false
		}
	}
	return true
}

// Handler serves the aggregate status as JSON: 200 when all checks
// pass, 503 otherwise.
func (m *Manager) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.GetStatus()
		healthy := true
		for _, v := range status {
			if v != "healthy" {
				healthy = false
				break
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			if m.logger != nil {
				m.logger.Warn("Health check failing", "status", status)
			}
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
