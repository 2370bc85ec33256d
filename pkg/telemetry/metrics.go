package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names.
const (
	MetricPnLRealizedTotal  = "gridbot_pnl_realized_total"
	MetricPnLUnrealized     = "gridbot_pnl_unrealized"
	MetricEquity            = "gridbot_equity"
	MetricEntriesTotal      = "gridbot_entries_total"
	MetricTakeProfitsTotal  = "gridbot_take_profits_total"
	MetricExposure          = "gridbot_exposure"
	MetricDeadMode          = "gridbot_dead_mode"
	MetricWorkerRestarts    = "gridbot_worker_restarts_total"
	MetricRotationsTotal    = "gridbot_rotations_total"
	MetricScanDuration      = "gridbot_scan_duration_seconds"
	MetricScoreComputeTotal = "gridbot_scores_computed_total"
	MetricTickLatency       = "gridbot_tick_processing_seconds"
)

// MetricsHolder holds initialized instruments.
type MetricsHolder struct {
	PnLRealizedTotal  metric.Float64Counter
	PnLUnrealized     metric.Float64ObservableGauge
	Equity            metric.Float64ObservableGauge
	EntriesTotal      metric.Int64Counter
	TakeProfitsTotal  metric.Int64Counter
	Exposure          metric.Float64ObservableGauge
	DeadMode          metric.Int64ObservableGauge
	WorkerRestarts    metric.Int64Counter
	RotationsTotal    metric.Int64Counter
	ScanDuration      metric.Float64Histogram
	ScoreComputeTotal metric.Int64Counter
	TickLatency       metric.Float64Histogram

	mu            sync.RWMutex
	unrealizedMap map[string]float64
	equityMap     map[string]float64
	exposureMap   map[string]float64
	deadModeMap   map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			unrealizedMap: make(map[string]float64),
			equityMap:     make(map[string]float64),
			exposureMap:   make(map[string]float64),
			deadModeMap:   make(map[string]int64),
		}
	})
	return globalMetrics
}

// InitMetrics creates the instruments on the given meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	if m.PnLRealizedTotal, err = meter.Float64Counter(MetricPnLRealizedTotal,
		metric.WithDescription("Cumulative realized profit/loss")); err != nil {
		return err
	}
	if m.EntriesTotal, err = meter.Int64Counter(MetricEntriesTotal,
		metric.WithDescription("Grid entry fills")); err != nil {
		return err
	}
	if m.TakeProfitsTotal, err = meter.Int64Counter(MetricTakeProfitsTotal,
		metric.WithDescription("Take-profit fills")); err != nil {
		return err
	}
	if m.WorkerRestarts, err = meter.Int64Counter(MetricWorkerRestarts,
		metric.WithDescription("Symbol worker restarts")); err != nil {
		return err
	}
	if m.RotationsTotal, err = meter.Int64Counter(MetricRotationsTotal,
		metric.WithDescription("Rotation signals emitted")); err != nil {
		return err
	}
	if m.ScoreComputeTotal, err = meter.Int64Counter(MetricScoreComputeTotal,
		metric.WithDescription("Composite scores computed")); err != nil {
		return err
	}
	if m.ScanDuration, err = meter.Float64Histogram(MetricScanDuration,
		metric.WithDescription("Universe scan duration in seconds")); err != nil {
		return err
	}
	if m.TickLatency, err = meter.Float64Histogram(MetricTickLatency,
		metric.WithDescription("Per-tick processing latency in seconds")); err != nil {
		return err
	}

	if m.PnLUnrealized, err = meter.Float64ObservableGauge(MetricPnLUnrealized,
		metric.WithDescription("Mark-to-market PnL over open lots"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, v := range m.unrealizedMap {
				o.Observe(v, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		})); err != nil {
		return err
	}
	if m.Equity, err = meter.Float64ObservableGauge(MetricEquity,
		metric.WithDescription("Cash balance plus unrealized PnL"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, v := range m.equityMap {
				o.Observe(v, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		})); err != nil {
		return err
	}
	if m.Exposure, err = meter.Float64ObservableGauge(MetricExposure,
		metric.WithDescription("Open exposure in base units per side"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for key, v := range m.exposureMap {
				o.Observe(v, metric.WithAttributes(attribute.String("side", key)))
			}
			return nil
		})); err != nil {
		return err
	}
	if m.DeadMode, err = meter.Int64ObservableGauge(MetricDeadMode,
		metric.WithDescription("1 while dead mode suppresses entries on a side"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for key, v := range m.deadModeMap {
				o.Observe(v, metric.WithAttributes(attribute.String("side", key)))
			}
			return nil
		})); err != nil {
		return err
	}

	return nil
}

// SetUnrealized records per-symbol unrealized PnL for the gauge.
func (m *MetricsHolder) SetUnrealized(symbol string, v float64) {
	m.mu.Lock()
	m.unrealizedMap[symbol] = v
	m.mu.Unlock()
}

// SetEquity records per-symbol equity for the gauge.
func (m *MetricsHolder) SetEquity(symbol string, v float64) {
	m.mu.Lock()
	m.equityMap[symbol] = v
	m.mu.Unlock()
}

// SetExposure records a side's exposure, keyed "symbol/side".
func (m *MetricsHolder) SetExposure(key string, v float64) {
	m.mu.Lock()
	m.exposureMap[key] = v
	m.mu.Unlock()
}

// SetDeadMode records a side's dead-mode flag, keyed "symbol/side".
func (m *MetricsHolder) SetDeadMode(key string, active bool) {
	var v int64
	if active {
		v = 1
	}
	m.mu.Lock()
	m.deadModeMap[key] = v
	m.mu.Unlock()
}
