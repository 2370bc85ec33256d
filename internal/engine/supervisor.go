package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gridbot/internal/core"
	"gridbot/internal/grid"
	"gridbot/pkg/telemetry"

	"github.com/shopspring/decimal"
)

const (
	restartBackoffBase = 5 * time.Second
	restartBackoffCap  = 5 * time.Minute
	maxRestartsPerHour = 12
	stopAllTimeout     = 60 * time.Second
	stopSymbolTimeout  = 30 * time.Second
)

// Supervisor owns the set of per-symbol workers. A failed worker is
// restarted with exponential backoff; its peers are unaffected.
type Supervisor struct {
	exchange   core.IExchange
	marketData core.IMarketData
	ledger     core.ILedger
	store      core.IStateStore
	logger     core.ILogger
	metrics    *telemetry.MetricsHolder

	maxDrawdown  decimal.Decimal
	maxPositions int

	mu      sync.Mutex
	workers map[string]*worker
	wg      sync.WaitGroup
}

// worker is one symbol's execution context. The tick channel has
// capacity one and the publisher drops stale prices, so a slow loop
// only ever sees the latest mark.
type worker struct {
	symbol string
	loop   *grid.Loop
	ticks  chan decimal.Decimal
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	restarts []time.Time
}

// NewSupervisor wires a supervisor. store and metrics may be nil.
func NewSupervisor(
	exchange core.IExchange,
	marketData core.IMarketData,
	ledger core.ILedger,
	store core.IStateStore,
	logger core.ILogger,
	metrics *telemetry.MetricsHolder,
	maxDrawdown decimal.Decimal,
	maxPositions int,
) *Supervisor {
	return &Supervisor{
		exchange:     exchange,
		marketData:   marketData,
		ledger:       ledger,
		store:        store,
		logger:       logger,
		metrics:      metrics,
		maxDrawdown:  maxDrawdown,
		maxPositions: maxPositions,
		workers:      make(map[string]*worker),
	}
}

// StartSymbol launches a worker for the symbol. State persisted by an
// earlier session is restored before the first tick.
func (s *Supervisor) StartSymbol(ctx context.Context, symbol string, params grid.Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workers[symbol]; exists {
		return fmt.Errorf("symbol %s already running", symbol)
	}

	book := grid.NewBook(symbol, params)
	if s.store != nil {
		if data, err := s.store.LoadSymbolState(ctx, symbol); err != nil {
			s.logger.Warn("Failed to load persisted state, starting fresh", "symbol", symbol, "error", err)
		} else if data != nil {
			if err := book.RestoreSnapshot(data); err != nil {
				s.logger.Warn("Persisted state unreadable, starting fresh", "symbol", symbol, "error", err)
				book = grid.NewBook(symbol, params)
			} else {
				s.logger.Info("Restored symbol state",
					"symbol", symbol,
					"long_exposure", book.Exposure(core.SideLong),
					"short_exposure", book.Exposure(core.SideShort))
			}
		}
	}

	loop := grid.NewLoop(grid.LoopConfig{
		Symbol:       symbol,
		Params:       params,
		MaxDrawdown:  s.maxDrawdown,
		MaxPositions: s.maxPositions,
	}, book, s.ledger, s.exchange, s.store, s.logger, s.metrics, func() int64 {
		return time.Now().UnixMilli()
	})

	workerCtx, cancel := context.WithCancel(context.Background())
	w := &worker{
		symbol: symbol,
		loop:   loop,
		ticks:  make(chan decimal.Decimal, 1),
		ctx:    workerCtx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.workers[symbol] = w

	s.marketData.Subscribe(symbol, func(price decimal.Decimal) {
		w.publish(price)
	})

	s.wg.Add(1)
	go s.supervise(w)

	s.logger.Info("Symbol worker started", "symbol", symbol)
	return nil
}

// publish replaces any pending tick with the newest one.
func (w *worker) publish(price decimal.Decimal) {
	for {
		select {
		case w.ticks <- price:
			return
		default:
			select {
			case <-w.ticks:
			default:
			}
		}
	}
}

// supervise runs the worker and restarts it after recoverable
// failures. Terminal stop reasons and exhausted restart budgets end
// supervision for good.
func (s *Supervisor) supervise(w *worker) {
	defer s.wg.Done()
	defer close(w.done)

	attempt := 0
	for {
		restartable := s.runOnce(w)
		if !restartable {
			return
		}
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		now := time.Now()
		w.restarts = append(w.restarts, now)
		w.restarts = pruneOlderThan(w.restarts, now.Add(-time.Hour))
		if len(w.restarts) > maxRestartsPerHour {
			w.loop.Halt(core.StopVenueError)
			s.logger.Error("Worker restart budget exhausted, giving up", "symbol", w.symbol)
			return
		}

		attempt++
		delay := restartDelay(attempt)
		s.logger.Warn("Restarting symbol worker", "symbol", w.symbol, "attempt", attempt, "delay", delay)
		if s.metrics != nil {
			s.metrics.WorkerRestarts.Add(w.ctx, 1)
		}

		select {
		case <-w.ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runOnce drives the tick loop until cancellation, halt, or failure.
// It reports whether the worker should be restarted.
func (s *Supervisor) runOnce(w *worker) (restartable bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Symbol worker panicked", "symbol", w.symbol, "panic", r)
			restartable = true
		}
	}()

	for {
		select {
		case <-w.ctx.Done():
			return false
		case price := <-w.ticks:
			start := time.Now()
			err := w.loop.ProcessTick(w.ctx, price)
			if s.metrics != nil {
				s.metrics.TickLatency.Record(w.ctx, time.Since(start).Seconds())
			}
			if err != nil {
				s.logger.Error("Symbol worker stopped on terminal error",
					"symbol", w.symbol, "reason", string(w.loop.StopReason()), "error", err)
				return false
			}
			if w.loop.Halted() {
				s.logger.Warn("Symbol worker halted",
					"symbol", w.symbol, "reason", string(w.loop.StopReason()))
				return false
			}
		}
	}
}

// StopSymbol cancels the worker and waits for it to drain.
func (s *Supervisor) StopSymbol(symbol string) error {
	s.mu.Lock()
	w, ok := s.workers[symbol]
	if ok {
		delete(s.workers, symbol)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("symbol %s not running", symbol)
	}

	s.marketData.Unsubscribe(symbol)
	if !w.loop.Halted() {
		w.loop.Halt(core.StopRequested)
	}
	w.cancel()

	select {
	case <-w.done:
	case <-time.After(stopSymbolTimeout):
		s.logger.Warn("Symbol worker did not stop within timeout", "symbol", symbol)
	}

	s.logger.Info("Symbol worker stopped", "symbol", symbol)
	return nil
}

// StopAll cancels every worker and waits up to a minute.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	workers := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.workers = make(map[string]*worker)
	s.mu.Unlock()

	for _, w := range workers {
		s.marketData.Unsubscribe(w.symbol)
		if !w.loop.Halted() {
			w.loop.Halt(core.StopRequested)
		}
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All symbol workers stopped")
	case <-time.After(stopAllTimeout):
		s.logger.Warn("Some symbol workers did not stop within timeout")
	}
}

// Status returns per-symbol summaries. Order is not guaranteed.
func (s *Supervisor) Status() []core.SymbolStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.SymbolStatus, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w.loop.Status())
	}
	return out
}

// HaltedSymbols lists symbols whose workers stopped themselves. The
// rotator must not consider these.
func (s *Supervisor) HaltedSymbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for sym, w := range s.workers {
		if w.loop.Halted() {
			out = append(out, sym)
		}
	}
	return out
}

// Heartbeat assembles the engine status snapshot.
func (s *Supervisor) Heartbeat() core.Heartbeat {
	s.mu.Lock()
	defer s.mu.Unlock()

	hb := core.Heartbeat{
		Status:    "running",
		Timestamp: time.Now().UnixMilli(),
	}

	unrealized := decimal.Zero
	realized := decimal.Zero
	for _, w := range s.workers {
		st := w.loop.Status()
		hb.Symbols = append(hb.Symbols, st)
		if st.Running {
			hb.IsTrading = true
		}
		realized = realized.Add(st.RealizedPnL)
		if mark := w.loop.LastMark(); mark.IsPositive() {
			unrealized = unrealized.Add(w.loop.Book().UnrealizedPnL(mark))
			hb.Positions = append(hb.Positions, w.loop.Book().Positions(mark)...)
		}
	}

	hb.TotalPnL = realized
	hb.UnrealizedPnL = unrealized
	hb.AvailableBalance = s.ledger.Available()
	hb.Equity = hb.AvailableBalance.Add(unrealized)
	if len(s.workers) == 0 {
		hb.Status = "idle"
	}
	return hb
}

// restartDelay doubles from the base each attempt and saturates at
// the cap.
func restartDelay(attempt int) time.Duration {
	delay := restartBackoffBase << uint(min(attempt-1, 6))
	if delay > restartBackoffCap {
		delay = restartBackoffCap
	}
	return delay
}

func pruneOlderThan(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
