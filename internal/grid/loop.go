package grid

import (
	"context"
	"errors"

	"gridbot/internal/core"
	apperrors "gridbot/pkg/errors"
	"gridbot/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LoopConfig configures one symbol's execution loop.
type LoopConfig struct {
	Symbol       string
	Params       Params
	MaxDrawdown  decimal.Decimal
	MaxPositions int
}

// NowFunc supplies trade timestamps. The backtester injects the tick's
// own timestamp so live, backtest, and preview produce identical logs.
type NowFunc func() int64

// Loop drives one symbol: per tick it asks the decision function for
// both sides, executes triggered take-profits and entries against the
// exchange, and mutates the book. Long-side processing precedes
// short-side; within a side the take-profit precedes the entry.
type Loop struct {
	cfg      LoopConfig
	book     *Book
	ledger   core.ILedger
	exchange core.IExchange
	store    core.IStateStore
	logger   core.ILogger
	metrics  *telemetry.MetricsHolder
	now      NowFunc

	halted     bool
	stopReason core.StopReason
	equityHigh decimal.Decimal
	lastMark   decimal.Decimal
}

// NewLoop creates a symbol loop. store and metrics may be nil (the
// backtester runs without them).
func NewLoop(
	cfg LoopConfig,
	book *Book,
	ledger core.ILedger,
	exchange core.IExchange,
	store core.IStateStore,
	logger core.ILogger,
	metrics *telemetry.MetricsHolder,
	now NowFunc,
) *Loop {
	return &Loop{
		cfg:      cfg,
		book:     book,
		ledger:   ledger,
		exchange: exchange,
		store:    store,
		logger:   logger.WithField("symbol", cfg.Symbol),
		metrics:  metrics,
		now:      now,
	}
}

// Book exposes the loop's state for status reporting and tests.
func (l *Loop) Book() *Book { return l.book }

// Halted reports whether the loop stopped itself.
func (l *Loop) Halted() bool { return l.halted }

// StopReason explains a halt.
func (l *Loop) StopReason() core.StopReason { return l.stopReason }

// LastMark is the most recently processed price.
func (l *Loop) LastMark() decimal.Decimal { return l.lastMark }

// Equity is cash plus mark-to-market over this symbol's open lots.
func (l *Loop) Equity(mark decimal.Decimal) decimal.Decimal {
	return l.ledger.Available().Add(l.book.UnrealizedPnL(mark))
}

// Halt marks the loop stopped with the given reason.
func (l *Loop) Halt(reason core.StopReason) {
	l.halted = true
	l.stopReason = reason
}

var sides = [2]core.Side{core.SideLong, core.SideShort}

// ProcessTick applies one price update. Transient execution failures
// are logged and skipped; terminal errors are returned so the
// supervisor can halt the worker.
func (l *Loop) ProcessTick(ctx context.Context, mark decimal.Decimal) error {
	if l.halted || !mark.IsPositive() {
		return nil
	}
	l.lastMark = mark

	for _, s := range sides {
		l.book.SeedAnchor(s, mark)
	}

	for _, s := range sides {
		d, err := Decide(l.book.Anchor(s), l.book.Exposure(s), l.book.Exposure(s.Opposite()), l.cfg.Params, s)
		if err != nil {
			l.Halt(core.StopConfig)
			return err
		}

		// Deleveraging beats leveraging: close before open.
		if err := l.processTakeProfit(ctx, s, d, mark); err != nil {
			return err
		}
		if err := l.processEntry(ctx, s, d, mark); err != nil {
			return err
		}

		if l.metrics != nil {
			l.metrics.SetDeadMode(l.cfg.Symbol+"/"+s.String(), d.DeadMode)
			l.metrics.SetExposure(l.cfg.Symbol+"/"+s.String(), l.book.Exposure(s).InexactFloat64())
		}
	}

	l.updateEquity(mark)
	l.persist(ctx)
	return nil
}

func (l *Loop) processTakeProfit(ctx context.Context, s core.Side, d Decision, mark decimal.Decimal) error {
	exposure := l.book.Exposure(s)
	if !exposure.IsPositive() {
		return nil
	}

	triggered := (s == core.SideLong && mark.GreaterThanOrEqual(d.TPPrice)) ||
		(s == core.SideShort && mark.LessThanOrEqual(d.TPPrice))
	if !triggered {
		return nil
	}

	qty := d.TPQty
	if exposure.LessThan(qty) {
		qty = exposure
	}

	orderSide := core.OrderSell
	if s == core.SideShort {
		orderSide = core.OrderBuy
	}

	_, err := l.exchange.CreateOrder(ctx, &core.OrderRequest{
		Symbol:        l.cfg.Symbol,
		Side:          orderSide,
		Type:          core.OrderMarket,
		Price:         mark,
		Qty:           qty,
		ReduceOnly:    true,
		ClientOrderID: newClientOrderID(),
	})
	if err != nil {
		return l.handleOrderError(s, "take_profit", err)
	}

	fill := l.book.RecordTakeProfit(s, mark, qty, l.now())
	l.ledger.Credit(fill.ReleasedMargin.Add(fill.NetPnL))

	l.logger.Info("Take-profit filled",
		"side", s.String(), "price", mark, "qty", fill.ClosedQty, "pnl", fill.NetPnL)

	if l.metrics != nil {
		l.metrics.TakeProfitsTotal.Add(ctx, 1)
		l.metrics.PnLRealizedTotal.Add(ctx, fill.NetPnL.InexactFloat64())
	}
	l.appendTrade(ctx)
	return nil
}

func (l *Loop) processEntry(ctx context.Context, s core.Side, d Decision, mark decimal.Decimal) error {
	if d.DeadMode || !d.HasEntry {
		return nil
	}
	if l.book.LotCount() >= l.cfg.MaxPositions {
		return nil
	}

	triggered := (s == core.SideLong && mark.LessThanOrEqual(d.EntryPrice)) ||
		(s == core.SideShort && mark.GreaterThanOrEqual(d.EntryPrice))
	if !triggered {
		return nil
	}

	qty := l.cfg.Params.BaseQty
	notional := mark.Mul(qty)
	margin := notional.Div(decimal.NewFromInt(l.cfg.Params.Leverage))
	fee := notional.Mul(l.cfg.Params.FeePct)
	required := margin.Add(fee)

	// Reserve margin before the order goes out; refund on failure.
	// An unaffordable entry is skipped silently, not an error.
	if !l.ledger.Debit(required) {
		l.logger.Debug("Entry skipped: insufficient margin",
			"side", s.String(), "required", required, "available", l.ledger.Available())
		return nil
	}

	orderSide := core.OrderBuy
	if s == core.SideShort {
		orderSide = core.OrderSell
	}

	_, err := l.exchange.CreateOrder(ctx, &core.OrderRequest{
		Symbol:        l.cfg.Symbol,
		Side:          orderSide,
		Type:          core.OrderMarket,
		Price:         mark,
		Qty:           qty,
		ClientOrderID: newClientOrderID(),
	})
	if err != nil {
		l.ledger.Credit(required)
		return l.handleOrderError(s, "entry", err)
	}

	l.book.RecordEntry(s, mark, qty, l.now())

	l.logger.Info("Entry filled", "side", s.String(), "price", mark, "qty", qty, "margin", margin)

	if l.metrics != nil {
		l.metrics.EntriesTotal.Add(ctx, 1)
	}
	l.appendTrade(ctx)
	return nil
}

// handleOrderError applies the error taxonomy: terminal kinds halt the
// worker, everything else is logged and the order skipped.
func (l *Loop) handleOrderError(s core.Side, branch string, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrAuthenticationFailed):
		l.Halt(core.StopAuth)
		return err
	case errors.Is(err, apperrors.ErrConfigurationInvalid):
		l.Halt(core.StopConfig)
		return err
	case errors.Is(err, apperrors.ErrInsufficientFunds):
		l.logger.Debug("Order skipped: insufficient funds", "side", s.String(), "branch", branch)
		return nil
	case errors.Is(err, apperrors.ErrInvalidOrder), errors.Is(err, apperrors.ErrMinNotional):
		l.logger.Warn("Order rejected by venue", "side", s.String(), "branch", branch, "error", err)
		return nil
	default:
		l.logger.Warn("Order failed", "side", s.String(), "branch", branch, "error", err)
		return nil
	}
}

func (l *Loop) updateEquity(mark decimal.Decimal) {
	equity := l.Equity(mark)
	if equity.GreaterThan(l.equityHigh) {
		l.equityHigh = equity
	}

	if l.metrics != nil {
		l.metrics.SetEquity(l.cfg.Symbol, equity.InexactFloat64())
		l.metrics.SetUnrealized(l.cfg.Symbol, l.book.UnrealizedPnL(mark).InexactFloat64())
	}

	if l.equityHigh.IsPositive() && l.cfg.MaxDrawdown.IsPositive() {
		drawdown := l.equityHigh.Sub(equity).Div(l.equityHigh)
		if drawdown.GreaterThanOrEqual(l.cfg.MaxDrawdown) {
			l.Halt(core.StopDrawdown)
			l.logger.Error("Drawdown limit reached, halting symbol",
				"equity", equity, "high_water", l.equityHigh, "drawdown", drawdown)
		}
	}
}

// appendTrade persists the newest trade log row.
func (l *Loop) appendTrade(ctx context.Context) {
	if l.store == nil {
		return
	}
	trades := l.book.Trades()
	if len(trades) == 0 {
		return
	}
	rec := trades[len(trades)-1]
	if err := l.store.AppendTrade(ctx, &rec); err != nil {
		l.logger.Warn("Failed to persist trade", "error", err)
	}
}

func (l *Loop) persist(ctx context.Context) {
	if l.store == nil {
		return
	}
	data, err := l.book.MarshalSnapshot()
	if err != nil {
		l.logger.Warn("Failed to marshal state snapshot", "error", err)
		return
	}
	if err := l.store.SaveSymbolState(ctx, l.cfg.Symbol, data); err != nil {
		l.logger.Warn("Failed to persist state snapshot", "error", err)
	}
}

// Status summarizes the loop for the heartbeat.
func (l *Loop) Status() core.SymbolStatus {
	longExp := l.book.Exposure(core.SideLong)
	shortExp := l.book.Exposure(core.SideShort)

	longDead := false
	shortDead := false
	if d, err := Decide(l.book.Anchor(core.SideLong), longExp, shortExp, l.cfg.Params, core.SideLong); err == nil {
		longDead = d.DeadMode
	}
	if d, err := Decide(l.book.Anchor(core.SideShort), shortExp, longExp, l.cfg.Params, core.SideShort); err == nil {
		shortDead = d.DeadMode
	}

	return core.SymbolStatus{
		Symbol:        l.cfg.Symbol,
		Running:       !l.halted,
		Halted:        l.halted,
		StopReason:    l.stopReason,
		LongExposure:  longExp,
		ShortExposure: shortExp,
		LongDead:      longDead,
		ShortDead:     shortDead,
		RealizedPnL:   l.book.RealizedPnL(),
		LastPrice:     l.lastMark,
	}
}

func newClientOrderID() string {
	return "gb-" + uuid.NewString()[:18]
}
