package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies one direction of a symbol's grid.
type Side int

const (
	SideLong Side = iota
	SideShort
)

func (s Side) String() string {
	if s == SideShort {
		return "short"
	}
	return "long"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Lot is a single open grid entry. Lots are closed strictly FIFO.
type Lot struct {
	EntryPrice decimal.Decimal `json:"entry_price"`
	Qty        decimal.Decimal `json:"qty"`
	Margin     decimal.Decimal `json:"margin"`
}

// TradeKind distinguishes rows in the trade log.
type TradeKind string

const (
	TradeEntry      TradeKind = "ENTRY"
	TradeTakeProfit TradeKind = "TAKE_PROFIT"
)

// TradeRecord is one row of a symbol's trade log.
type TradeRecord struct {
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Kind      TradeKind       `json:"kind"`
	Price     decimal.Decimal `json:"price"`
	Qty       decimal.Decimal `json:"qty"`
	Fee       decimal.Decimal `json:"fee"`
	PnL       decimal.Decimal `json:"pnl"`
	Timestamp int64           `json:"timestamp"`
}

// Candle is one OHLCV bar. OpenTime is milliseconds since epoch.
type Candle struct {
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Ticker is a 24h market snapshot for one symbol.
type Ticker struct {
	Symbol      string
	LastPrice   decimal.Decimal
	QuoteVolume float64
	Timestamp   time.Time
}

// Balance is the account quote-asset balance.
type Balance struct {
	Asset     string
	Total     decimal.Decimal
	Available decimal.Decimal
}

// Position is an exchange-reported position.
type Position struct {
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Qty        decimal.Decimal `json:"qty"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	MarkPrice  decimal.Decimal `json:"mark_price"`
	Unrealized decimal.Decimal `json:"unrealized"`
}

// OrderSide and OrderType use the venue's vocabulary.
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

type OrderType string

const (
	OrderLimit  OrderType = "LIMIT"
	OrderMarket OrderType = "MARKET"
)

// OrderRequest is a normalized outbound order.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Price         decimal.Decimal
	Qty           decimal.Decimal
	ReduceOnly    bool
	ClientOrderID string
}

// Order is a normalized venue order.
type Order struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Price         decimal.Decimal
	Qty           decimal.Decimal
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
	Status        string
}

// Market describes one tradable perpetual contract.
type Market struct {
	Symbol        string // raw form, e.g. XRPUSDC
	UnifiedSymbol string // BASE/QUOTE:SETTLE form, e.g. XRP/USDC:USDC
	Base          string
	Quote         string
	Active        bool
	PriceDecimals int
	QtyDecimals   int
}

// CoinScore is the scorer's full output for one symbol.
// Component scores are in [0,100]; FinalScore is their weighted sum.
type CoinScore struct {
	Symbol          string    `json:"symbol"`
	VolatilityScore float64   `json:"volatility_score"`
	LiquidityScore  float64   `json:"liquidity_score"`
	MeanRevertScore float64   `json:"mean_revert_score"`
	MomentumScore   float64   `json:"momentum_score"`
	StabilityScore  float64   `json:"stability_score"`
	FinalScore      float64   `json:"final_score"`
	Timestamp       time.Time `json:"timestamp"`

	ATRPct    float64 `json:"atr_pct"`
	Volume24h float64 `json:"volume_24h"`
	Hurst     float64 `json:"hurst"`
	ADX       float64 `json:"adx"`
	VolumeCV  float64 `json:"volume_cv"`
	ADFPValue float64 `json:"adf_pvalue"`
}

// Trend direction of a symbol's composite score.
type Trend string

const (
	TrendUp   Trend = "↑"
	TrendDown Trend = "↓"
	TrendFlat Trend = "→"
)

// Action is the ranker's recommendation tag.
type Action string

const (
	ActionHold    Action = "HOLD"
	ActionWatch   Action = "WATCH"
	ActionMonitor Action = "MONITOR"
	ActionAvoid   Action = "AVOID"
)

// CoinRank is one row of the ranking table.
type CoinRank struct {
	Rank           int     `json:"rank"`
	Symbol         string  `json:"symbol"`
	Score          float64 `json:"score"`
	Trend          Trend   `json:"trend"`
	Action         Action  `json:"action"`
	ScoreChange24h float64 `json:"score_change_24h"`
}

// RotationSignal recommends stopping one symbol's grid and starting another.
type RotationSignal struct {
	FromSymbol        string    `json:"from_symbol"`
	ToSymbol          string    `json:"to_symbol"`
	ScoreDiff         float64   `json:"score_diff"`
	Reason            string    `json:"reason"`
	FromScore         float64   `json:"from_score"`
	ToScore           float64   `json:"to_score"`
	EstimatedSlippage float64   `json:"estimated_slippage"`
	Timestamp         time.Time `json:"timestamp"`
}

// StopReason explains why a symbol worker halted.
type StopReason string

const (
	StopNone       StopReason = ""
	StopRequested  StopReason = "requested"
	StopDrawdown   StopReason = "drawdown"
	StopConfig     StopReason = "config_invalid"
	StopAuth       StopReason = "auth_failed"
	StopVenueError StopReason = "venue_error"
)

// SymbolStatus is one symbol's entry in the heartbeat snapshot.
type SymbolStatus struct {
	Symbol        string          `json:"symbol"`
	Running       bool            `json:"running"`
	Halted        bool            `json:"halted"`
	StopReason    StopReason      `json:"stop_reason,omitempty"`
	LongExposure  decimal.Decimal `json:"long_exposure"`
	ShortExposure decimal.Decimal `json:"short_exposure"`
	LongDead      bool            `json:"long_dead"`
	ShortDead     bool            `json:"short_dead"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	LastPrice     decimal.Decimal `json:"last_price"`
}

// Heartbeat is the periodic engine status snapshot consumed by
// external supervisors.
type Heartbeat struct {
	Status           string            `json:"status"`
	IsTrading        bool              `json:"is_trading"`
	TotalPnL         decimal.Decimal   `json:"total_pnl"`
	UnrealizedPnL    decimal.Decimal   `json:"unrealized_pnl"`
	Equity           decimal.Decimal   `json:"equity"`
	AvailableBalance decimal.Decimal   `json:"available_balance"`
	Positions        []Position        `json:"positions"`
	Symbols          []SymbolStatus    `json:"symbols"`
	Health           map[string]string `json:"health,omitempty"`
	Timestamp        int64             `json:"timestamp"`
}
