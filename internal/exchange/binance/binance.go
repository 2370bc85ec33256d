// Package binance adapts the venue's USDⓈ-M perpetual futures API to
// the engine's exchange interface.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"gridbot/internal/core"
	apperrors "gridbot/pkg/errors"
	httpclient "gridbot/pkg/http"
	"gridbot/pkg/retry"

	"github.com/shopspring/decimal"
)

const (
	defaultBaseURL   = "https://fapi.binance.com"
	defaultStreamURL = "wss://fstream.binance.com"
)

// Config carries venue credentials and endpoints.
type Config struct {
	APIKey    string
	SecretKey string
	BaseURL   string
	StreamURL string
	Timeout   time.Duration
}

// Exchange implements core.IExchange against the venue's REST and
// streaming endpoints. Public calls go out unsigned; account and order
// calls are HMAC-signed.
type Exchange struct {
	public  *httpclient.Client
	private *httpclient.Client
	logger  core.ILogger

	streamURL string
	stream    *tickerStream

	mu      sync.RWMutex
	markets map[string]core.Market
}

// New creates an adapter. Market metadata loads lazily on first use.
func New(cfg Config, logger core.ILogger) *Exchange {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = defaultStreamURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Exchange{
		public:    httpclient.NewClient(cfg.BaseURL, cfg.Timeout, nil),
		private:   httpclient.NewClient(cfg.BaseURL, cfg.Timeout, newHMACSigner(cfg.APIKey, cfg.SecretKey)),
		logger:    logger,
		streamURL: cfg.StreamURL,
		markets:   make(map[string]core.Market),
	}
}

func (e *Exchange) GetName() string { return "binance" }

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol            string `json:"symbol"`
		Status            string `json:"status"`
		ContractType      string `json:"contractType"`
		BaseAsset         string `json:"baseAsset"`
		QuoteAsset        string `json:"quoteAsset"`
		PricePrecision    int    `json:"pricePrecision"`
		QuantityPrecision int    `json:"quantityPrecision"`
	} `json:"symbols"`
}

// LoadMarkets fetches contract metadata for every active perpetual.
func (e *Exchange) LoadMarkets(ctx context.Context) ([]core.Market, error) {
	var body []byte
	err := retry.Do(ctx, retry.DefaultPolicy, apperrors.IsRetryable, func() error {
		var callErr error
		body, callErr = e.public.Get(ctx, "/fapi/v1/exchangeInfo", nil)
		return mapError(callErr)
	})
	if err != nil {
		return nil, err
	}

	var info exchangeInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse exchange info: %w", err)
	}

	markets := make([]core.Market, 0, len(info.Symbols))
	byNameActive := make(map[string]core.Market, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.ContractType != "PERPETUAL" {
			continue
		}
		m := core.Market{
			Symbol:        s.Symbol,
			UnifiedSymbol: fmt.Sprintf("%s/%s:%s", s.BaseAsset, s.QuoteAsset, s.QuoteAsset),
			Base:          s.BaseAsset,
			Quote:         s.QuoteAsset,
			Active:        s.Status == "TRADING",
			PriceDecimals: s.PricePrecision,
			QtyDecimals:   s.QuantityPrecision,
		}
		markets = append(markets, m)
		byNameActive[m.Symbol] = m
	}

	e.mu.Lock()
	e.markets = byNameActive
	e.mu.Unlock()

	e.logger.Info("Markets loaded", "count", len(markets))
	return markets, nil
}

func (e *Exchange) market(symbol string) (core.Market, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.markets[symbol]
	return m, ok
}

type tickerResponse struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	QuoteVolume string `json:"quoteVolume"`
	CloseTime   int64  `json:"closeTime"`
}

func (t tickerResponse) toTicker() (*core.Ticker, error) {
	last, err := decimal.NewFromString(t.LastPrice)
	if err != nil {
		return nil, fmt.Errorf("bad last price %q: %w", t.LastPrice, err)
	}
	vol, _ := decimal.NewFromString(t.QuoteVolume)
	return &core.Ticker{
		Symbol:      t.Symbol,
		LastPrice:   last,
		QuoteVolume: vol.InexactFloat64(),
		Timestamp:   time.UnixMilli(t.CloseTime),
	}, nil
}

// FetchTicker fetches one symbol's 24 h snapshot.
func (e *Exchange) FetchTicker(ctx context.Context, symbol string) (*core.Ticker, error) {
	var body []byte
	err := retry.Do(ctx, retry.DefaultPolicy, apperrors.IsRetryable, func() error {
		var callErr error
		body, callErr = e.public.Get(ctx, "/fapi/v1/ticker/24hr", map[string]string{"symbol": symbol})
		return mapError(callErr)
	})
	if err != nil {
		return nil, err
	}

	var resp tickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse ticker: %w", err)
	}
	return resp.toTicker()
}

// FetchTickers fetches the whole venue in one batch call.
func (e *Exchange) FetchTickers(ctx context.Context) ([]*core.Ticker, error) {
	var body []byte
	err := retry.Do(ctx, retry.DefaultPolicy, apperrors.IsRetryable, func() error {
		var callErr error
		body, callErr = e.public.Get(ctx, "/fapi/v1/ticker/24hr", nil)
		return mapError(callErr)
	})
	if err != nil {
		return nil, err
	}

	var resp []tickerResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse tickers: %w", err)
	}

	out := make([]*core.Ticker, 0, len(resp))
	for _, r := range resp {
		t, err := r.toTicker()
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// FetchOHLCV fetches klines. Candle volume is the quote-asset volume.
func (e *Exchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]core.Candle, error) {
	params := map[string]string{
		"symbol":   symbol,
		"interval": timeframe,
		"limit":    fmt.Sprintf("%d", limit),
	}

	var body []byte
	err := retry.Do(ctx, retry.DefaultPolicy, apperrors.IsRetryable, func() error {
		var callErr error
		body, callErr = e.public.Get(ctx, "/fapi/v1/klines", params)
		return mapError(callErr)
	})
	if err != nil {
		return nil, err
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse klines: %w", err)
	}

	candles := make([]core.Candle, 0, len(raw))
	for _, row := range raw {
		if c, ok := parseKline(row); ok {
			candles = append(candles, c)
		}
	}
	return candles, nil
}

// parseKline decodes one kline row. Any malformed field rejects the
// whole row rather than yielding a candle with zeroed prices.
func parseKline(row []json.RawMessage) (core.Candle, bool) {
	var c core.Candle
	if len(row) < 8 {
		return c, false
	}
	if err := json.Unmarshal(row[0], &c.OpenTime); err != nil {
		return c, false
	}
	var o, h, l, cl, qv string
	for i, dst := range []*string{&o, &h, &l, &cl} {
		if err := json.Unmarshal(row[i+1], dst); err != nil {
			return c, false
		}
	}
	if err := json.Unmarshal(row[7], &qv); err != nil {
		return c, false
	}
	c.Open = parseFloat(o)
	c.High = parseFloat(h)
	c.Low = parseFloat(l)
	c.Close = parseFloat(cl)
	c.Volume = parseFloat(qv)
	return c, true
}

func parseFloat(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

type balanceResponse struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance"`
}

// FetchBalance fetches the futures wallet balance for one asset.
func (e *Exchange) FetchBalance(ctx context.Context, asset string) (*core.Balance, error) {
	var body []byte
	err := retry.Do(ctx, retry.DefaultPolicy, apperrors.IsRetryable, func() error {
		var callErr error
		body, callErr = e.private.Get(ctx, "/fapi/v2/balance", nil)
		return mapError(callErr)
	})
	if err != nil {
		return nil, err
	}

	var resp []balanceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse balance: %w", err)
	}

	for _, b := range resp {
		if b.Asset != asset {
			continue
		}
		total, _ := decimal.NewFromString(b.Balance)
		avail, _ := decimal.NewFromString(b.AvailableBalance)
		return &core.Balance{Asset: asset, Total: total, Available: avail}, nil
	}
	return &core.Balance{Asset: asset}, nil
}

type positionResponse struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnrealizedProfit string `json:"unRealizedProfit"`
}

// FetchPositions fetches open positions, optionally for one symbol.
func (e *Exchange) FetchPositions(ctx context.Context, symbol string) ([]core.Position, error) {
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = symbol
	}

	var body []byte
	err := retry.Do(ctx, retry.DefaultPolicy, apperrors.IsRetryable, func() error {
		var callErr error
		body, callErr = e.private.Get(ctx, "/fapi/v2/positionRisk", params)
		return mapError(callErr)
	})
	if err != nil {
		return nil, err
	}

	var resp []positionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse positions: %w", err)
	}

	var out []core.Position
	for _, p := range resp {
		amt, err := decimal.NewFromString(p.PositionAmt)
		if err != nil || amt.IsZero() {
			continue
		}
		side := core.SideLong
		if amt.IsNegative() {
			side = core.SideShort
			amt = amt.Neg()
		}
		entry, _ := decimal.NewFromString(p.EntryPrice)
		mark, _ := decimal.NewFromString(p.MarkPrice)
		unreal, _ := decimal.NewFromString(p.UnrealizedProfit)
		out = append(out, core.Position{
			Symbol:     p.Symbol,
			Side:       side,
			Qty:        amt,
			EntryPrice: entry,
			MarkPrice:  mark,
			Unrealized: unreal,
		})
	}
	return out, nil
}

type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	Status        string `json:"status"`
}

// CreateOrder places an order. Not retried: a timed-out placement may
// have landed, and a duplicate would double exposure.
func (e *Exchange) CreateOrder(ctx context.Context, req *core.OrderRequest) (*core.Order, error) {
	params := map[string]string{
		"symbol":   req.Symbol,
		"side":     string(req.Side),
		"type":     string(req.Type),
		"quantity": e.formatQty(req.Symbol, req.Qty),
	}
	if req.Type == core.OrderLimit {
		params["price"] = e.formatPrice(req.Symbol, req.Price)
		params["timeInForce"] = "GTC"
	}
	if req.ReduceOnly {
		params["reduceOnly"] = "true"
	}
	if req.ClientOrderID != "" {
		params["newClientOrderId"] = req.ClientOrderID
	}

	body, err := e.private.Post(ctx, "/fapi/v1/order", params)
	if err != nil {
		return nil, mapError(err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse order response: %w", err)
	}

	price, _ := decimal.NewFromString(resp.Price)
	avg, _ := decimal.NewFromString(resp.AvgPrice)
	qty, _ := decimal.NewFromString(resp.OrigQty)
	filled, _ := decimal.NewFromString(resp.ExecutedQty)

	return &core.Order{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        resp.Symbol,
		Side:          core.OrderSide(resp.Side),
		Type:          core.OrderType(resp.Type),
		Price:         price,
		Qty:           qty,
		FilledQty:     filled,
		AvgFillPrice:  avg,
		Status:        resp.Status,
	}, nil
}

// CancelOrder cancels by order id. An already-gone order counts as
// success (idempotent cancel).
func (e *Exchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	params := map[string]string{
		"symbol":  symbol,
		"orderId": fmt.Sprintf("%d", orderID),
	}

	err := retry.Do(ctx, retry.DefaultPolicy, apperrors.IsRetryable, func() error {
		_, callErr := e.private.Delete(ctx, "/fapi/v1/order", params)
		return mapError(callErr)
	})
	if errors.Is(err, apperrors.ErrOrderNotFound) {
		return nil
	}
	return err
}

func (e *Exchange) formatQty(symbol string, qty decimal.Decimal) string {
	if m, ok := e.market(symbol); ok {
		return qty.Round(int32(m.QtyDecimals)).String()
	}
	return qty.String()
}

func (e *Exchange) formatPrice(symbol string, price decimal.Decimal) string {
	if m, ok := e.market(symbol); ok {
		return price.Round(int32(m.PriceDecimals)).String()
	}
	return price.String()
}

// WatchTickers opens the combined ticker stream for the given symbols.
func (e *Exchange) WatchTickers(ctx context.Context, symbols []string, callback func(*core.Ticker)) error {
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols to watch")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stream != nil {
		return fmt.Errorf("ticker stream already running")
	}

	e.stream = newTickerStream(e.streamURL, symbols, callback, e.logger)
	e.stream.start()
	return nil
}

// StreamHealthy reports the ticker stream's liveness. No stream means
// nothing to be unhealthy about.
func (e *Exchange) StreamHealthy() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stream == nil || e.stream.healthy()
}

// StopStreams tears down any open streaming connection.
func (e *Exchange) StopStreams() error {
	e.mu.Lock()
	stream := e.stream
	e.stream = nil
	e.mu.Unlock()

	if stream != nil {
		stream.stop()
	}
	return nil
}
