package binance

import (
	"encoding/json"
	"strings"
	"time"

	"gridbot/internal/core"
	"gridbot/pkg/websocket"

	"github.com/shopspring/decimal"
)

// combinedFrame is the envelope of the combined-stream endpoint.
type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// tickerEvent is the 24hrTicker stream payload.
type tickerEvent struct {
	EventType   string `json:"e"`
	EventTime   int64  `json:"E"`
	Symbol      string `json:"s"`
	LastPrice   string `json:"c"`
	QuoteVolume string `json:"q"`
}

// tickerStream subscribes to the combined ticker stream and forwards
// parsed snapshots. Reconnection lives in the websocket client.
type tickerStream struct {
	client   *websocket.Client
	callback func(*core.Ticker)
	logger   core.ILogger
}

func newTickerStream(streamURL string, symbols []string, callback func(*core.Ticker), logger core.ILogger) *tickerStream {
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(s)+"@ticker")
	}
	url := strings.TrimRight(streamURL, "/") + "/stream?streams=" + strings.Join(streams, "/")

	s := &tickerStream{callback: callback, logger: logger}
	s.client = websocket.NewClient(url, s.onMessage, logger)
	return s
}

func (s *tickerStream) start() { s.client.Start() }

func (s *tickerStream) stop() { s.client.Stop() }

func (s *tickerStream) healthy() bool { return s.client.Healthy() }

func (s *tickerStream) onMessage(message []byte) {
	var frame combinedFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		s.logger.Debug("Discarding unparseable stream frame", "error", err)
		return
	}

	var ev tickerEvent
	if err := json.Unmarshal(frame.Data, &ev); err != nil || ev.Symbol == "" {
		return
	}

	last, err := decimal.NewFromString(ev.LastPrice)
	if err != nil || !last.IsPositive() {
		return
	}
	vol, _ := decimal.NewFromString(ev.QuoteVolume)

	s.callback(&core.Ticker{
		Symbol:      ev.Symbol,
		LastPrice:   last,
		QuoteVolume: vol.InexactFloat64(),
		Timestamp:   time.UnixMilli(ev.EventTime),
	})
}
