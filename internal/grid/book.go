package grid

import (
	"encoding/json"

	"gridbot/internal/core"

	"github.com/shopspring/decimal"
)

// sideState holds one direction's open lots and last-fill anchor.
type sideState struct {
	Lots   []core.Lot      `json:"lots"`
	Anchor decimal.Decimal `json:"anchor"`
	seeded bool
}

// Book is the per-symbol grid state: open lots per side, anchors,
// realized PnL, and the trade log. It has no internal locking; the
// owning loop serializes access.
type Book struct {
	symbol   string
	params   Params
	long     sideState
	short    sideState
	realized decimal.Decimal
	trades   []core.TradeRecord
}

// NewBook creates an empty book for one symbol.
func NewBook(symbol string, params Params) *Book {
	return &Book{symbol: symbol, params: params}
}

func (b *Book) side(s core.Side) *sideState {
	if s == core.SideShort {
		return &b.short
	}
	return &b.long
}

// Symbol returns the book's symbol.
func (b *Book) Symbol() string { return b.symbol }

// Anchor returns the side's last-fill anchor price.
func (b *Book) Anchor(s core.Side) decimal.Decimal { return b.side(s).Anchor }

// Seeded reports whether the side has an anchor.
func (b *Book) Seeded(s core.Side) bool { return b.side(s).seeded }

// SeedAnchor initializes a side's anchor before the first fill. It is
// a no-op once the side is seeded: after that, only fills move it.
func (b *Book) SeedAnchor(s core.Side, price decimal.Decimal) {
	st := b.side(s)
	if st.seeded {
		return
	}
	st.Anchor = price
	st.seeded = true
}

// Exposure is the side's open quantity in base units.
func (b *Book) Exposure(s core.Side) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range b.side(s).Lots {
		total = total.Add(lot.Qty)
	}
	return total
}

// LotCount is the number of open lots across both sides.
func (b *Book) LotCount() int {
	return len(b.long.Lots) + len(b.short.Lots)
}

// Notional is the side's total open notional.
func (b *Book) Notional(s core.Side) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range b.side(s).Lots {
		total = total.Add(lot.EntryPrice.Mul(lot.Qty))
	}
	return total
}

// RealizedPnL is the cumulative net realized profit.
func (b *Book) RealizedPnL() decimal.Decimal { return b.realized }

// Trades returns the trade log.
func (b *Book) Trades() []core.TradeRecord { return b.trades }

// EntryFill is the accounting result of a recorded entry.
type EntryFill struct {
	Margin decimal.Decimal
	Fee    decimal.Decimal
}

// RecordEntry appends a lot at the fill price, moves the anchor to it,
// and returns the margin and fee the ledger must be debited.
func (b *Book) RecordEntry(s core.Side, price, qty decimal.Decimal, ts int64) EntryFill {
	notional := price.Mul(qty)
	margin := notional.Div(decimal.NewFromInt(b.params.Leverage))
	fee := notional.Mul(b.params.FeePct)

	st := b.side(s)
	st.Lots = append(st.Lots, core.Lot{EntryPrice: price, Qty: qty, Margin: margin})
	st.Anchor = price
	st.seeded = true

	b.trades = append(b.trades, core.TradeRecord{
		Symbol:    b.symbol,
		Side:      s,
		Kind:      core.TradeEntry,
		Price:     price,
		Qty:       qty,
		Fee:       fee,
		Timestamp: ts,
	})

	return EntryFill{Margin: margin, Fee: fee}
}

// CloseFill is the accounting result of a recorded take-profit.
type CloseFill struct {
	ClosedQty      decimal.Decimal
	ReleasedMargin decimal.Decimal
	Fee            decimal.Decimal
	NetPnL         decimal.Decimal
}

// RecordTakeProfit consumes lots strictly FIFO up to requestedQty at
// the fill price. A request exceeding the open quantity closes
// everything and stops; a partial closure reduces the head lot's qty
// and margin proportionally. The anchor moves to the fill price only
// when at least one unit closed.
func (b *Book) RecordTakeProfit(s core.Side, price, requestedQty decimal.Decimal, ts int64) CloseFill {
	st := b.side(s)
	remaining := requestedQty
	fill := CloseFill{}

	for len(st.Lots) > 0 && remaining.IsPositive() {
		head := &st.Lots[0]

		closeQty := head.Qty
		if remaining.LessThan(closeQty) {
			closeQty = remaining
		}

		var gross decimal.Decimal
		if s == core.SideLong {
			gross = price.Sub(head.EntryPrice).Mul(closeQty)
		} else {
			gross = head.EntryPrice.Sub(price).Mul(closeQty)
		}
		fee := price.Mul(closeQty).Mul(b.params.FeePct)
		net := gross.Sub(fee)

		var released decimal.Decimal
		if closeQty.Equal(head.Qty) {
			released = head.Margin
			st.Lots = st.Lots[1:]
		} else {
			released = head.Margin.Mul(closeQty).Div(head.Qty)
			head.Margin = head.Margin.Sub(released)
			head.Qty = head.Qty.Sub(closeQty)
		}

		fill.ClosedQty = fill.ClosedQty.Add(closeQty)
		fill.ReleasedMargin = fill.ReleasedMargin.Add(released)
		fill.Fee = fill.Fee.Add(fee)
		fill.NetPnL = fill.NetPnL.Add(net)
		remaining = remaining.Sub(closeQty)
	}

	if fill.ClosedQty.IsPositive() {
		st.Anchor = price
		st.seeded = true
		b.realized = b.realized.Add(fill.NetPnL)
		b.trades = append(b.trades, core.TradeRecord{
			Symbol:    b.symbol,
			Side:      s,
			Kind:      core.TradeTakeProfit,
			Price:     price,
			Qty:       fill.ClosedQty,
			Fee:       fill.Fee,
			PnL:       fill.NetPnL,
			Timestamp: ts,
		})
	}

	return fill
}

// Positions aggregates each engaged side into one position marked at
// the given price. Entry is the volume-weighted average of open lots.
func (b *Book) Positions(mark decimal.Decimal) []core.Position {
	var out []core.Position
	for _, s := range []core.Side{core.SideLong, core.SideShort} {
		qty := b.Exposure(s)
		if !qty.IsPositive() {
			continue
		}
		entry := b.Notional(s).Div(qty)
		var unrealized decimal.Decimal
		if s == core.SideLong {
			unrealized = mark.Sub(entry).Mul(qty)
		} else {
			unrealized = entry.Sub(mark).Mul(qty)
		}
		out = append(out, core.Position{
			Symbol:     b.symbol,
			Side:       s,
			Qty:        qty,
			EntryPrice: entry,
			MarkPrice:  mark,
			Unrealized: unrealized,
		})
	}
	return out
}

// UnrealizedPnL marks all open lots against the given price.
func (b *Book) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range b.long.Lots {
		total = total.Add(mark.Sub(lot.EntryPrice).Mul(lot.Qty))
	}
	for _, lot := range b.short.Lots {
		total = total.Add(lot.EntryPrice.Sub(mark).Mul(lot.Qty))
	}
	return total
}

// bookSnapshot is the persisted form of a Book.
type bookSnapshot struct {
	Symbol   string             `json:"symbol"`
	Long     sideState          `json:"long"`
	Short    sideState          `json:"short"`
	Realized decimal.Decimal    `json:"realized_pnl"`
	Trades   []core.TradeRecord `json:"trades,omitempty"`
}

// MarshalSnapshot serializes the book for the state store.
func (b *Book) MarshalSnapshot() ([]byte, error) {
	return json.Marshal(bookSnapshot{
		Symbol:   b.symbol,
		Long:     b.long,
		Short:    b.short,
		Realized: b.realized,
	})
}

// RestoreSnapshot loads lots, anchors, and realized PnL from a
// persisted snapshot.
func (b *Book) RestoreSnapshot(data []byte) error {
	var snap bookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	b.long = snap.Long
	b.short = snap.Short
	b.long.seeded = !b.long.Anchor.IsZero()
	b.short.seeded = !b.short.Anchor.IsZero()
	b.realized = snap.Realized
	return nil
}
