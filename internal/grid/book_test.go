package grid

import (
	"testing"

	"gridbot/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSeedAnchorOnlyOnce(t *testing.T) {
	b := NewBook("XRPUSDC", testParams())

	b.SeedAnchor(core.SideLong, d("100"))
	b.SeedAnchor(core.SideLong, d("200"))

	assert.True(t, b.Anchor(core.SideLong).Equal(d("100")))
	assert.False(t, b.Seeded(core.SideShort))
}

func TestRecordEntryAccounting(t *testing.T) {
	p := testParams()
	p.Leverage = 10
	p.FeePct = d("0.0004")
	b := NewBook("XRPUSDC", p)

	fill := b.RecordEntry(core.SideLong, d("100"), d("10"), 1)

	// notional 1000, margin 100 at 10x, fee 0.40
	assert.True(t, fill.Margin.Equal(d("100")), "margin %s", fill.Margin)
	assert.True(t, fill.Fee.Equal(d("0.4")), "fee %s", fill.Fee)
	assert.True(t, b.Exposure(core.SideLong).Equal(d("10")))
	assert.True(t, b.Anchor(core.SideLong).Equal(d("100")))
	assert.Equal(t, 1, b.LotCount())
	require.Len(t, b.Trades(), 1)
	assert.Equal(t, core.TradeEntry, b.Trades()[0].Kind)
}

func TestTakeProfitClosesFIFO(t *testing.T) {
	b := NewBook("XRPUSDC", testParams())
	b.RecordEntry(core.SideLong, d("100"), d("10"), 1)
	b.RecordEntry(core.SideLong, d("99"), d("10"), 2)
	b.RecordEntry(core.SideLong, d("98"), d("10"), 3)

	// Requests 15: head lot (100) fully, second lot (99) half.
	fill := b.RecordTakeProfit(core.SideLong, d("102"), d("15"), 4)

	assert.True(t, fill.ClosedQty.Equal(d("15")))
	// (102-100)*10 + (102-99)*5 = 35, fee 0
	assert.True(t, fill.NetPnL.Equal(d("35")), "pnl %s", fill.NetPnL)
	assert.True(t, b.Exposure(core.SideLong).Equal(d("15")))

	// The 99 lot is now the head, halved; the 98 lot untouched.
	remaining := b.side(core.SideLong).Lots
	require.Len(t, remaining, 2)
	assert.True(t, remaining[0].EntryPrice.Equal(d("99")))
	assert.True(t, remaining[0].Qty.Equal(d("5")))
	assert.True(t, remaining[1].EntryPrice.Equal(d("98")))
	assert.True(t, remaining[1].Qty.Equal(d("10")))
}

func TestPartialClosureReducesMarginProportionally(t *testing.T) {
	p := testParams()
	p.Leverage = 10
	b := NewBook("XRPUSDC", p)
	b.RecordEntry(core.SideLong, d("100"), d("10"), 1) // margin 100

	fill := b.RecordTakeProfit(core.SideLong, d("101"), d("4"), 2)

	assert.True(t, fill.ReleasedMargin.Equal(d("40")), "released %s", fill.ReleasedMargin)
	head := b.side(core.SideLong).Lots[0]
	assert.True(t, head.Margin.Equal(d("60")))
	assert.True(t, head.Qty.Equal(d("6")))
}

func TestTakeProfitOverRequestClosesEverything(t *testing.T) {
	b := NewBook("XRPUSDC", testParams())
	b.RecordEntry(core.SideShort, d("100"), d("10"), 1)
	b.RecordEntry(core.SideShort, d("101"), d("10"), 2)

	fill := b.RecordTakeProfit(core.SideShort, d("95"), d("100"), 3)

	assert.True(t, fill.ClosedQty.Equal(d("20")))
	assert.True(t, b.Exposure(core.SideShort).IsZero())
	// (100-95)*10 + (101-95)*10 = 110
	assert.True(t, fill.NetPnL.Equal(d("110")), "pnl %s", fill.NetPnL)
}

func TestTakeProfitOnEmptySideLeavesAnchorAlone(t *testing.T) {
	b := NewBook("XRPUSDC", testParams())
	b.SeedAnchor(core.SideLong, d("100"))

	fill := b.RecordTakeProfit(core.SideLong, d("105"), d("10"), 1)

	assert.True(t, fill.ClosedQty.IsZero())
	assert.True(t, b.Anchor(core.SideLong).Equal(d("100")))
	assert.Empty(t, b.Trades())
	assert.True(t, b.RealizedPnL().IsZero())
}

func TestAnchorMovesOnlyOnFills(t *testing.T) {
	b := NewBook("XRPUSDC", testParams())
	b.SeedAnchor(core.SideLong, d("100"))

	b.RecordEntry(core.SideLong, d("99"), d("10"), 1)
	assert.True(t, b.Anchor(core.SideLong).Equal(d("99")))

	b.RecordTakeProfit(core.SideLong, d("101"), d("10"), 2)
	assert.True(t, b.Anchor(core.SideLong).Equal(d("101")))

	// Short side never filled, never moved.
	b.SeedAnchor(core.SideShort, d("100"))
	b.RecordTakeProfit(core.SideShort, d("95"), d("10"), 3)
	assert.True(t, b.Anchor(core.SideShort).Equal(d("100")))
}

func TestShortSidePnLSign(t *testing.T) {
	p := testParams()
	p.FeePct = d("0.001")
	b := NewBook("XRPUSDC", p)
	b.RecordEntry(core.SideShort, d("100"), d("10"), 1)

	fill := b.RecordTakeProfit(core.SideShort, d("99"), d("10"), 2)

	// gross (100-99)*10 = 10, fee 99*10*0.001 = 0.99
	assert.True(t, fill.NetPnL.Equal(d("9.01")), "pnl %s", fill.NetPnL)
	assert.True(t, b.RealizedPnL().Equal(d("9.01")))
}

func TestUnrealizedPnLBothSides(t *testing.T) {
	b := NewBook("XRPUSDC", testParams())
	b.RecordEntry(core.SideLong, d("100"), d("10"), 1)
	b.RecordEntry(core.SideShort, d("110"), d("10"), 2)

	// long: (105-100)*10 = 50; short: (110-105)*10 = 50
	assert.True(t, b.UnrealizedPnL(d("105")).Equal(d("100")))
}

func TestPositionsAggregatePerSide(t *testing.T) {
	b := NewBook("XRPUSDC", testParams())

	assert.Empty(t, b.Positions(d("100")))

	b.RecordEntry(core.SideLong, d("100"), d("10"), 1)
	b.RecordEntry(core.SideLong, d("90"), d("10"), 2)
	b.RecordEntry(core.SideShort, d("110"), d("5"), 3)

	positions := b.Positions(d("100"))
	require.Len(t, positions, 2)

	long := positions[0]
	assert.Equal(t, "XRPUSDC", long.Symbol)
	assert.Equal(t, core.SideLong, long.Side)
	assert.True(t, long.Qty.Equal(d("20")))
	// weighted entry (100*10 + 90*10) / 20 = 95
	assert.True(t, long.EntryPrice.Equal(d("95")), "entry %s", long.EntryPrice)
	assert.True(t, long.Unrealized.Equal(d("100")), "unrealized %s", long.Unrealized)

	short := positions[1]
	assert.Equal(t, core.SideShort, short.Side)
	assert.True(t, short.Qty.Equal(d("5")))
	assert.True(t, short.Unrealized.Equal(d("50")), "unrealized %s", short.Unrealized)
}

func TestSnapshotRoundTrip(t *testing.T) {
	p := testParams()
	p.Leverage = 10
	b := NewBook("XRPUSDC", p)
	b.RecordEntry(core.SideLong, d("100"), d("10"), 1)
	b.RecordEntry(core.SideShort, d("105"), d("5"), 2)
	b.RecordTakeProfit(core.SideLong, d("102"), d("5"), 3)

	data, err := b.MarshalSnapshot()
	require.NoError(t, err)

	restored := NewBook("XRPUSDC", p)
	require.NoError(t, restored.RestoreSnapshot(data))

	assert.True(t, restored.Exposure(core.SideLong).Equal(b.Exposure(core.SideLong)))
	assert.True(t, restored.Exposure(core.SideShort).Equal(b.Exposure(core.SideShort)))
	assert.True(t, restored.Anchor(core.SideLong).Equal(d("102")))
	assert.True(t, restored.Anchor(core.SideShort).Equal(d("105")))
	assert.True(t, restored.RealizedPnL().Equal(b.RealizedPnL()))
	assert.True(t, restored.Seeded(core.SideLong))
	assert.True(t, restored.Seeded(core.SideShort))
}
