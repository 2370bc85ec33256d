package store

import (
	"context"
	"path/filepath"
	"testing"

	"gridbot/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSymbolStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snapshot := []byte(`{"long_anchor":"100.5","lots":[]}`)
	require.NoError(t, s.SaveSymbolState(ctx, "XRPUSDC", snapshot))

	loaded, err := s.LoadSymbolState(ctx, "XRPUSDC")
	require.NoError(t, err)
	assert.Equal(t, snapshot, loaded)
}

func TestLoadMissingSymbolReturnsNil(t *testing.T) {
	s := newTestStore(t)

	loaded, err := s.LoadSymbolState(context.Background(), "NOPEUSDC")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSaveOverwritesPreviousSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSymbolState(ctx, "XRPUSDC", []byte(`{"v":1}`)))
	require.NoError(t, s.SaveSymbolState(ctx, "XRPUSDC", []byte(`{"v":2}`)))

	loaded, err := s.LoadSymbolState(ctx, "XRPUSDC")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(loaded))
}

func TestSaveRejectsInvalidJSON(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.SaveSymbolState(context.Background(), "XRPUSDC", []byte("{broken")))
}

func TestChecksumMismatchDetected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSymbolState(ctx, "XRPUSDC", []byte(`{"v":1}`)))

	// Corrupt the stored payload behind the checksum's back.
	_, err := s.db.ExecContext(ctx, `UPDATE symbol_state SET data = '{"v":9}' WHERE symbol = ?`, "XRPUSDC")
	require.NoError(t, err)

	_, err = s.LoadSymbolState(ctx, "XRPUSDC")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")
}

func TestTradeLogAppendOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, price := range []string{"100", "99", "101"} {
		rec := &core.TradeRecord{
			Symbol:    "XRPUSDC",
			Side:      core.SideLong,
			Kind:      core.TradeEntry,
			Price:     decimal.RequireFromString(price),
			Qty:       decimal.NewFromInt(10),
			Timestamp: int64(i),
		}
		require.NoError(t, s.AppendTrade(ctx, rec))
	}
	require.NoError(t, s.AppendTrade(ctx, &core.TradeRecord{
		Symbol: "OTHERUSDC", Side: core.SideShort, Kind: core.TradeTakeProfit,
		Price: decimal.NewFromInt(50), Qty: decimal.NewFromInt(5),
	}))

	trades, err := s.TradesBySymbol(ctx, "XRPUSDC")
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, "100", trades[0].Price.String())
	assert.Equal(t, "101", trades[2].Price.String())
}

func TestRotationHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendRotation(ctx, &core.RotationSignal{
		FromSymbol: "AAAUSDC", ToSymbol: "BBBUSDC", ScoreDiff: 22.5, Reason: "score gap 22.5",
	}))

	rotations, err := s.Rotations(ctx)
	require.NoError(t, err)
	require.Len(t, rotations, 1)
	assert.Equal(t, "AAAUSDC", rotations[0].FromSymbol)
	assert.Equal(t, "BBBUSDC", rotations[0].ToSymbol)
	assert.InDelta(t, 22.5, rotations[0].ScoreDiff, 1e-9)
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveSymbolState(ctx, "XRPUSDC", []byte(`{"v":1}`)))
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()

	loaded, err := s2.LoadSymbolState(ctx, "XRPUSDC")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(loaded))
}
