package backtest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCandlesCSV(t *testing.T) {
	data := `open_time,open,high,low,close,volume
1700000000000,100.0,101.5,99.5,100.5,12345.6
1700003600000,100.5,102.0,100.1,101.8,23456.7
`
	candles, err := ReadCandlesCSV(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.Equal(t, int64(1700000000000), candles[0].OpenTime)
	assert.InDelta(t, 100.5, candles[0].Close, 1e-9)
	assert.InDelta(t, 23456.7, candles[1].Volume, 1e-9)
}

func TestReadCandlesCSVAnyColumnOrder(t *testing.T) {
	data := `close,volume,open_time,low,high,open
100.5,12345.6,1700000000000,99.5,101.5,100.0
`
	candles, err := ReadCandlesCSV(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.InDelta(t, 101.5, candles[0].High, 1e-9)
}

func TestReadCandlesCSVRejectsMissingColumns(t *testing.T) {
	data := `open_time,open,high,low,close
1700000000000,100.0,101.5,99.5,100.5
`
	_, err := ReadCandlesCSV(strings.NewReader(data))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "volume")
}

func TestReadCandlesCSVRejectsBadNumbers(t *testing.T) {
	data := `open_time,open,high,low,close,volume
not-a-time,100.0,101.5,99.5,100.5,1
`
	_, err := ReadCandlesCSV(strings.NewReader(data))
	assert.Error(t, err)
}
