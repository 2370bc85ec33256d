package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gridbot/internal/core"
)

// LoadCandlesCSV reads candles from a CSV file. The header row must
// include open_time, open, high, low, close, volume in any column
// order; open_time is milliseconds since epoch.
func LoadCandlesCSV(path string) ([]core.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open candle file: %w", err)
	}
	defer f.Close()
	return ReadCandlesCSV(f)
}

// ReadCandlesCSV parses CSV candle data from a reader.
func ReadCandlesCSV(r io.Reader) ([]core.Candle, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"open_time", "open", "high", "low", "close", "volume"} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("csv missing required column %q", required)
		}
	}

	var candles []core.Candle
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}

		openTime, err := strconv.ParseInt(row[idx["open_time"]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad open_time %q: %w", row[idx["open_time"]], err)
		}

		c := core.Candle{OpenTime: openTime}
		for col, dst := range map[string]*float64{
			"open": &c.Open, "high": &c.High, "low": &c.Low,
			"close": &c.Close, "volume": &c.Volume,
		} {
			v, err := strconv.ParseFloat(row[idx[col]], 64)
			if err != nil {
				return nil, fmt.Errorf("bad %s %q: %w", col, row[idx[col]], err)
			}
			*dst = v
		}
		candles = append(candles, c)
	}
	return candles, nil
}
