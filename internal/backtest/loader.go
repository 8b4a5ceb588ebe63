// Package backtest replays historical candles through the grid logic
// and reports the strategy's performance.
package backtest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gridbot/internal/core"

	"github.com/shopspring/decimal"
)

// LoadCandlesCSV reads OHLCV rows from a CSV file with columns
// ts,open,high,low,close,volume. A header row is skipped when the
// first field does not parse as a timestamp. Timestamps may be unix
// seconds, unix milliseconds, or RFC3339.
func LoadCandlesCSV(path string) ([]core.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open candle file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 6
	r.TrimLeadingSpace = true

	var candles []core.Candle
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read candle row: %w", err)
		}
		line++

		ts, err := parseTimestamp(record[0])
		if err != nil {
			if line == 1 {
				// Header row
				continue
			}
			return nil, fmt.Errorf("row %d: bad timestamp %q: %w", line, record[0], err)
		}

		candle := core.Candle{Ts: ts}
		fields := []*decimal.Decimal{&candle.Open, &candle.High, &candle.Low, &candle.Close, &candle.Volume}
		for i, dst := range fields {
			v, err := decimal.NewFromString(record[i+1])
			if err != nil {
				return nil, fmt.Errorf("row %d: bad value %q: %w", line, record[i+1], err)
			}
			*dst = v
		}
		if candle.High.LessThan(candle.Low) {
			return nil, fmt.Errorf("row %d: high %s below low %s", line, candle.High, candle.Low)
		}
		candles = append(candles, candle)
	}

	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles in %s", path)
	}
	return candles, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		// Values past the year 33658 in seconds are milliseconds
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}
