package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartwatch/chartwatch/internal/detect"
	"github.com/chartwatch/chartwatch/internal/scanner"
	"github.com/chartwatch/chartwatch/internal/timeframe"
)

func TestWriteResults(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 3, 24, 12, 30, 45, 0, time.UTC)
	results := map[string][]scanner.Result{
		"confluence": {
			{
				Symbol:        "BTCUSDT",
				Venue:         "binance",
				TF:            timeframe.D1,
				BarTs:         time.Date(2025, 3, 23, 0, 0, 0, 0, time.UTC),
				Close:         64250.5,
				VolumeUSD:     1200000,
				CloseOffLow:   0.91,
				ClosePosition: "in_highs",
				Payload:       detect.Payload{"direction": "Up"},
			},
		},
		"consolidation_breakout": {
			{
				Symbol:        "ETHUSDT",
				Venue:         "bybit",
				TF:            timeframe.D1,
				BarTs:         time.Date(2025, 3, 23, 0, 0, 0, 0, time.UTC),
				Close:         3300,
				VolumeUSD:     400000,
				CloseOffLow:   0.8,
				ClosePosition: "in_highs",
				Payload:       detect.Payload{"direction": "Up", "strength": "Strong"},
			},
		},
	}

	path, err := WriteResults(dir, results, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "scan_20250324_123045.csv"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])

	// strategies are written in sorted order
	assert.Equal(t, "confluence", rows[1][0])
	assert.Equal(t, "BTCUSDT", rows[1][2])
	assert.Equal(t, "Up", rows[1][9])
	assert.Equal(t, "consolidation_breakout", rows[2][0])
	assert.Equal(t, "Strong", rows[2][10])
}

func TestWriteResultsEmpty(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteResults(dir, nil, time.Date(2025, 3, 24, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "strategy,exchange,symbol")
}
