// Package export writes scan results to CSV files for offline analysis.
package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chartwatch/chartwatch/internal/scanner"
)

var csvHeader = []string{
	"strategy", "exchange", "symbol", "timeframe", "bar_ts",
	"close", "volume_usd", "close_off_low", "close_position", "direction", "strength",
}

// WriteResults writes one CSV per run into dir, named by the run timestamp.
// Returns the file path.
func WriteResults(dir string, results map[string][]scanner.Result, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("scan_%s.csv", now.UTC().Format("20060102_150405")))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return "", fmt.Errorf("export: %w", err)
	}

	strategies := make([]string, 0, len(results))
	for name := range results {
		strategies = append(strategies, name)
	}
	sort.Strings(strategies)

	rows := 0
	for _, name := range strategies {
		for _, r := range results[name] {
			if err := w.Write(resultRow(name, r)); err != nil {
				return "", fmt.Errorf("export: %w", err)
			}
			rows++
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("export: %w", err)
	}
	log.Info().Str("path", path).Int("rows", rows).Msg("results exported")
	return path, nil
}

func resultRow(strategy string, r scanner.Result) []string {
	direction := ""
	if d, ok := r.Payload["direction"]; ok {
		direction = fmt.Sprint(d)
	}
	strength := ""
	if s, ok := r.Payload["strength"].(string); ok {
		strength = s
	}
	return []string{
		strategy,
		r.Venue,
		r.Symbol,
		r.TF.String(),
		r.BarTs.UTC().Format(time.RFC3339),
		strconv.FormatFloat(r.Close, 'f', -1, 64),
		strconv.FormatFloat(r.VolumeUSD, 'f', 2, 64),
		strconv.FormatFloat(r.CloseOffLow, 'f', 4, 64),
		r.ClosePosition,
		direction,
		strength,
	}
}
