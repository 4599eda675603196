// Package detect holds the pattern detectors. Every detector is a pure
// function over a candle frame: no I/O, no shared state, same inputs always
// produce the same result. The scanner fans detectors out per symbol and
// merges whatever fires.
package detect

import (
	"fmt"
	"sort"

	"github.com/chartwatch/chartwatch/internal/ohlcv"
)

// Payload carries detector-specific fields alongside the boolean verdict:
// direction, ages, heights, slopes, strength labels.
type Payload map[string]any

// Detector evaluates a frame at checkBar. checkBar -1 is the currently
// forming bar, -2 the last closed bar; non-negative values address bars
// directly. Detectors never return an error: a frame below the detector's
// minimum length yields (false, nil).
type Detector func(f *ohlcv.Frame, checkBar int) (bool, Payload)

var registry = map[string]Detector{}

// Register adds a detector under a strategy name. Called from package init;
// duplicate names are a programming error.
func Register(name string, d Detector) {
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("detect: duplicate strategy %q", name))
	}
	registry[name] = d
}

// Lookup returns the detector registered under name.
func Lookup(name string) (Detector, bool) {
	d, ok := registry[name]
	return d, ok
}

// Names lists all registered strategy names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Direction of a detected move.
const (
	DirDown = -1
	DirNone = 0
	DirUp   = 1
)

func dirLabel(dir int) string {
	switch {
	case dir > 0:
		return "Up"
	case dir < 0:
		return "Down"
	}
	return "None"
}
