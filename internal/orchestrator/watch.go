package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chartwatch/chartwatch/internal/timeframe"
)

// State of the long-running watcher.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateCoolingDown
)

func (s State) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateCoolingDown:
		return "cooling_down"
	}
	return "idle"
}

const (
	closeGrace      = time.Minute // wait past the candle close before scanning
	defaultMinSleep = time.Minute
	defaultMaxSleep = 15 * time.Minute
	fatalRetryDelay = 2 * time.Minute
	breatherMin     = 5 * time.Second
	breatherMax     = 15 * time.Second
)

// WatchOptions extends the session options with scheduler knobs. Zero values
// take the defaults; tests shrink the delays.
type WatchOptions struct {
	Options

	// FuturesStrategies run only on perpetual-futures venues, as their own
	// priority group.
	FuturesStrategies []string

	MinCooldown time.Duration
	FatalRetry  time.Duration
	BreatherMin time.Duration
	BreatherMax time.Duration
}

func (w WatchOptions) minCooldown() time.Duration {
	if w.MinCooldown > 0 {
		return w.MinCooldown
	}
	return defaultMinSleep
}

func (w WatchOptions) fatalRetry() time.Duration {
	if w.FatalRetry > 0 {
		return w.FatalRetry
	}
	return fatalRetryDelay
}

func (w WatchOptions) breather() (time.Duration, time.Duration) {
	lo, hi := w.BreatherMin, w.BreatherMax
	if hi <= 0 {
		lo, hi = breatherMin, breatherMax
	}
	if lo > hi {
		lo = hi
	}
	return lo, hi
}

// Watcher drives scan sessions on candle-close boundaries.
type Watcher struct {
	Orch *Orchestrator
	Now  func() time.Time

	mu    sync.Mutex
	state State
}

func NewWatcher(orch *Orchestrator) *Watcher {
	return &Watcher{Orch: orch, Now: time.Now}
}

func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	prev := w.state
	w.state = s
	w.mu.Unlock()
	if prev != s {
		log.Info().Str("from", prev.String()).Str("to", s.String()).Msg("watcher state change")
	}
}

// Run loops forever: idle until the next candle-close boundary plus a grace
// minute, scan all priority groups, cool down, repeat. A fatal tick error is
// logged and retried after a pause. Returns when the context is cancelled.
func (w *Watcher) Run(ctx context.Context, opts WatchOptions) error {
	for {
		w.setState(StateIdle)
		boundary := nextBoundary(w.Now(), opts.Timeframes).Add(closeGrace)
		if err := w.sleepUntil(ctx, boundary, opts); err != nil {
			return err
		}

		w.setState(StateScanning)
		if err := w.RunTick(ctx, opts, w.Now()); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Dur("retry_in", opts.fatalRetry()).Msg("scheduler tick failed")
			if err := sleepCtx(ctx, opts.fatalRetry()); err != nil {
				return err
			}
			continue
		}

		w.setState(StateCoolingDown)
		if err := sleepCtx(ctx, opts.minCooldown()); err != nil {
			return err
		}
	}
}

// RunTick executes one scheduled tick: every priority group in order with a
// breather between groups, delivering each group's results as it completes.
func (w *Watcher) RunTick(ctx context.Context, opts WatchOptions, now time.Time) error {
	groups := buildPriorityGroups(w.Orch, opts)
	for gi, g := range groups {
		if len(g.venues) == 0 || len(g.strategies) == 0 {
			continue
		}
		groupOpts := opts.Options
		groupOpts.Venues = g.venues
		groupOpts.Scan.Strategies = g.strategies

		results, err := w.Orch.RunSession(ctx, groupOpts, now)
		if err != nil {
			return err
		}
		if len(results) > 0 {
			w.Orch.Deliver(ctx, results)
		}

		if gi < len(groups)-1 {
			if err := sleepCtx(ctx, w.breatherDelay(opts)); err != nil {
				return err
			}
		}
	}
	return nil
}

type priorityGroup struct {
	name       string
	venues     []string
	strategies []string
}

// buildPriorityGroups orders the work so fast venues report first and
// composed strategies follow their primitives: fast primary, fast composed,
// fast futures-only, slow primary, slow composed.
func buildPriorityGroups(o *Orchestrator, opts WatchOptions) []priorityGroup {
	fast, slow := o.partition(opts.Venues)
	primary, composed := splitStrategies(opts.Scan.Strategies)

	var futuresVenues []string
	for _, v := range fast {
		if strings.Contains(v, "futures") {
			futuresVenues = append(futuresVenues, v)
		}
	}

	return []priorityGroup{
		{"fast_primary", fast, primary},
		{"fast_composed", fast, composed},
		{"fast_futures", futuresVenues, opts.FuturesStrategies},
		{"slow_primary", slow, primary},
		{"slow_composed", slow, composed},
	}
}

var composedStrategies = map[string]bool{
	"hbs_breakout": true,
	"vs_wakeup":    true,
}

func splitStrategies(all []string) (primary, composed []string) {
	for _, s := range all {
		if composedStrategies[s] {
			composed = append(composed, s)
		} else {
			primary = append(primary, s)
		}
	}
	return primary, composed
}

// nextBoundary returns the earliest upcoming candle close across the
// timeframes.
func nextBoundary(now time.Time, tfs []timeframe.Timeframe) time.Time {
	var next time.Time
	for _, tf := range tfs {
		c := tf.NextClose(now)
		if next.IsZero() || c.Before(next) {
			next = c
		}
	}
	if next.IsZero() {
		return now.Add(defaultMinSleep)
	}
	return next
}

// sleepUntil naps in bounded chunks toward the deadline: long naps while the
// boundary is far, shorter as it approaches, never under the cooldown floor.
func (w *Watcher) sleepUntil(ctx context.Context, deadline time.Time, opts WatchOptions) error {
	for {
		remaining := deadline.Sub(w.Now())
		if remaining <= 0 {
			return nil
		}
		nap := remaining / 2
		if nap < opts.minCooldown() {
			nap = remaining
		}
		if nap > defaultMaxSleep {
			nap = defaultMaxSleep
		}
		if err := sleepCtx(ctx, nap); err != nil {
			return err
		}
	}
}

func (w *Watcher) breatherDelay(opts WatchOptions) time.Duration {
	lo, hi := opts.breather()
	if hi <= lo {
		return lo
	}
	w.Orch.mu.Lock()
	defer w.Orch.mu.Unlock()
	return lo + time.Duration(w.Orch.rng.Int63n(int64(hi-lo)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
