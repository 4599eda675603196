// Package orchestrator plans and runs scan sessions: it partitions venues
// into fast and slow phases, bounds per-phase concurrency, staggers venue
// starts, and merges per-strategy results across venues and timeframes.
package orchestrator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chartwatch/chartwatch/internal/exchange"
	"github.com/chartwatch/chartwatch/internal/framecache"
	"github.com/chartwatch/chartwatch/internal/scanner"
	"github.com/chartwatch/chartwatch/internal/telemetry"
	"github.com/chartwatch/chartwatch/internal/timeframe"
)

const (
	defaultFastMax   = 4
	defaultSlowMax   = 2
	defaultStaggerMS = 250
)

// Options configures a scan session.
type Options struct {
	Timeframes []timeframe.Timeframe
	Venues     []string
	Scan       scanner.Config

	FastMaxExchanges int
	SlowMaxExchanges int
	StaggerMS        int // 0 means the 250ms default; negative disables

	BatchSize  int
	BatchDelay time.Duration
}

func (o Options) fastMax() int {
	if o.FastMaxExchanges > 0 {
		return o.FastMaxExchanges
	}
	return defaultFastMax
}

func (o Options) slowMax() int {
	if o.SlowMaxExchanges > 0 {
		return o.SlowMaxExchanges
	}
	return defaultSlowMax
}

func (o Options) stagger() time.Duration {
	ms := o.StaggerMS
	if ms == 0 {
		ms = defaultStaggerMS
	}
	return time.Duration(ms) * time.Millisecond
}

// ResultSink receives the merged results of a completed session.
type ResultSink interface {
	Deliver(ctx context.Context, results map[string][]scanner.Result) error
}

// Orchestrator owns the frame cache and the venue clients for the lifetime
// of a run. ClientFactory and SpeedOf exist so tests can substitute fake
// venues; both default to the exchange package.
type Orchestrator struct {
	Cache         *framecache.Cache
	ClientFactory func(venue string) (exchange.Client, error)
	SpeedOf       func(venue string) exchange.SpeedClass
	Sinks         []ResultSink
	Metrics       *telemetry.Metrics // optional

	rng *rand.Rand
	mu  sync.Mutex
}

func New() *Orchestrator {
	return &Orchestrator{
		Cache:         framecache.New(),
		ClientFactory: exchange.New,
		SpeedOf:       exchange.Speed,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RunSession scans every active timeframe over every venue and returns the
// merged per-strategy results. Inactive timeframes (calendar gating against
// now) are skipped. Venue failures are logged and do not abort the session.
func (o *Orchestrator) RunSession(ctx context.Context, opts Options, now time.Time) (map[string][]scanner.Result, error) {
	session := uuid.NewString()
	merged := make(map[string][]scanner.Result)

	active := make([]timeframe.Timeframe, 0, len(opts.Timeframes))
	for _, tf := range opts.Timeframes {
		if tf.ActiveOn(now) {
			active = append(active, tf)
		} else {
			log.Debug().Str("session", session).Str("timeframe", tf.String()).Msg("timeframe not active today")
		}
	}
	if len(active) == 0 {
		return merged, nil
	}

	fast, slow := o.partition(opts.Venues)
	log.Info().
		Str("session", session).
		Strs("fast", fast).
		Strs("slow", slow).
		Int("timeframes", len(active)).
		Msg("scan session starting")

	hasDerived := false
	for _, tf := range active {
		if tf.Derived() {
			hasDerived = true
		}
		o.Cache.Clear()
		o.runPhase(ctx, session, fast, tf, opts, opts.fastMax(), merged)
		o.runPhase(ctx, session, slow, tf, opts, opts.slowMax(), merged)
		if ctx.Err() != nil {
			return merged, ctx.Err()
		}
	}
	if hasDerived {
		o.Cache.Clear()
	}

	if o.Metrics != nil {
		o.Metrics.ObserveCache(o.Cache)
		for strategy, rs := range merged {
			o.Metrics.DetectorHits.WithLabelValues(strategy).Add(float64(len(rs)))
		}
	}

	log.Info().Str("session", session).Int("strategies_hit", len(merged)).Msg("scan session complete")
	return merged, nil
}

// Deliver forwards results to every configured sink. Sink errors are logged
// and swallowed; delivery failure never fails a session.
func (o *Orchestrator) Deliver(ctx context.Context, results map[string][]scanner.Result) {
	for _, s := range o.Sinks {
		if err := s.Deliver(ctx, results); err != nil {
			log.Error().Err(err).Msg("sink delivery failed")
		}
	}
}

func (o *Orchestrator) partition(venues []string) (fast, slow []string) {
	for _, v := range venues {
		if o.SpeedOf(v) == exchange.Fast {
			fast = append(fast, v)
		} else {
			slow = append(slow, v)
		}
	}
	return fast, slow
}

// runPhase scans the venue set with bounded parallelism and a randomized
// start stagger, merging results under the orchestrator lock.
func (o *Orchestrator) runPhase(ctx context.Context, session string, venues []string, tf timeframe.Timeframe, opts Options, limit int, merged map[string][]scanner.Result) {
	if len(venues) == 0 {
		return
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for _, venue := range venues {
		wg.Add(1)
		go func(venue string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			if d := o.staggerDelay(opts); d > 0 {
				select {
				case <-time.After(d):
				case <-ctx.Done():
					return
				}
			}

			client, err := o.ClientFactory(venue)
			if err != nil {
				log.Error().Str("session", session).Str("venue", venue).Err(err).Msg("venue client unavailable")
				return
			}
			scan := &scanner.ExchangeScanner{
				Client:     client,
				Cache:      o.Cache,
				Metrics:    o.Metrics,
				BatchSize:  opts.BatchSize,
				BatchDelay: opts.BatchDelay,
			}
			start := time.Now()
			if o.Metrics != nil {
				o.Metrics.ActiveScans.Inc()
			}
			results, err := scan.ScanAll(ctx, tf, opts.Scan)
			if o.Metrics != nil {
				o.Metrics.ActiveScans.Dec()
				o.Metrics.ScanDuration.WithLabelValues(venue, tf.String()).Observe(time.Since(start).Seconds())
			}
			if err != nil && ctx.Err() == nil {
				log.Error().Str("session", session).Str("venue", venue).Err(err).Msg("venue scan failed")
			}

			o.mu.Lock()
			for strategy, rs := range results {
				merged[strategy] = append(merged[strategy], rs...)
			}
			o.mu.Unlock()
		}(venue)
	}
	wg.Wait()
}

func (o *Orchestrator) staggerDelay(opts Options) time.Duration {
	max := opts.stagger()
	if max <= 0 {
		return 0
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return time.Duration(o.rng.Int63n(int64(max)))
}
