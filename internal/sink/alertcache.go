package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/chartwatch/chartwatch/internal/scanner"
)

const alertTTL = 48 * time.Hour

// AlertCache remembers which alerts were already sent, keyed by strategy
// plus the event composite key, so a symbol that keeps matching across scan
// cycles only notifies once per bar.
type AlertCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewAlertCache(rdb *redis.Client) *AlertCache {
	return &AlertCache{rdb: rdb, ttl: alertTTL}
}

func alertKey(strategy string, r scanner.Result) string {
	return fmt.Sprintf("alert:%s:%s:%s:%s:%d", strategy, r.Venue, r.Symbol, r.TF, r.BarTs.Unix())
}

// MarkSeen records the alert and reports whether it was already present.
// Redis errors fail open: an unreachable cache must not silence alerts.
func (c *AlertCache) MarkSeen(ctx context.Context, strategy string, r scanner.Result) bool {
	set, err := c.rdb.SetNX(ctx, alertKey(strategy, r), 1, c.ttl).Result()
	if err != nil {
		log.Warn().Err(err).Msg("alert cache unavailable")
		return false
	}
	return !set
}

// FilterResults drops results whose alert was already sent.
func (c *AlertCache) FilterResults(ctx context.Context, results map[string][]scanner.Result) map[string][]scanner.Result {
	out := make(map[string][]scanner.Result, len(results))
	for strategy, rs := range results {
		for _, r := range rs {
			if c.MarkSeen(ctx, strategy, r) {
				continue
			}
			out[strategy] = append(out[strategy], r)
		}
	}
	return out
}
