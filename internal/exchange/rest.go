package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	httpTimeout = 15 * time.Second
	maxRetries  = 3
)

// restClient wraps venue HTTP access with a token-bucket limiter, a circuit
// breaker, and rate-limit retry backoff (2s, 4s, 6s). Hand-rolled venue
// adapters embed it; the Binance adapters get equivalent pacing from their
// SDK plus their own limiter.
type restClient struct {
	venue   string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func newRESTClient(venue string, rps float64, burst int) *restClient {
	return &restClient{
		venue:   venue,
		http:    &http.Client{Timeout: httpTimeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        venue,
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 10 && counts.TotalFailures*5 >= counts.Requests*2
			},
		}),
	}
}

// getJSON fetches url and decodes the body into out, applying the limiter,
// the breaker, and rate-limit retries. A classify hook lets venues map their
// body-level error codes onto the shared sentinels before decoding succeeds.
func (c *restClient) getJSON(ctx context.Context, url string, out any, classify func(status int, body []byte) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(2*attempt) * time.Second
			log.Warn().Str("venue", c.venue).Dur("backoff", backoff).Int("attempt", attempt).
				Msg("rate limited, backing off")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		body, err := c.breaker.Execute(func() (interface{}, error) {
			return c.fetch(ctx, url, classify)
		})
		if err == nil {
			return json.Unmarshal(body.([]byte), out)
		}
		lastErr = err
		if err != ErrRateLimited && ctx.Err() == nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}

func (c *restClient) fetch(ctx context.Context, url string, classify func(status int, body []byte) error) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if classify != nil {
		if cerr := classify(resp.StatusCode, body); cerr != nil {
			return nil, cerr
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s HTTP %d: %s", c.venue, resp.StatusCode, truncate(body, 200))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
