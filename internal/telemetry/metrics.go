// Package telemetry exposes scanner health over Prometheus and a small HTTP
// surface for the serve command.
package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"

	"github.com/chartwatch/chartwatch/internal/framecache"
)

// Metrics holds all scanner Prometheus series.
type Metrics struct {
	ScanDuration  *prometheus.HistogramVec
	SymbolsGated  *prometheus.CounterVec
	DetectorHits  *prometheus.CounterVec
	FetchFailures *prometheus.CounterVec
	CacheHitRatio prometheus.Gauge
	ActiveScans   prometheus.Gauge
	EventsStored  prometheus.Counter

	registry *prometheus.Registry
}

func NewMetrics() *Metrics {
	m := &Metrics{
		ScanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chartwatch_scan_duration_seconds",
				Help:    "Duration of one venue scan by timeframe",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"venue", "timeframe"},
		),
		SymbolsGated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartwatch_symbols_gated_total",
				Help: "Symbols skipped by the volume gate",
			},
			[]string{"venue", "timeframe"},
		),
		DetectorHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartwatch_detector_hits_total",
				Help: "Detections by strategy",
			},
			[]string{"strategy"},
		),
		FetchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chartwatch_fetch_failures_total",
				Help: "Kline fetches that returned no data",
			},
			[]string{"venue"},
		),
		CacheHitRatio: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chartwatch_cache_hit_ratio",
				Help: "Frame cache hit ratio since start (0.0 to 1.0)",
			},
		),
		ActiveScans: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chartwatch_active_scans",
				Help: "Venue scan loops currently running",
			},
		),
		EventsStored: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chartwatch_events_stored_total",
				Help: "Events persisted to the event store",
			},
		),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(
		m.ScanDuration, m.SymbolsGated, m.DetectorHits, m.FetchFailures,
		m.CacheHitRatio, m.ActiveScans, m.EventsStored,
	)
	return m
}

// Gather snapshots every registered series.
func (m *Metrics) Gather() ([]*dto.MetricFamily, error) {
	return m.registry.Gather()
}

// ObserveCache refreshes the hit-ratio gauge from cache counters.
func (m *Metrics) ObserveCache(cache *framecache.Cache) {
	hits, misses := cache.Stats()
	if total := hits + misses; total > 0 {
		m.CacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// Server is the serve-mode HTTP surface: /metrics, /health, /status.
type Server struct {
	metrics *Metrics
	status  func() map[string]any
	srv     *http.Server
}

func NewServer(addr string, metrics *Metrics, status func() map[string]any) *Server {
	s := &Server{metrics: metrics, status: status}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{}))
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe blocks until the context is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("telemetry server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	body := map[string]any{"time": time.Now().UTC()}
	if s.status != nil {
		for k, v := range s.status() {
			body[k] = v
		}
	}
	json.NewEncoder(w).Encode(body)
}
