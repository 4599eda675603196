package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/chartwatch/chartwatch/internal/scanner"
)

const eventsSchema = `
CREATE TABLE IF NOT EXISTS scan_events (
	symbol                 TEXT        NOT NULL,
	venue                  TEXT        NOT NULL,
	timeframe              TEXT        NOT NULL,
	bar_ts                 TIMESTAMPTZ NOT NULL,
	confluence             BOOLEAN     NOT NULL DEFAULT FALSE,
	consolidation_breakout BOOLEAN     NOT NULL DEFAULT FALSE,
	channel_breakout       BOOLEAN     NOT NULL DEFAULT FALSE,
	sma50_breakout         BOOLEAN     NOT NULL DEFAULT FALSE,
	pin_up                 BOOLEAN     NOT NULL DEFAULT FALSE,
	trend_breakout         BOOLEAN     NOT NULL DEFAULT FALSE,
	loaded_bar             BOOLEAN     NOT NULL DEFAULT FALSE,
	bullish_engulfing      BOOLEAN     NOT NULL DEFAULT FALSE,
	direction              SMALLINT    NOT NULL DEFAULT 0,
	box_age                INTEGER     NOT NULL DEFAULT 0,
	height_pct             DOUBLE PRECISION NOT NULL DEFAULT 0,
	channel_slope          DOUBLE PRECISION NOT NULL DEFAULT 0,
	strength               TEXT        NOT NULL DEFAULT '',
	breakout_type          TEXT        NOT NULL DEFAULT '',
	close                  DOUBLE PRECISION NOT NULL DEFAULT 0,
	volume_usd             DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (symbol, venue, timeframe, bar_ts)
)`

const insertEventQuery = `
INSERT INTO scan_events (
	symbol, venue, timeframe, bar_ts,
	confluence, consolidation_breakout, channel_breakout, sma50_breakout,
	pin_up, trend_breakout, loaded_bar, bullish_engulfing,
	direction, box_age, height_pct, channel_slope, strength, breakout_type,
	close, volume_usd
) VALUES (
	:symbol, :venue, :timeframe, :bar_ts,
	:confluence, :consolidation_breakout, :channel_breakout, :sma50_breakout,
	:pin_up, :trend_breakout, :loaded_bar, :bullish_engulfing,
	:direction, :box_age, :height_pct, :channel_slope, :strength, :breakout_type,
	:close, :volume_usd
)
ON CONFLICT (symbol, venue, timeframe, bar_ts) DO NOTHING`

// EventStore persists events to Postgres with insert-if-absent semantics on
// the composite key.
type EventStore struct {
	db      *sqlx.DB
	timeout time.Duration

	// OnStored, when set, is called with the count of newly inserted rows
	// after each successful delivery.
	OnStored func(n int)
}

func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{db: db, timeout: 10 * time.Second}
}

// OpenEventStore connects to Postgres and ensures the schema exists.
func OpenEventStore(ctx context.Context, dsn string) (*EventStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("event store connect: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	store := NewEventStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *EventStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, eventsSchema); err != nil {
		return fmt.Errorf("event store schema: %w", err)
	}
	return nil
}

// InsertEvents writes the batch, ignoring rows whose key already exists.
// Returns the number of newly stored events.
func (s *EventStore) InsertEvents(ctx context.Context, events []Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("event store begin: %w", err)
	}
	defer tx.Rollback()

	stored := 0
	for _, ev := range events {
		res, err := tx.NamedExecContext(ctx, insertEventQuery, ev)
		if err != nil {
			return stored, fmt.Errorf("event store insert %s/%s: %w", ev.Venue, ev.Symbol, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			stored += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return stored, fmt.Errorf("event store commit: %w", err)
	}
	return stored, nil
}

func (s *EventStore) Close() error { return s.db.Close() }

// Deliver implements the orchestrator sink: map results to events and
// insert them. Duplicate keys are silently ignored by the store.
func (s *EventStore) Deliver(ctx context.Context, results map[string][]scanner.Result) error {
	events := MapResults(results)
	if len(events) == 0 {
		return nil
	}
	stored, err := s.InsertEvents(ctx, events)
	if err != nil {
		return err
	}
	if s.OnStored != nil {
		s.OnStored(stored)
	}
	log.Info().Int("events", len(events)).Int("stored", stored).Msg("events persisted")
	return nil
}
