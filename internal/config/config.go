// Package config loads the scanner configuration from YAML, applies
// environment overrides, and validates it before the orchestrator starts.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/chartwatch/chartwatch/internal/detect"
	"github.com/chartwatch/chartwatch/internal/exchange"
	"github.com/chartwatch/chartwatch/internal/timeframe"
)

// Error marks a configuration problem. The CLI maps it to exit code 1,
// distinct from fatal runtime errors.
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

func errorf(format string, args ...any) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

type ExportConfig struct {
	Dir string `yaml:"dir"`
}

type ServeConfig struct {
	Addr string `yaml:"addr"`
}

// StreamConfig gates the websocket forming-bar refresh. Symbols are Binance
// pair names followed on every configured native timeframe.
type StreamConfig struct {
	Enabled bool     `yaml:"enabled"`
	Symbols []string `yaml:"symbols"`
}

// Config is the full scanner configuration.
type Config struct {
	Timeframes   []string `yaml:"timeframes"`
	Strategies   []string `yaml:"strategies"`
	Venues       []string `yaml:"venues"`
	MinVolumeUSD *float64 `yaml:"min_volume_usd"`
	CheckBar     string   `yaml:"check_bar"`

	FastMaxExchanges  int `yaml:"fast_max_exchanges"`
	SlowMaxExchanges  int `yaml:"slow_max_exchanges"`
	ExchangeStaggerMS int `yaml:"exchange_stagger_ms"`

	SendNotifications bool     `yaml:"send_notifications"`
	Recipients        []string `yaml:"recipients"`

	// FuturesStrategies limits what runs against futures venues in watch
	// mode; empty means the full strategy list.
	FuturesStrategies []string `yaml:"futures_strategies"`

	Telegram TelegramConfig `yaml:"telegram"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Export   ExportConfig   `yaml:"export"`
	Serve    ServeConfig    `yaml:"serve"`
	Stream   StreamConfig   `yaml:"stream"`
}

// Default returns the configuration used when no file is given: every venue,
// every strategy, the daily timeframe family, last-closed bar checks.
func Default() Config {
	return Config{
		Timeframes:        []string{"1d", "2d", "3d", "4d", "1w"},
		Strategies:        detect.Names(),
		Venues:            exchange.Known(),
		CheckBar:          "last_closed",
		FastMaxExchanges:  4,
		SlowMaxExchanges:  2,
		ExchangeStaggerMS: 250,
		Export:            ExportConfig{Dir: "exports"},
		Serve:             ServeConfig{Addr: ":9180"},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides, and validates. An empty path loads defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, errorf("read config: %v", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, errorf("parse config: %v", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := envInt("FAST_MAX_EXCHANGES"); ok {
		c.FastMaxExchanges = v
	}
	if v, ok := envInt("SLOW_MAX_EXCHANGES"); ok {
		c.SlowMaxExchanges = v
	}
	if v, ok := envInt("EXCHANGE_STAGGER_MS"); ok {
		c.ExchangeStaggerMS = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate fails fast on anything the orchestrator would choke on later.
func (c *Config) Validate() error {
	if len(c.Timeframes) == 0 {
		return errorf("no timeframes configured")
	}
	for _, s := range c.Timeframes {
		if _, err := timeframe.Parse(s); err != nil {
			return errorf("unknown timeframe %q", s)
		}
	}
	if len(c.Venues) == 0 {
		return errorf("no venues configured")
	}
	for _, v := range c.Venues {
		if !knownVenue(v) {
			return errorf("unknown venue %q", v)
		}
	}
	if len(c.Strategies) == 0 {
		return errorf("no strategies configured")
	}
	for _, s := range c.Strategies {
		if _, ok := detect.Lookup(s); !ok {
			return errorf("unknown strategy %q", s)
		}
	}
	for _, s := range c.FuturesStrategies {
		if _, ok := detect.Lookup(s); !ok {
			return errorf("unknown futures strategy %q", s)
		}
	}
	switch c.CheckBar {
	case "", "current", "last_closed", "both":
	default:
		return errorf("check_bar must be current, last_closed, or both; got %q", c.CheckBar)
	}
	if c.MinVolumeUSD != nil && *c.MinVolumeUSD < 0 {
		return errorf("min_volume_usd must not be negative")
	}
	if c.FastMaxExchanges < 1 || c.SlowMaxExchanges < 1 {
		return errorf("exchange concurrency caps must be at least 1")
	}
	if c.SendNotifications {
		if c.Telegram.BotToken == "" {
			return errorf("send_notifications requires telegram.bot_token")
		}
		if len(c.Recipients) == 0 {
			return errorf("send_notifications requires at least one recipient")
		}
	}
	if c.Stream.Enabled && len(c.Stream.Symbols) == 0 {
		return errorf("stream.enabled requires stream.symbols")
	}
	return nil
}

func knownVenue(v string) bool {
	for _, k := range exchange.Known() {
		if k == v {
			return true
		}
	}
	return false
}

// ParsedTimeframes converts the configured timeframe names. Validate has
// already checked them, so errors here only surface misuse.
func (c *Config) ParsedTimeframes() ([]timeframe.Timeframe, error) {
	out := make([]timeframe.Timeframe, 0, len(c.Timeframes))
	for _, s := range c.Timeframes {
		tf, err := timeframe.Parse(s)
		if err != nil {
			return nil, errorf("unknown timeframe %q", s)
		}
		out = append(out, tf)
	}
	return out, nil
}
