// Package config loads the YAML configuration of a tqrun session.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rickgao/tqsdk-go/internal/tradingtime"
)

// Run modes.
const (
	ModeBacktest = "backtest"
	ModeSim      = "sim"
	ModeLive     = "live"
)

// Config is the top-level configuration.
type Config struct {
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Endpoints EndpointsConfig `yaml:"endpoints"`
	Account   AccountConfig   `yaml:"account"`
	Backtest  BacktestConfig  `yaml:"backtest"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Database  DBConfig        `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// RuntimeConfig selects what tqrun does.
type RuntimeConfig struct {
	Mode     string `yaml:"mode"`
	LogLevel string `yaml:"log_level"`
}

// EndpointsConfig holds the market data and trade server urls.
type EndpointsConfig struct {
	MdURL   string            `yaml:"md_url"`
	TdURL   string            `yaml:"td_url"`
	Headers map[string]string `yaml:"headers"`

	// AccessToken is a bearer token, or @path to a file holding one.
	AccessToken string `yaml:"access_token"`
}

// AccountConfig describes the trading account.
type AccountConfig struct {
	AccountID   string  `yaml:"account_id"`
	InitBalance float64 `yaml:"init_balance"`
	// Login holds the req_login fields sent as is in live mode.
	Login map[string]any `yaml:"login"`
}

// BacktestConfig bounds a replay.
type BacktestConfig struct {
	Start     string          `yaml:"start"`
	End       string          `yaml:"end"`
	Symbols   []string        `yaml:"symbols"`
	Durations []time.Duration `yaml:"durations"`
}

// ReconnectConfig tunes the shared reconnect timer.
type ReconnectConfig struct {
	Base      time.Duration `yaml:"base"`
	MaxFactor int           `yaml:"max_factor"`
}

// DBConfig holds the Postgres connection settings. An empty host disables
// the database.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database is configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// KafkaConfig holds the order event publisher settings. No brokers
// disables publishing.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// MetricsConfig holds the metrics and health HTTP settings.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// Load reads a YAML file and expands ${VAR} references from the
// environment.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// LoadWithDefaults loads the file and fills unset optional fields.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadAndValidate loads the file, applies defaults and validates it.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// BacktestRange returns the replay bounds in nanoseconds since the epoch.
// Dates without a time start at midnight Beijing time.
func (c *Config) BacktestRange() (start, end int64, err error) {
	if start, err = parseTime(c.Backtest.Start); err != nil {
		return 0, 0, fmt.Errorf("backtest.start: %w", err)
	}
	if end, err = parseTime(c.Backtest.End); err != nil {
		return 0, 0, fmt.Errorf("backtest.end: %w", err)
	}
	return start, end, nil
}

func parseTime(s string) (int64, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixNano(), nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, tradingtime.CST)
	if err != nil {
		return 0, fmt.Errorf("want RFC3339 or 2006-01-02, got %q", s)
	}
	return t.UnixNano(), nil
}
