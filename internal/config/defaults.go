package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultMode               = ModeBacktest
	DefaultLogLevel           = "info"
	DefaultMdURL              = "wss://openmd.shinnytech.com/t/md/front/mobile"
	DefaultAccountID          = "TQSIM"
	DefaultInitBalance        = 10_000_000.0
	DefaultDuration           = time.Minute
	DefaultReconnectBase      = 10 * time.Second
	DefaultReconnectMaxFactor = 64
	DefaultDBPort             = 5432
	DefaultDBSSLMode          = "prefer"
	DefaultMaxConns           = 10
	DefaultMinConns           = 2
	DefaultKafkaTopic         = "tqsdk.orders"
	DefaultMetricsAddr        = ":9090"
	DefaultMetricsPath        = "/metrics"
)

func (c *Config) applyDefaults() {
	// Runtime defaults
	if c.Runtime.Mode == "" {
		c.Runtime.Mode = DefaultMode
	}
	if c.Runtime.LogLevel == "" {
		c.Runtime.LogLevel = DefaultLogLevel
	}

	if c.Endpoints.MdURL == "" {
		c.Endpoints.MdURL = DefaultMdURL
	}

	// Account defaults
	if c.Account.AccountID == "" {
		c.Account.AccountID = DefaultAccountID
	}
	if c.Account.InitBalance == 0 {
		c.Account.InitBalance = DefaultInitBalance
	}

	if len(c.Backtest.Durations) == 0 {
		c.Backtest.Durations = []time.Duration{DefaultDuration}
	}

	if c.Reconnect.Base == 0 {
		c.Reconnect.Base = DefaultReconnectBase
	}
	if c.Reconnect.MaxFactor == 0 {
		c.Reconnect.MaxFactor = DefaultReconnectMaxFactor
	}

	// Database defaults, only when one is configured
	if c.Database.Enabled() {
		if c.Database.Port == 0 {
			c.Database.Port = DefaultDBPort
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = DefaultDBSSLMode
		}
		if c.Database.MaxConns == 0 {
			c.Database.MaxConns = DefaultMaxConns
		}
		if c.Database.MinConns == 0 {
			c.Database.MinConns = DefaultMinConns
		}
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultKafkaTopic
	}

	// Metrics defaults
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
