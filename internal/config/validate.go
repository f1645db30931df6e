package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	switch c.Runtime.Mode {
	case ModeBacktest:
		if err := c.validateBacktest(); err != nil {
			return err
		}
	case ModeSim:
		if c.Endpoints.MdURL == "" {
			return errors.New("endpoints.md_url is required")
		}
	case ModeLive:
		if c.Endpoints.MdURL == "" {
			return errors.New("endpoints.md_url is required")
		}
		if c.Endpoints.TdURL == "" {
			return errors.New("endpoints.td_url is required")
		}
		if len(c.Account.Login) == 0 {
			return errors.New("account.login is required in live mode")
		}
	default:
		return fmt.Errorf("runtime.mode must be one of backtest, sim, live, got %q", c.Runtime.Mode)
	}

	switch c.Runtime.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("runtime.log_level must be one of debug, info, warn, error, got %q", c.Runtime.LogLevel)
	}

	if c.Account.InitBalance <= 0 {
		return errors.New("account.init_balance must be > 0")
	}
	if c.Reconnect.Base <= 0 {
		return errors.New("reconnect.base must be > 0")
	}
	if c.Reconnect.MaxFactor < 1 {
		return errors.New("reconnect.max_factor must be >= 1")
	}

	if c.Database.Enabled() {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required")
	}
	return nil
}

func (c *Config) validateBacktest() error {
	if c.Backtest.Start == "" {
		return errors.New("backtest.start is required")
	}
	if c.Backtest.End == "" {
		return errors.New("backtest.end is required")
	}
	start, end, err := c.BacktestRange()
	if err != nil {
		return err
	}
	if end <= start {
		return errors.New("backtest.end must be after backtest.start")
	}
	if len(c.Backtest.Symbols) == 0 {
		return errors.New("backtest.symbols is required")
	}
	for _, d := range c.Backtest.Durations {
		if d <= 0 || d%1e9 != 0 {
			return fmt.Errorf("backtest.durations must be whole seconds, got %v", d)
		}
	}
	if !c.Database.Enabled() {
		return errors.New("database is required in backtest mode")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
