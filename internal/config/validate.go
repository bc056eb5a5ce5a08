package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	if c.API.RestURL == "" {
		return errors.New("api.rest_url is required")
	}
	if _, err := url.Parse(c.API.RestURL); err != nil {
		return fmt.Errorf("api.rest_url is invalid: %w", err)
	}
	if c.API.WSURL != "" {
		u, err := url.Parse(c.API.WSURL)
		if err != nil {
			return fmt.Errorf("api.ws_url is invalid: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("api.ws_url must use ws or wss, got %q", u.Scheme)
		}
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}
	if c.API.RateLimit < 0 {
		return errors.New("api.rate_limit must be >= 0")
	}

	if c.Stream.ReconnectMaxDelay < c.Stream.ReconnectBaseDelay {
		return fmt.Errorf("stream.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			c.Stream.ReconnectMaxDelay, c.Stream.ReconnectBaseDelay)
	}
	if c.Stream.Jitter < 0 || c.Stream.Jitter >= 1 {
		return fmt.Errorf("stream.jitter must be in [0, 1), got %v", c.Stream.Jitter)
	}
	if c.Stream.FrameErrorThreshold < 1 {
		return errors.New("stream.frame_error_threshold must be >= 1")
	}
	if c.Stream.MaxAttempts < 0 {
		return errors.New("stream.max_attempts must be >= 0")
	}

	if c.Poller.CryptoInterval <= 0 || c.Poller.FuturesInterval <= 0 || c.Poller.EquityInterval <= 0 {
		return errors.New("poller intervals must be > 0")
	}
	if c.Poller.Concurrency < 1 {
		return errors.New("poller.concurrency must be >= 1")
	}

	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be between 1 and 65535, got %d", c.Gateway.Port)
	}
	if c.Gateway.SendBuffer < 1 {
		return errors.New("gateway.send_buffer must be >= 1")
	}
	if c.Health.GRPCPort < 0 || c.Health.GRPCPort > 65535 {
		return fmt.Errorf("health.grpc_port must be between 0 and 65535, got %d", c.Health.GRPCPort)
	}

	if c.Recorder.Enabled {
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
		if len(c.Recorder.Symbols) == 0 {
			return errors.New("recorder.symbols is required when recorder is enabled")
		}
		if c.Recorder.BatchSize < 1 {
			return errors.New("recorder.batch_size must be >= 1")
		}
		if c.Recorder.BufferSize < 1 {
			return errors.New("recorder.buffer_size must be >= 1")
		}
	}

	if c.Redis.Addr != "" && c.Redis.TTL < 0 {
		return errors.New("redis.ttl must be >= 0")
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

// SlogLevel parses log_level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level %q is invalid", c.LogLevel)
	}
	return level, nil
}
