package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel            = "info"
	DefaultInstanceID          = "pricefeed"
	DefaultRestURL             = "https://www.okx.com"
	DefaultAPITimeout          = 10 * time.Second
	DefaultMaxRetries          = 3
	DefaultRateBurst           = 1
	DefaultReconnectBaseDelay  = 1 * time.Second
	DefaultReconnectMaxDelay   = 30 * time.Second
	DefaultJitter              = 0.2
	DefaultQuietPeriod         = 20 * time.Second
	DefaultFrameErrorThreshold = 5
	DefaultFrameErrorWindow    = 10 * time.Second
	DefaultPingInterval        = 15 * time.Second
	DefaultWriteTimeout        = 5 * time.Second
	DefaultCryptoInterval      = 5 * time.Second
	DefaultFuturesInterval     = 5 * time.Second
	DefaultEquityInterval      = 10 * time.Second
	DefaultPollTimeout         = 5 * time.Second
	DefaultPollConcurrency     = 8
	DefaultGatewayPort         = 8080
	DefaultSendBuffer          = 256
	DefaultHealthInterval      = 5 * time.Second
	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultMaxConns            = 10
	DefaultMinConns            = 2
	DefaultBatchSize           = 500
	DefaultFlushInterval       = 1 * time.Second
	DefaultBufferSize          = 10000
	DefaultRedisTTL            = 1 * time.Minute
	DefaultRedisKeyPrefix      = "price:"
	DefaultRedisChannelPrefix  = "prices:"
	DefaultNATSSubjectPrefix   = "prices"
)

// ApplyDefaults fills zero-valued optional fields. ws_url is left alone:
// empty means streaming is disabled.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RateLimit > 0 && c.API.RateBurst == 0 {
		c.API.RateBurst = DefaultRateBurst
	}

	// Stream defaults
	if c.Stream.ReconnectBaseDelay == 0 {
		c.Stream.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Stream.ReconnectMaxDelay == 0 {
		c.Stream.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Stream.Jitter == 0 {
		c.Stream.Jitter = DefaultJitter
	}
	if c.Stream.QuietPeriod == 0 {
		c.Stream.QuietPeriod = DefaultQuietPeriod
	}
	if c.Stream.FrameErrorThreshold == 0 {
		c.Stream.FrameErrorThreshold = DefaultFrameErrorThreshold
	}
	if c.Stream.FrameErrorWindow == 0 {
		c.Stream.FrameErrorWindow = DefaultFrameErrorWindow
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.WriteTimeout == 0 {
		c.Stream.WriteTimeout = DefaultWriteTimeout
	}

	// Poller defaults
	if c.Poller.CryptoInterval == 0 {
		c.Poller.CryptoInterval = DefaultCryptoInterval
	}
	if c.Poller.FuturesInterval == 0 {
		c.Poller.FuturesInterval = DefaultFuturesInterval
	}
	if c.Poller.EquityInterval == 0 {
		c.Poller.EquityInterval = DefaultEquityInterval
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}

	// Gateway and health defaults
	if c.Gateway.Port == 0 {
		c.Gateway.Port = DefaultGatewayPort
	}
	if c.Gateway.SendBuffer == 0 {
		c.Gateway.SendBuffer = DefaultSendBuffer
	}
	if c.Health.Interval == 0 {
		c.Health.Interval = DefaultHealthInterval
	}

	// Database and recorder defaults
	applyDBDefaults(&c.Database.Timescale)
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultBufferSize
	}

	// Sink defaults
	if c.Redis.TTL == 0 {
		c.Redis.TTL = DefaultRedisTTL
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if c.Redis.ChannelPrefix == "" {
		c.Redis.ChannelPrefix = DefaultRedisChannelPrefix
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = DefaultNATSSubjectPrefix
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
