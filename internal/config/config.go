package config

import "time"

// Config is the root configuration for a pricefeed instance.
type Config struct {
	LogLevel    string            `yaml:"log_level"` // debug, info, warn, error
	Instance    InstanceConfig    `yaml:"instance"`
	API         APIConfig         `yaml:"api"`
	Stream      StreamConfig      `yaml:"stream"`
	Poller      PollerConfig      `yaml:"poller"`
	Instruments InstrumentsConfig `yaml:"instruments"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Health      HealthConfig      `yaml:"health"`
	Database    DatabaseConfig    `yaml:"database"`
	Recorder    RecorderConfig    `yaml:"recorder"`
	Redis       RedisConfig       `yaml:"redis"`
	NATS        NATSConfig        `yaml:"nats"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds exchange endpoints and REST client settings.
// An empty ws_url disables streaming; every symbol is then polled.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	WSURL      string        `yaml:"ws_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RateLimit  float64       `yaml:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst  int           `yaml:"rate_burst"`
}

// StreamConfig holds connection manager settings.
type StreamConfig struct {
	ReconnectBaseDelay  time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay   time.Duration `yaml:"reconnect_max_delay"`
	Jitter              float64       `yaml:"jitter"`
	QuietPeriod         time.Duration `yaml:"quiet_period"`
	FrameErrorThreshold int           `yaml:"frame_error_threshold"`
	FrameErrorWindow    time.Duration `yaml:"frame_error_window"`
	MaxAttempts         int           `yaml:"max_attempts"` // 0 = retry forever
	PingInterval        time.Duration `yaml:"ping_interval"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
}

// PollerConfig holds snapshot polling cadence per asset class.
type PollerConfig struct {
	CryptoInterval  time.Duration `yaml:"crypto_interval"`
	FuturesInterval time.Duration `yaml:"futures_interval"`
	EquityInterval  time.Duration `yaml:"equity_interval"`
	Timeout         time.Duration `yaml:"timeout"`
	Concurrency     int           `yaml:"concurrency"`
}

// InstrumentsConfig lists symbols whose asset class is known up front.
type InstrumentsConfig struct {
	Futures  []string `yaml:"futures"`
	Equities []string `yaml:"equities"`
}

// GatewayConfig holds the browser-facing HTTP/WebSocket server settings.
type GatewayConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"` // empty = any origin
	SendBuffer     int      `yaml:"send_buffer"`
}

// HealthConfig holds the gRPC health server settings. Port 0 disables it.
type HealthConfig struct {
	GRPCPort int           `yaml:"grpc_port"`
	Interval time.Duration `yaml:"interval"`
}

// DatabaseConfig holds the TimescaleDB connection used by the recorder.
type DatabaseConfig struct {
	Timescale DBConfig `yaml:"timescale"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RecorderConfig controls persistence of accepted samples.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Symbols       []string      `yaml:"symbols"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// RedisConfig controls the Redis mirror. Empty addr disables it.
type RedisConfig struct {
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	TTL           time.Duration `yaml:"ttl"`
	KeyPrefix     string        `yaml:"key_prefix"`
	ChannelPrefix string        `yaml:"channel_prefix"`
	Symbols       []string      `yaml:"symbols"`
}

// NATSConfig controls the NATS publisher. Empty url disables it.
type NATSConfig struct {
	URL           string   `yaml:"url"`
	SubjectPrefix string   `yaml:"subject_prefix"`
	Symbols       []string `yaml:"symbols"`
}
