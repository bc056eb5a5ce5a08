package config

import (
	"github.com/rickgao/pricefeed/internal/dispatcher"
)

// Dispatcher maps the stream, poller and instrument sections onto a
// dispatcher configuration.
func (c *Config) Dispatcher() dispatcher.Config {
	dc := dispatcher.DefaultConfig()

	m := &dc.Manager
	m.WSURL = c.API.WSURL
	m.ReconnectBaseDelay = c.Stream.ReconnectBaseDelay
	m.ReconnectMaxDelay = c.Stream.ReconnectMaxDelay
	m.Jitter = c.Stream.Jitter
	m.MaxAttempts = c.Stream.MaxAttempts
	m.QuietPeriod = c.Stream.QuietPeriod
	m.FrameErrorThreshold = c.Stream.FrameErrorThreshold
	m.FrameErrorWindow = c.Stream.FrameErrorWindow
	m.Client.PingInterval = c.Stream.PingInterval
	m.Client.WriteTimeout = c.Stream.WriteTimeout

	dc.Poller.Concurrency = c.Poller.Concurrency
	dc.Poller.Timeout = c.Poller.Timeout

	dc.Registry.CryptoInterval = c.Poller.CryptoInterval
	dc.Registry.FuturesInterval = c.Poller.FuturesInterval
	dc.Registry.EquityInterval = c.Poller.EquityInterval

	dc.Futures = c.Instruments.Futures
	dc.Equities = c.Instruments.Equities
	return dc
}
