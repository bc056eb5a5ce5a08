package publish

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rickgao/pricefeed/internal/model"
)

// natsConn is the subset of *nats.Conn the publisher uses.
type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes every update to {prefix}.{symbol} on NATS core.
type NATSPublisher struct {
	conn   natsConn
	prefix string
}

// NewNATS connects to url. The connection reconnects on its own; disconnects
// are logged.
func NewNATS(url, subjectPrefix string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")

	nc, err := nats.Connect(url,
		nats.Name("pricefeed"),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	logger.Info("nats connected", "url", nc.ConnectedUrl())
	return &NATSPublisher{conn: nc, prefix: subjectPrefix}, nil
}

// Subject returns the subject for symbol. Dots inside symbols would split
// the token, so they become underscores.
func (p *NATSPublisher) Subject(symbol string) string {
	token := strings.ReplaceAll(symbol, ".", "_")
	if p.prefix == "" {
		return token
	}
	return p.prefix + "." + token
}

// Publish sends the update fire-and-forget.
func (p *NATSPublisher) Publish(_ context.Context, u model.Update) error {
	body, err := encode(u)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	if err := p.conn.Publish(p.Subject(u.Sample.Symbol), body); err != nil {
		return fmt.Errorf("nats publish %s: %w", u.Sample.Symbol, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
