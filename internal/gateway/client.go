package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/pricefeed/internal/dispatcher"
	"github.com/rickgao/pricefeed/internal/model"
)

const maxMessageSize = 64 * 1024

// client is one browser connection. subs is touched only by the read pump.
type client struct {
	id     string
	conn   *websocket.Conn
	feed   Feed
	cfg    Config
	logger *slog.Logger

	send    chan []byte
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64

	subs map[string]dispatcher.Unsubscribe
}

func newClient(id string, conn *websocket.Conn, feed Feed, cfg Config, logger *slog.Logger) *client {
	return &client{
		id:     id,
		conn:   conn,
		feed:   feed,
		cfg:    cfg,
		logger: logger.With("client", id),
		send:   make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
		subs:   make(map[string]dispatcher.Unsubscribe),
	}
}

// enqueue queues msg without blocking. A full buffer drops the message.
func (c *client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.dropped.Add(1)
		return false
	}
}

func (c *client) sendJSON(resp Response) {
	b, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("marshal response", "error", err)
		return
	}
	c.enqueue(b)
}

func (c *client) onUpdate(u model.Update) {
	c.sendJSON(Response{Type: TypeTicker, Data: Ticker{PriceSample: u.Sample, Direction: u.Direction}})
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// readPump processes commands until the connection fails, then releases
// every subscription the client held.
func (c *client) readPump() {
	defer func() {
		c.unsubscribeAll()
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("client read error", "error", err)
			}
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.sendJSON(Response{Type: TypeError, Message: "invalid JSON"})
			continue
		}
		c.handle(req)
	}
}

func (c *client) handle(req Request) {
	switch req.Action {
	case ActionSubscribe:
		c.subscribe(req)
	case ActionUnsubscribe:
		c.unsubscribe(req)
	case ActionUnsubscribeAll:
		n := c.unsubscribeAll()
		c.ack(req.ID, fmt.Sprintf("unsubscribed from %d symbols", n))
	default:
		c.sendJSON(Response{Type: TypeError, ID: req.ID, Message: "unknown action: " + req.Action})
	}
}

func (c *client) subscribe(req Request) {
	symbols := normalize(req.Payload.Symbols)
	var added []string
	for _, sym := range symbols {
		if _, ok := c.subs[sym]; ok {
			continue
		}
		if len(c.subs)+len(added) >= c.cfg.MaxSymbols {
			break
		}
		added = append(added, sym)
	}
	if len(added) == 0 {
		c.sendJSON(Response{Type: TypeError, ID: req.ID, Message: "no valid or new symbols"})
		return
	}

	// Ack before subscribing so it precedes any cached replay.
	c.ack(req.ID, fmt.Sprintf("subscribed to %v", added))
	for _, sym := range added {
		c.subs[sym] = c.feed.Subscribe(sym, c.onUpdate)
	}
}

func (c *client) unsubscribe(req Request) {
	var removed []string
	for _, sym := range normalize(req.Payload.Symbols) {
		if unsub, ok := c.subs[sym]; ok {
			unsub()
			delete(c.subs, sym)
			removed = append(removed, sym)
		}
	}
	if len(removed) == 0 {
		c.sendJSON(Response{Type: TypeError, ID: req.ID, Message: fmt.Sprintf("not subscribed to %v", req.Payload.Symbols)})
		return
	}
	c.ack(req.ID, fmt.Sprintf("unsubscribed from %v", removed))
}

func (c *client) unsubscribeAll() int {
	n := len(c.subs)
	for sym, unsub := range c.subs {
		unsub()
		delete(c.subs, sym)
	}
	return n
}

func (c *client) ack(id, msg string) {
	c.sendJSON(Response{Type: TypeAck, ID: id, Status: "success", Message: msg})
}

// writePump owns all writes to the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func normalize(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
