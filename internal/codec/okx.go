package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/pricefeed/internal/connection"
	"github.com/rickgao/pricefeed/internal/model"
)

// Channel is the ticker channel name on the wire.
const Channel = "tickers"

// maxPending bounds how many unanswered subscribe requests are remembered.
const maxPending = 256

// Errors
var (
	ErrEmptyFrame   = errors.New("empty frame")
	ErrUnknownFrame = errors.New("unrecognized frame")
	ErrNoSymbols    = errors.New("no symbols")
)

// request is an outbound op frame.
type request struct {
	ID   string `json:"id,omitempty"`
	Op   string `json:"op"`
	Args []arg  `json:"args"`
}

type arg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId,omitempty"`
}

// envelope covers both event and data frames.
type envelope struct {
	ID    string   `json:"id"`
	Event string   `json:"event"`
	Code  string   `json:"code"`
	Msg   string   `json:"msg"`
	Arg   *arg     `json:"arg"`
	Data  []Ticker `json:"data"`
}

// Ticker is one ticker row as sent by both the stream and the REST snapshot endpoint.
type Ticker struct {
	InstID  string `json:"instId"`
	Last    string `json:"last"`
	Open24h string `json:"open24h"`
	High24h string `json:"high24h"`
	Low24h  string `json:"low24h"`
	Vol24h  string `json:"vol24h"`
	TS      string `json:"ts"`
}

// OKX encodes and decodes ticker channel frames. Safe for concurrent use.
//
// The exchange answers a refused subscription with an error event that
// carries the request id but usually no arg, so the codec remembers which
// symbols each subscribe request asked for until they are acknowledged.
type OKX struct {
	nextID atomic.Int64

	mu      sync.Mutex
	pending map[int64][]string
}

// NewOKX creates a codec.
func NewOKX() *OKX {
	return &OKX{pending: make(map[int64][]string)}
}

var _ connection.Parser = (*OKX)(nil)

// Parse decodes one inbound frame.
func (p *OKX) Parse(data []byte, _ time.Time) (connection.Frame, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return connection.Frame{}, ErrEmptyFrame
	}
	if string(data) == "pong" {
		return connection.Frame{Kind: connection.FrameControl}, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return connection.Frame{}, fmt.Errorf("decode frame: %w", err)
	}

	switch {
	case env.Event == "error":
		if symbols := p.rejected(env); len(symbols) > 0 {
			return connection.Frame{
				Kind:    connection.FrameRejected,
				Symbols: symbols,
				Reason:  rejectReason(env),
			}, nil
		}
		return connection.Frame{Kind: connection.FrameControl}, nil

	case env.Event == "subscribe":
		p.acked(env)
		return connection.Frame{Kind: connection.FrameControl}, nil

	case env.Event != "":
		// unsubscribe acks, notices
		return connection.Frame{Kind: connection.FrameControl}, nil

	case env.Data != nil:
		return p.parseData(env)
	}

	return connection.Frame{}, ErrUnknownFrame
}

func (p *OKX) parseData(env envelope) (connection.Frame, error) {
	if env.Arg != nil && env.Arg.Channel != "" && env.Arg.Channel != Channel {
		return connection.Frame{}, fmt.Errorf("%w: channel %q", ErrUnknownFrame, env.Arg.Channel)
	}
	if len(env.Data) == 0 {
		return connection.Frame{}, ErrEmptyFrame
	}

	samples := make([]model.PriceSample, 0, len(env.Data))
	for _, row := range env.Data {
		symbol := row.InstID
		if symbol == "" && env.Arg != nil {
			symbol = env.Arg.InstID
		}

		raw, err := row.Raw(symbol)
		if err != nil {
			return connection.Frame{}, err
		}
		s, err := raw.ToSample(model.SourceStream)
		if err != nil {
			return connection.Frame{}, fmt.Errorf("ticker %s: %w", symbol, err)
		}
		samples = append(samples, s)
	}

	return connection.Frame{Kind: connection.FrameSample, Samples: samples}, nil
}

// SubscribeFrame encodes a subscribe op for symbols.
func (p *OKX) SubscribeFrame(symbols []string) ([]byte, error) {
	return p.op("subscribe", symbols)
}

// UnsubscribeFrame encodes an unsubscribe op for symbols.
func (p *OKX) UnsubscribeFrame(symbols []string) ([]byte, error) {
	return p.op("unsubscribe", symbols)
}

func (p *OKX) op(name string, symbols []string) ([]byte, error) {
	if len(symbols) == 0 {
		return nil, ErrNoSymbols
	}

	id := p.nextID.Add(1)
	if name == "subscribe" {
		p.track(id, symbols)
	}

	req := request{
		ID:   strconv.FormatInt(id, 10),
		Op:   name,
		Args: make([]arg, 0, len(symbols)),
	}
	for _, s := range symbols {
		req.Args = append(req.Args, arg{Channel: Channel, InstID: s})
	}
	return json.Marshal(req)
}

func (p *OKX) track(id int64, symbols []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[id] = append([]string(nil), symbols...)
	delete(p.pending, id-maxPending)
}

// acked drops a confirmed symbol from its request.
func (p *OKX) acked(env envelope) {
	id, err := strconv.ParseInt(env.ID, 10, 64)
	if err != nil || env.Arg == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	left := p.pending[id][:0]
	for _, s := range p.pending[id] {
		if !strings.EqualFold(s, env.Arg.InstID) {
			left = append(left, s)
		}
	}
	if len(left) == 0 {
		delete(p.pending, id)
		return
	}
	p.pending[id] = left
}

// rejected resolves which symbols an error event refers to: the arg if
// present, then an instId named in the message, then the symbols of the
// subscribe request with the same id. Errors for unsubscribes or unknown
// ids refer to nothing.
func (p *OKX) rejected(env envelope) []string {
	var requested []string
	if id, err := strconv.ParseInt(env.ID, 10, 64); err == nil {
		p.mu.Lock()
		requested = p.pending[id]
		delete(p.pending, id)
		p.mu.Unlock()
	}

	if env.Arg != nil && env.Arg.InstID != "" {
		return []string{strings.ToUpper(env.Arg.InstID)}
	}
	if env.ID != "" && requested == nil {
		return nil
	}
	if name := instIDFromMsg(env.Msg); name != "" {
		return []string{strings.ToUpper(name)}
	}
	return requested
}

// instIDFromMsg extracts X from "...instId:X doesn't exist...".
func instIDFromMsg(msg string) string {
	i := strings.Index(msg, "instId:")
	if i < 0 {
		return ""
	}
	rest := msg[i+len("instId:"):]
	end := strings.IndexFunc(rest, func(r rune) bool {
		return r == ' ' || r == ',' || r == '"' || r == '}'
	})
	if end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// Raw converts the row to a RawTicker. fallback is used when the row has no instId.
func (row Ticker) Raw(fallback string) (model.RawTicker, error) {
	symbol := row.InstID
	if symbol == "" {
		symbol = fallback
	}

	var ts int64
	if row.TS != "" {
		v, err := strconv.ParseInt(row.TS, 10, 64)
		if err != nil {
			return model.RawTicker{}, fmt.Errorf("ticker %s: bad ts %q: %w", symbol, row.TS, err)
		}
		ts = v
	}

	return model.RawTicker{
		Symbol:    symbol,
		Last:      row.Last,
		Open24h:   row.Open24h,
		High24h:   row.High24h,
		Low24h:    row.Low24h,
		Volume24h: row.Vol24h,
		Timestamp: ts,
	}, nil
}

func rejectReason(env envelope) string {
	if env.Code == "" {
		return env.Msg
	}
	if env.Msg == "" {
		return env.Code
	}
	return env.Code + ": " + env.Msg
}
