package gateway

import "github.com/rickgao/pricefeed/internal/model"

// Client actions.
const (
	ActionSubscribe      = "subscribe"
	ActionUnsubscribe    = "unsubscribe"
	ActionUnsubscribeAll = "unsubscribe_all"
)

// Server message types.
const (
	TypeAck    = "ack"
	TypeError  = "error"
	TypeTicker = "ticker"
)

// Request is a client command.
type Request struct {
	Action  string         `json:"action"`
	ID      string         `json:"id,omitempty"`
	Payload RequestPayload `json:"payload"`
}

// RequestPayload carries the symbols a command applies to.
type RequestPayload struct {
	Symbols []string `json:"symbols"`
}

// Response is every server-to-client message.
type Response struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`     // echoes Request.ID
	Status  string `json:"status,omitempty"` // "success" on acks
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Ticker is the data of a ticker message: the sample plus its direction.
type Ticker struct {
	model.PriceSample
	Direction model.Direction `json:"direction"`
}
