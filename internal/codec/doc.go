// Package codec implements connection.Parser for an OKX v5 style public
// "tickers" channel.
//
// Outbound control frames:
//
//	{"id":"1","op":"subscribe","args":[{"channel":"tickers","instId":"BTC-USDT"}]}
//
// Inbound data frames carry one or more ticker rows:
//
//	{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","last":"...","ts":"..."}]}
//
// Event frames (subscribe acks, errors) and the literal "pong" are control
// frames, except an error naming an instrument, which is a rejection.
package codec
