// Package gateway fans dispatcher updates out to browser clients over
// WebSocket and exposes the latest prices and feed health over HTTP.
//
// Routes:
//
//	GET /ws                 subscribe/unsubscribe protocol, pushes ticker messages
//	GET /prices/{symbol}    last accepted sample for symbol
//	GET /health             connection state and component stats
//
// Each WebSocket client holds its own symbol subscriptions on the dispatcher;
// reference counting across clients is the dispatcher's job.
package gateway
