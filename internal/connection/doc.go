// Package connection owns the single shared streaming connection.
//
// The Manager:
//   - Dials the exchange stream and keeps one socket open at a time
//   - Tracks the stream set (symbols that should be subscribed on the socket)
//   - Re-subscribes the whole stream set every time the socket opens
//   - Reconnects with capped exponential backoff and jitter
//   - Forces a reconnect when the stream goes quiet or keeps sending garbage
//   - Reports open/close transitions, samples and rejections to a Handler
//
// Wire formats are delegated to a Parser so the manager never looks inside
// a frame.
package connection
