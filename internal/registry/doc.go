// Package registry implements the refcounted subscription registry.
//
// Each subscribed symbol has one entry holding its consumer handles and a
// DeliveryMode. The first handle on a symbol turns on the network side
// (stream subscription, poll timer or both); the last one turns it off.
//
// Samples from the stream and the poller, and connection open/close
// transitions, are queued and applied by a single goroutine that is the only
// writer of the price cache. Subscribe and unsubscribe run on the caller's
// goroutine and return immediately.
package registry
