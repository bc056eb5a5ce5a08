// Package publish mirrors accepted price updates to external systems.
//
// A Mirror subscribes to a fixed symbol list through the dispatcher and hands
// each update to a Publisher on its own goroutine, so slow backends never
// stall delivery. Publishers exist for Redis (latest value key plus pub/sub
// channel) and NATS core subjects.
package publish
