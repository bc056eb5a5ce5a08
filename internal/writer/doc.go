// Package writer records accepted price samples to TimescaleDB.
//
// The recorder subscribes to its symbols through the dispatcher, queues each
// delivered sample and flushes batches by size or interval. Writes are
// append-only: a sample already stored for (symbol, exchange_ts) is skipped.
package writer
