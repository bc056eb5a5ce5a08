// Package poller implements the fallback poller.
//
// The poller:
//   - Runs at most one timer per symbol, at a caller-chosen interval
//   - Fetches a snapshot immediately on start, then on every tick
//   - Hands each successful fetch to a SampleHandler as a source=poll sample
//   - Logs and counts failures without changing the interval
//   - Bounds concurrent fetches across all symbols with a semaphore
package poller
