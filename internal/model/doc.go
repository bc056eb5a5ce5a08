// Package model defines shared data types used across the price feed.
//
// Conventions:
//   - Prices: float64 in quote currency, parsed from exchange decimal strings
//   - Timestamps: int64 milliseconds since Unix epoch (exchange time when provided)
//   - Symbols: exchange instrument identifiers, upper case (e.g. "BTC-USDT", "AAPL")
package model
