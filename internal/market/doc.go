// Package market implements the instrument Classifier.
//
// The Classifier:
//   - Maps a symbol to its AssetClass (crypto, futures, equity)
//   - Honors explicitly configured instrument lists first
//   - Falls back to the symbol's shape (quote-currency suffix, contract codes)
//   - Accepts runtime overrides so operators can reclassify an instrument
package market
