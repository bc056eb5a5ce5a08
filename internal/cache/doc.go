// Package cache implements the last-value PriceCache.
//
// The cache is the consistency point between the stream and poll paths:
// a sample is accepted only if its timestamp is strictly newer than the
// cached one, so a slow poll response never regresses a newer stream price.
package cache
