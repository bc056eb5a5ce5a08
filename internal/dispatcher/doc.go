// Package dispatcher is the public face of the market-data layer.
//
// Consumers call Subscribe, SubscribeBatch, GetLast and IsConnected; nothing
// else reaches the connection manager or the price cache.
package dispatcher
