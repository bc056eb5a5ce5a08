// Package api provides the REST snapshot client used by the fallback poller.
//
// Endpoint:
//   - GET {base}/api/v5/market/ticker?instId=BTC-USDT
//
// Responses use the envelope {"code":"0","msg":"","data":[...]}; any other
// code is reported as an *APIError.
package api
