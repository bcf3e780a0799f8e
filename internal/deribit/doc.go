// Package deribit is a JSON-RPC over HTTP client for the Deribit v2 API.
//
// Public methods (order book, auth) need no token. Private methods require a
// prior successful Authenticate call on the same Client.
package deribit
