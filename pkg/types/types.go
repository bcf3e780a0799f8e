package types

import (
	"time"
)

// Control actions accepted from clients. Any other value is dropped by the
// protocol handler without a response.
const (
	ActionAuthenticate = "authenticate"
	ActionSubscribe    = "subscribe"
	ActionUnsubscribe  = "unsubscribe"
)

// Response status values
const (
	StatusAuthenticated = "authenticated"
	StatusError         = "error"
)

// Error strings sent to clients inside a StatusResponse
const (
	ErrorInvalidCredentials     = "Invalid credentials"
	ErrorAuthenticationRequired = "Authentication required"
	ErrorUnknownSymbol          = "Unknown symbol"
)

// ControlMessage is the JSON envelope a client sends to authenticate or to
// change its subscriptions. Only the fields relevant to Action are read.
type ControlMessage struct {
	Action       string `json:"action"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	Symbol       string `json:"symbol,omitempty"`
}

// StatusResponse is the per-client reply to control messages.
// Error is omitted on success.
type StatusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Quote is one top-of-book update pushed to every subscriber of Symbol.
// Timestamp is epoch seconds.
type Quote struct {
	Symbol    string  `json:"symbol"`
	BestBid   float64 `json:"best_bid"`
	BestAsk   float64 `json:"best_ask"`
	Timestamp int64   `json:"timestamp"`
}

// Symbol is a catalogued topic name
type Symbol struct {
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SymbolSummary pairs a symbol with its live subscriber count for the HTTP API
type SymbolSummary struct {
	Name        string `json:"name"`
	Subscribers int    `json:"subscribers"`
}

// RecordedQuote is a journaled Quote as read back from storage
type RecordedQuote struct {
	Quote
	RecordedAt time.Time `json:"recorded_at"`
}

// AuthenticatedResponse returns the reply for a successful authenticate.
func AuthenticatedResponse() StatusResponse {
	return StatusResponse{Status: StatusAuthenticated}
}

// ErrorResponse returns an error reply carrying msg.
func ErrorResponse(msg string) StatusResponse {
	return StatusResponse{Status: StatusError, Error: msg}
}
