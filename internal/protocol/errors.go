package protocol

import "errors"

// Dispatch outcomes. None of these reach the client; they are logged.
var (
	ErrRateLimitExceeded      = errors.New("rate limit exceeded")
	ErrConnectionClosed       = errors.New("message on closed connection")
	ErrAuthenticationFailed   = errors.New("authentication failed")
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrUnknownSymbol          = errors.New("unknown symbol")
)
