package types

import "errors"

var (
	ErrMissingAction      = errors.New("control message missing action")
	ErrUnknownAction      = errors.New("unknown control action")
	ErrMissingCredentials = errors.New("authenticate requires client_id and client_secret")
	ErrMissingSymbol      = errors.New("symbol is required")
	ErrInvalidSymbol      = errors.New("symbol must be 1-64 characters, alphanumeric plus - _ . only")
	ErrInvalidQuote       = errors.New("quote prices must be non-negative")
	ErrMalformedMessage   = errors.New("malformed control message")
)
