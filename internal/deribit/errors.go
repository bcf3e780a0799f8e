package deribit

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotAuthenticated is returned by private methods before Authenticate succeeds
var ErrNotAuthenticated = errors.New("deribit: not authenticated")

// ErrEmptyResult is returned when a successful response carries no result
var ErrEmptyResult = errors.New("deribit: empty result")

// codeTooManyRequests is Deribit's rate limit error code
const codeTooManyRequests = 10028

// RPCError is an error object returned in a JSON-RPC response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("deribit rpc error %d: %s", e.Code, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *RPCError) IsRetryable() bool {
	return e.Code == codeTooManyRequests
}

// APIError is a non-2xx HTTP response without a JSON-RPC error body.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("deribit api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}
