package websocket

import (
	"errors"

	"marketfeed/pkg/interfaces"
)

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilConnection           = errors.New("connection cannot be nil")
	ErrConnectionNotRegistered = errors.New("connection not registered")
	// ErrTopicNotFound is interfaces.ErrSymbolNotFound so callers outside
	// this package can match it without importing the transport
	ErrTopicNotFound = interfaces.ErrSymbolNotFound
)
