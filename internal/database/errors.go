package database

import "errors"

// Manager errors
var (
	ErrManagerClosed  = errors.New("database manager is closed")
	ErrWriteQueueFull = errors.New("database write queue is full")
	ErrWriteTimeout   = errors.New("write operation timeout")
)
