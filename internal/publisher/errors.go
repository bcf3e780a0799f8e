package publisher

import "errors"

// Publisher-specific errors
var (
	ErrPublisherAlreadyRunning = errors.New("publisher is already running")
	ErrPublisherNotRunning     = errors.New("publisher is not running")
	ErrNoQuote                 = errors.New("no quote available")
)
