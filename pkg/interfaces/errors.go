package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrSymbolNotFound = errors.New("symbol not found")
)
