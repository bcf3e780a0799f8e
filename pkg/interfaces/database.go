package interfaces

import (
	"context"

	"marketfeed/pkg/types"
)

// DatabaseManager handles all persistence operations
type DatabaseManager interface {
	// CreateSymbol persists a catalogued topic; existing names are left unchanged
	CreateSymbol(ctx context.Context, symbol *types.Symbol) error

	// ListSymbols returns every catalogued symbol ordered by name
	ListSymbols(ctx context.Context) ([]*types.Symbol, error)

	// RecordQuote journals a published quote.
	// It must not block the caller on disk I/O.
	RecordQuote(ctx context.Context, quote *types.Quote) error

	// QuoteHistory returns up to limit most recent quotes for symbol, newest first
	QuoteHistory(ctx context.Context, symbol string, limit int) ([]*types.RecordedQuote, error)

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	Close() error
}

// SymbolCatalog manages the set of topics clients may subscribe to
type SymbolCatalog interface {
	// CreateSymbol persists name and registers it as a topic. Idempotent.
	CreateSymbol(ctx context.Context, name string) (*types.Symbol, error)

	// GetSymbol returns a catalogued symbol by name
	GetSymbol(name string) (*types.Symbol, bool)

	// ListSymbols returns all catalogued symbols
	ListSymbols(ctx context.Context) ([]*types.Symbol, error)
}
