package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"marketfeed/pkg/interfaces"
	"marketfeed/pkg/types"
)

// TopicCreator is the registry operation the catalog drives.
type TopicCreator interface {
	CreateTopic(name string)
}

// Manager implements interfaces.SymbolCatalog. Every catalogued symbol is
// persisted and registered as a topic; the in-memory map mirrors the table.
type Manager struct {
	store    interfaces.DatabaseManager
	registry TopicCreator
	logger   *zap.Logger

	mu      sync.RWMutex
	symbols map[string]*types.Symbol
	loaded  bool
}

// NewManager creates a symbol catalog
func NewManager(store interfaces.DatabaseManager, registry TopicCreator, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:    store,
		registry: registry,
		logger:   logger,
		symbols:  make(map[string]*types.Symbol),
	}
}

// LoadSymbols registers every persisted symbol as a topic
func (m *Manager) LoadSymbols(ctx context.Context) error {
	symbols, err := m.store.ListSymbols(ctx)
	if err != nil {
		return fmt.Errorf("failed to load symbols: %w", err)
	}

	m.mu.Lock()
	for _, symbol := range symbols {
		m.symbols[symbol.Name] = symbol
		m.registry.CreateTopic(symbol.Name)
	}
	m.loaded = true
	m.mu.Unlock()

	m.logger.Info("loaded symbol catalog", zap.Int("symbols", len(symbols)))
	return nil
}

// EnsureSymbols catalogs each configured name that is not yet known.
// Duplicates and already-catalogued names are skipped.
func (m *Manager) EnsureSymbols(ctx context.Context, names []string) error {
	for _, name := range names {
		if _, err := m.CreateSymbol(ctx, name); err != nil {
			return fmt.Errorf("failed to ensure symbol %s: %w", name, err)
		}
	}
	return nil
}

// CreateSymbol persists name and registers the topic. Idempotent: an existing
// symbol is returned unchanged.
func (m *Manager) CreateSymbol(ctx context.Context, name string) (*types.Symbol, error) {
	if !types.IsValidSymbol(name) {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidSymbol, name)
	}

	m.mu.RLock()
	existing, ok := m.symbols[name]
	m.mu.RUnlock()
	if ok {
		return existing, nil
	}

	symbol := &types.Symbol{Name: name, CreatedAt: time.Now().UTC()}
	if err := m.store.CreateSymbol(ctx, symbol); err != nil {
		return nil, fmt.Errorf("failed to persist symbol: %w", err)
	}

	m.mu.Lock()
	if existing, ok := m.symbols[name]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.symbols[name] = symbol
	m.mu.Unlock()

	m.registry.CreateTopic(name)
	m.logger.Info("created symbol", zap.String("symbol", name))
	return symbol, nil
}

// GetSymbol returns a catalogued symbol
func (m *Manager) GetSymbol(name string) (*types.Symbol, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	symbol, ok := m.symbols[name]
	return symbol, ok
}

// ListSymbols returns every catalogued symbol ordered by name
func (m *Manager) ListSymbols(ctx context.Context) ([]*types.Symbol, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.loaded {
		return nil, ErrNotLoaded
	}

	symbols := make([]*types.Symbol, 0, len(m.symbols))
	for _, symbol := range m.symbols {
		symbols = append(symbols, symbol)
	}
	sort.Slice(symbols, func(i, j int) bool { return symbols[i].Name < symbols[j].Name })
	return symbols, nil
}
