package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	dbconfig "marketfeed/pkg/database"
	"marketfeed/pkg/types"
)

// History query bounds
const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// Manager implements interfaces.DatabaseManager on SQLite.
// Reads go straight to the pool; every write is serialized through one
// goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       *zap.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	retryDelay   time.Duration
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
}

// writeOperation is one queued write. result is nil for fire-and-forget writes.
type writeOperation struct {
	name      string
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer goroutine. Migrations
// are applied separately through GetDB.
func NewManager(config *dbconfig.Config, logger *zap.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger,
		writeChannel: make(chan writeOperation, config.WriteQueueSize),
		shutdown:     make(chan struct{}),
		retryDelay:   5 * time.Second,
		writeTimeout: 30 * time.Second,
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			m.apply(op)

		case <-m.shutdown:
			// flush whatever was queued before Close
			for {
				select {
				case op := <-m.writeChannel:
					m.apply(op)
				default:
					m.logger.Debug("database write loop shutting down")
					return
				}
			}
		}
	}
}

// apply runs a write, retrying once after retryDelay
func (m *Manager) apply(op writeOperation) {
	err := op.operation(m.db)
	if err != nil {
		m.logger.Warn("database write failed, retrying",
			zap.String("operation", op.name),
			zap.Duration("delay", m.retryDelay),
			zap.Error(err))
		time.Sleep(m.retryDelay)
		err = op.operation(m.db)
		if err != nil {
			m.logger.Error("database write failed after retry",
				zap.String("operation", op.name),
				zap.Error(err))
		}
	}
	if op.result != nil {
		op.result <- err
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, name string, operation func(*sql.DB) error) error {
	result := make(chan error, 1)
	timer := time.NewTimer(m.writeTimeout)
	defer timer.Stop()

	if err := m.enqueue(ctx, writeOperation{name: name, operation: operation, result: result}, timer.C); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue holds the read lock so Close cannot stop the writer between the
// closed check and the send.
func (m *Manager) enqueue(ctx context.Context, op writeOperation, timeout <-chan time.Time) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrManagerClosed
	}

	select {
	case m.writeChannel <- op:
		return nil
	case <-timeout:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateSymbol persists a catalogued symbol. Existing names keep their
// original creation time.
func (m *Manager) CreateSymbol(ctx context.Context, symbol *types.Symbol) error {
	if !types.IsValidSymbol(symbol.Name) {
		return fmt.Errorf("%w: %q", types.ErrInvalidSymbol, symbol.Name)
	}
	if symbol.CreatedAt.IsZero() {
		symbol.CreatedAt = time.Now().UTC()
	}

	return m.executeWrite(ctx, "create_symbol", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT OR IGNORE INTO symbols (name, created_at) VALUES (?, ?)`,
			symbol.Name, symbol.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert symbol: %w", err)
		}
		return nil
	})
}

// ListSymbols returns all catalogued symbols ordered by name
func (m *Manager) ListSymbols(ctx context.Context) ([]*types.Symbol, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT name, created_at FROM symbols ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var symbols []*types.Symbol
	for rows.Next() {
		var symbol types.Symbol
		if err := rows.Scan(&symbol.Name, &symbol.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan symbol row: %w", err)
		}
		symbols = append(symbols, &symbol)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating symbol rows: %w", err)
	}

	return symbols, nil
}

// RecordQuote queues a quote for the journal and returns immediately.
// ErrWriteQueueFull means the quote was dropped.
func (m *Manager) RecordQuote(ctx context.Context, quote *types.Quote) error {
	if err := quote.Validate(); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrManagerClosed
	}

	q := *quote
	op := writeOperation{
		name: "record_quote",
		operation: func(db *sql.DB) error {
			_, err := db.Exec(
				`INSERT INTO quotes (symbol, best_bid, best_ask, timestamp, recorded_at) VALUES (?, ?, ?, ?, ?)`,
				q.Symbol, q.BestBid, q.BestAsk, q.Timestamp, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("failed to insert quote: %w", err)
			}
			return nil
		},
	}

	select {
	case m.writeChannel <- op:
		return nil
	default:
		return ErrWriteQueueFull
	}
}

// QuoteHistory returns up to limit journaled quotes for symbol, newest first.
// Non-positive limits use DefaultHistoryLimit; larger ones are capped.
func (m *Manager) QuoteHistory(ctx context.Context, symbol string, limit int) ([]*types.RecordedQuote, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	query := `
		SELECT symbol, best_bid, best_ask, timestamp, recorded_at
		FROM quotes
		WHERE symbol = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`

	rows, err := m.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query quote history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var quotes []*types.RecordedQuote
	for rows.Next() {
		var q types.RecordedQuote
		if err := rows.Scan(&q.Symbol, &q.BestBid, &q.BestAsk, &q.Timestamp, &q.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan quote row: %w", err)
		}
		quotes = append(quotes, &q)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quote rows: %w", err)
	}

	return quotes, nil
}

// PruneQuotes deletes journaled quotes stamped before cutoff and returns the
// number of rows removed. It runs on the writer goroutine like every write.
func (m *Manager) PruneQuotes(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	err := m.executeWrite(ctx, "prune_quotes", func(db *sql.DB) error {
		result, err := db.ExecContext(ctx, `DELETE FROM quotes WHERE timestamp < ?`, cutoff.Unix())
		if err != nil {
			return fmt.Errorf("failed to prune quotes: %w", err)
		}
		removed, err = result.RowsAffected()
		return err
	})
	return removed, err
}

// RunRetention prunes quotes older than maxAge every interval until ctx ends
func (m *Manager) RunRetention(ctx context.Context, maxAge, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := m.PruneQuotes(ctx, time.Now().Add(-maxAge))
			if err != nil {
				if ctx.Err() == nil {
					m.logger.Warn("quote retention failed", zap.Error(err))
				}
				continue
			}
			if removed > 0 {
				m.logger.Debug("quote journal pruned", zap.Int64("removed", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Flush waits until every write queued before the call has been applied
func (m *Manager) Flush(ctx context.Context) error {
	return m.executeWrite(ctx, "flush", func(*sql.DB) error { return nil })
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM symbols").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// QueueDepth returns the number of pending writes
func (m *Manager) QueueDepth() int {
	return len(m.writeChannel)
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close flushes queued writes and closes the database. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}
