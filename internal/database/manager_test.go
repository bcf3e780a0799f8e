package database

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"marketfeed/pkg/database"
	"marketfeed/pkg/interfaces"
	"marketfeed/pkg/types"
)

var _ interfaces.DatabaseManager = (*Manager)(nil)

// setupTestDB opens a migrated database in a temp dir
func setupTestDB(t *testing.T) *Manager {
	t.Helper()

	config := database.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	manager, err := NewManager(config, nil)
	require.NoError(t, err)
	manager.retryDelay = 10 * time.Millisecond
	t.Cleanup(func() { _ = manager.Close() })

	require.NoError(t, database.NewMigrationManager(manager.GetDB(), "").ApplyMigrations())
	return manager
}

func seedSymbols(t *testing.T, m *Manager, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, m.CreateSymbol(context.Background(), &types.Symbol{Name: name}))
	}
}

func TestNewManager_InvalidConfig(t *testing.T) {
	config := database.DefaultConfig()
	config.DatabasePath = ""

	_, err := NewManager(config, nil)
	assert.Error(t, err)
}

func TestManager_CreateSymbol(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	symbol := &types.Symbol{Name: "ETH-PERPETUAL"}
	require.NoError(t, m.CreateSymbol(ctx, symbol))
	assert.False(t, symbol.CreatedAt.IsZero())

	t.Run("duplicate keeps original", func(t *testing.T) {
		later := &types.Symbol{Name: "ETH-PERPETUAL", CreatedAt: symbol.CreatedAt.Add(time.Hour)}
		require.NoError(t, m.CreateSymbol(ctx, later))

		symbols, err := m.ListSymbols(ctx)
		require.NoError(t, err)
		require.Len(t, symbols, 1)
		assert.WithinDuration(t, symbol.CreatedAt, symbols[0].CreatedAt, time.Second)
	})

	t.Run("invalid name", func(t *testing.T) {
		err := m.CreateSymbol(ctx, &types.Symbol{Name: "ETH PERP"})
		assert.ErrorIs(t, err, types.ErrInvalidSymbol)
	})
}

func TestManager_ListSymbolsOrdered(t *testing.T) {
	m := setupTestDB(t)
	seedSymbols(t, m, "SOL-PERPETUAL", "BTC-PERPETUAL", "ETH-PERPETUAL")

	symbols, err := m.ListSymbols(context.Background())
	require.NoError(t, err)

	names := make([]string, 0, len(symbols))
	for _, s := range symbols {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"BTC-PERPETUAL", "ETH-PERPETUAL", "SOL-PERPETUAL"}, names)
}

func TestManager_ListSymbolsEmpty(t *testing.T) {
	m := setupTestDB(t)

	symbols, err := m.ListSymbols(context.Background())
	require.NoError(t, err)
	assert.Empty(t, symbols)
}

func TestManager_RecordQuoteAndHistory(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	seedSymbols(t, m, "ETH-PERPETUAL", "BTC-PERPETUAL")

	for i := 0; i < 5; i++ {
		require.NoError(t, m.RecordQuote(ctx, &types.Quote{
			Symbol:    "ETH-PERPETUAL",
			BestBid:   float64(40 + i),
			BestAsk:   float64(70 + i),
			Timestamp: int64(1700000000 + i),
		}))
	}
	require.NoError(t, m.RecordQuote(ctx, &types.Quote{Symbol: "BTC-PERPETUAL", BestBid: 1, BestAsk: 2, Timestamp: 1700000000}))
	require.NoError(t, m.Flush(ctx))

	history, err := m.QuoteHistory(ctx, "ETH-PERPETUAL", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)

	assert.Equal(t, int64(1700000004), history[0].Timestamp, "newest first")
	assert.Equal(t, 44.0, history[0].BestBid)
	assert.Equal(t, 74.0, history[0].BestAsk)
	assert.Equal(t, int64(1700000002), history[2].Timestamp)
	assert.False(t, history[0].RecordedAt.IsZero())

	all, err := m.QuoteHistory(ctx, "ETH-PERPETUAL", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5, "non-positive limit uses the default")

	none, err := m.QuoteHistory(ctx, "SOL-PERPETUAL", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestManager_HistoryTieBreaksByInsertion(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	seedSymbols(t, m, "ETH-PERPETUAL")

	for _, bid := range []float64{1, 2, 3} {
		require.NoError(t, m.RecordQuote(ctx, &types.Quote{Symbol: "ETH-PERPETUAL", BestBid: bid, BestAsk: 50, Timestamp: 1700000000}))
	}
	require.NoError(t, m.Flush(ctx))

	history, err := m.QuoteHistory(ctx, "ETH-PERPETUAL", 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []float64{3, 2, 1}, []float64{history[0].BestBid, history[1].BestBid, history[2].BestBid})
}

func TestManager_RecordQuoteValidation(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	assert.ErrorIs(t, m.RecordQuote(ctx, &types.Quote{Symbol: "", BestBid: 1, BestAsk: 2}), types.ErrInvalidSymbol)
	assert.ErrorIs(t, m.RecordQuote(ctx, &types.Quote{Symbol: "ETH-PERPETUAL", BestBid: -1, BestAsk: 2}), types.ErrInvalidQuote)
	assert.Equal(t, 0, m.QueueDepth())
}

func TestManager_RecordQuoteUnknownSymbolIsDropped(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	// the foreign key rejects it inside the writer; the caller is not blocked
	require.NoError(t, m.RecordQuote(ctx, &types.Quote{Symbol: "GHOST", BestBid: 1, BestAsk: 2, Timestamp: 1}))
	require.NoError(t, m.Flush(ctx))

	history, err := m.QuoteHistory(ctx, "GHOST", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestManager_RecordQuoteQueueFull(t *testing.T) {
	config := database.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "full.db")
	config.WriteQueueSize = 1

	m, err := NewManager(config, nil)
	require.NoError(t, err)
	m.retryDelay = time.Millisecond
	defer func() { _ = m.Close() }()
	require.NoError(t, database.NewMigrationManager(m.GetDB(), "").ApplyMigrations())

	// park the writer so the queue cannot drain
	release := make(chan struct{})
	m.writeChannel <- writeOperation{name: "block", operation: func(_ *sql.DB) error {
		<-release
		return nil
	}}
	require.Eventually(t, func() bool { return m.QueueDepth() == 0 }, time.Second, time.Millisecond)

	quote := &types.Quote{Symbol: "ETH-PERPETUAL", BestBid: 1, BestAsk: 2}
	require.NoError(t, m.RecordQuote(context.Background(), quote))
	assert.ErrorIs(t, m.RecordQuote(context.Background(), quote), ErrWriteQueueFull)

	close(release)
}

func TestManager_ConcurrentWrites(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			name := fmt.Sprintf("SYM-%02d", id)
			if err := m.CreateSymbol(ctx, &types.Symbol{Name: name}); err != nil {
				errs <- err
				return
			}
			if err := m.RecordQuote(ctx, &types.Quote{Symbol: name, BestBid: 1, BestAsk: 2, Timestamp: int64(id)}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent write failed: %v", err)
	}

	require.NoError(t, m.Flush(ctx))
	symbols, err := m.ListSymbols(ctx)
	require.NoError(t, err)
	assert.Len(t, symbols, writers)

	for i := 0; i < writers; i++ {
		history, err := m.QuoteHistory(ctx, fmt.Sprintf("SYM-%02d", i), 10)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	}
}

func TestManager_HealthCheck(t *testing.T) {
	m := setupTestDB(t)
	assert.NoError(t, m.HealthCheck(context.Background()))
}

func TestManager_HealthCheckWithoutSchema(t *testing.T) {
	config := database.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "bare.db")

	m, err := NewManager(config, nil)
	require.NoError(t, err)
	defer func() { _ = m.Close() }()

	assert.Error(t, m.HealthCheck(context.Background()))
}

func TestManager_CloseFlushesQueue(t *testing.T) {
	config := database.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "flush.db")
	ctx := context.Background()

	m, err := NewManager(config, nil)
	require.NoError(t, err)
	require.NoError(t, database.NewMigrationManager(m.GetDB(), "").ApplyMigrations())
	seedSymbols(t, m, "ETH-PERPETUAL")

	for i := 0; i < 50; i++ {
		require.NoError(t, m.RecordQuote(ctx, &types.Quote{Symbol: "ETH-PERPETUAL", BestBid: 1, BestAsk: 2, Timestamp: int64(i)}))
	}
	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "Close is idempotent")

	assert.ErrorIs(t, m.CreateSymbol(ctx, &types.Symbol{Name: "BTC-PERPETUAL"}), ErrManagerClosed)
	assert.ErrorIs(t, m.RecordQuote(ctx, &types.Quote{Symbol: "ETH-PERPETUAL", BestBid: 1, BestAsk: 2}), ErrManagerClosed)

	reopened, err := NewManager(config, nil)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	history, err := reopened.QuoteHistory(ctx, "ETH-PERPETUAL", 1000)
	require.NoError(t, err)
	assert.Len(t, history, 50)
}

func TestManager_WriteRespectsContext(t *testing.T) {
	m := setupTestDB(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.CreateSymbol(ctx, &types.Symbol{Name: "ETH-PERPETUAL"})
	assert.Error(t, err)
}

func TestManager_PruneQuotes(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	seedSymbols(t, m, "ETH-PERPETUAL", "BTC-PERPETUAL")

	for _, ts := range []int64{1000, 1999, 2000, 3000} {
		require.NoError(t, m.RecordQuote(ctx, &types.Quote{Symbol: "ETH-PERPETUAL", BestBid: 1, BestAsk: 2, Timestamp: ts}))
	}
	require.NoError(t, m.RecordQuote(ctx, &types.Quote{Symbol: "BTC-PERPETUAL", BestBid: 1, BestAsk: 2, Timestamp: 1500}))
	require.NoError(t, m.Flush(ctx))

	removed, err := m.PruneQuotes(ctx, time.Unix(2000, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed, "cutoff is exclusive and spans every symbol")

	history, err := m.QuoteHistory(ctx, "ETH-PERPETUAL", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(3000), history[0].Timestamp)
	assert.Equal(t, int64(2000), history[1].Timestamp)

	btc, err := m.QuoteHistory(ctx, "BTC-PERPETUAL", 0)
	require.NoError(t, err)
	assert.Empty(t, btc)

	removed, err = m.PruneQuotes(ctx, time.Unix(2000, 0))
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestManager_RunRetention(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	seedSymbols(t, m, "ETH-PERPETUAL")

	now := time.Now().Unix()
	require.NoError(t, m.RecordQuote(ctx, &types.Quote{Symbol: "ETH-PERPETUAL", BestBid: 1, BestAsk: 2, Timestamp: now - 7200}))
	require.NoError(t, m.RecordQuote(ctx, &types.Quote{Symbol: "ETH-PERPETUAL", BestBid: 3, BestAsk: 4, Timestamp: now}))
	require.NoError(t, m.Flush(ctx))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		m.RunRetention(runCtx, time.Hour, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		history, err := m.QuoteHistory(ctx, "ETH-PERPETUAL", 0)
		return err == nil && len(history) == 1 && history[0].Timestamp == now
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunRetention did not return after cancel")
	}
}
