package publisher

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"marketfeed/internal/deribit"
	"marketfeed/pkg/types"
)

// QuoteSource produces the current quote for a symbol
type QuoteSource interface {
	Quote(ctx context.Context, symbol string) (*types.Quote, error)
}

// SyntheticSource generates random whole-number quotes: bid in [1,100] and
// ask in [50,149]. Bid may exceed ask.
type SyntheticSource struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewSyntheticSource creates a source seeded from the runtime's random state
func NewSyntheticSource() *SyntheticSource {
	return NewSeededSyntheticSource(rand.Uint64(), rand.Uint64())
}

// NewSeededSyntheticSource creates a reproducible source
func NewSeededSyntheticSource(seed1, seed2 uint64) *SyntheticSource {
	return &SyntheticSource{
		rng: rand.New(rand.NewPCG(seed1, seed2)),
		now: time.Now,
	}
}

func (s *SyntheticSource) Quote(ctx context.Context, symbol string) (*types.Quote, error) {
	s.mu.Lock()
	bid := s.rng.IntN(100) + 1
	ask := s.rng.IntN(100) + 50
	s.mu.Unlock()

	return &types.Quote{
		Symbol:    symbol,
		BestBid:   float64(bid),
		BestAsk:   float64(ask),
		Timestamp: s.now().Unix(),
	}, nil
}

// OrderBookFetcher is the part of the exchange client the order book source uses
type OrderBookFetcher interface {
	GetOrderBook(ctx context.Context, instrument string, depth int) (*deribit.OrderBook, error)
}

// OrderBookSource quotes the top of the exchange order book
type OrderBookSource struct {
	client OrderBookFetcher
}

// NewOrderBookSource creates a source backed by client
func NewOrderBookSource(client OrderBookFetcher) *OrderBookSource {
	return &OrderBookSource{client: client}
}

func (s *OrderBookSource) Quote(ctx context.Context, symbol string) (*types.Quote, error) {
	book, err := s.client.GetOrderBook(ctx, symbol, 1)
	if err != nil {
		return nil, fmt.Errorf("order book for %s: %w", symbol, err)
	}
	if book.BestBidPrice == nil || book.BestAskPrice == nil {
		return nil, fmt.Errorf("%w: %s has an empty side", ErrNoQuote, symbol)
	}

	// the exchange reports milliseconds
	return &types.Quote{
		Symbol:    symbol,
		BestBid:   *book.BestBidPrice,
		BestAsk:   *book.BestAskPrice,
		Timestamp: book.Timestamp / 1000,
	}, nil
}
