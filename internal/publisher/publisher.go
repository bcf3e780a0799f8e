package publisher

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"marketfeed/pkg/interfaces"
	"marketfeed/pkg/types"
)

// QuoteRecorder journals published quotes. Implementations must not block.
type QuoteRecorder interface {
	RecordQuote(ctx context.Context, quote *types.Quote) error
}

// Options configures a Publisher
type Options struct {
	Interval time.Duration
	// Recorder is optional
	Recorder QuoteRecorder
}

// Stats are cumulative publisher counters
type Stats struct {
	Ticks      uint64 `json:"ticks"`
	Quotes     uint64 `json:"quotes"`
	Deliveries uint64 `json:"deliveries"`
	Failures   uint64 `json:"failures"`
}

// Publisher periodically broadcasts a quote for every registered topic
type Publisher struct {
	broadcaster interfaces.Broadcaster
	source      QuoteSource
	recorder    QuoteRecorder
	interval    time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	ticks      atomic.Uint64
	quotes     atomic.Uint64
	deliveries atomic.Uint64
	failures   atomic.Uint64
}

// NewPublisher creates a stopped publisher
func NewPublisher(broadcaster interfaces.Broadcaster, source QuoteSource, opts Options, logger *zap.Logger) *Publisher {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		broadcaster: broadcaster,
		source:      source,
		recorder:    opts.Recorder,
		interval:    opts.Interval,
		logger:      logger,
	}
}

// Start launches the publishing loop. It runs until ctx is cancelled or Stop
// is called.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrPublisherAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})

	p.logger.Info("starting publisher", zap.Duration("interval", p.interval))
	go p.run(runCtx, p.done)

	return nil
}

// Stop signals the loop and waits for it to exit
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return ErrPublisherNotRunning
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	p.logger.Info("stopping publisher")
	cancel()
	<-done
	return nil
}

// IsRunning reports whether the loop has been started and not stopped
func (p *Publisher) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Done returns a channel closed when the current loop exits, or nil if the
// publisher was never started.
func (p *Publisher) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *Publisher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.PublishOnce(ctx)
		case <-ctx.Done():
			// a Start after Stop owns the flag once p.done has moved on
			p.mu.Lock()
			if p.done == done {
				p.running = false
			}
			p.mu.Unlock()
			return
		}
	}
}

// PublishOnce runs a single tick: one quote per topic, broadcast and
// optionally journaled. It returns the number of subscriber deliveries.
func (p *Publisher) PublishOnce(ctx context.Context) int {
	p.ticks.Add(1)

	total := 0
	for _, topic := range p.broadcaster.Topics() {
		if ctx.Err() != nil {
			break
		}

		quote, err := p.source.Quote(ctx, topic)
		if err != nil {
			p.failures.Add(1)
			p.logger.Warn("quote source failed", zap.String("symbol", topic), zap.Error(err))
			continue
		}

		payload, err := json.Marshal(quote)
		if err != nil {
			p.failures.Add(1)
			p.logger.Error("failed to encode quote", zap.String("symbol", topic), zap.Error(err))
			continue
		}

		delivered := p.broadcaster.Broadcast(topic, payload)
		p.quotes.Add(1)
		p.deliveries.Add(uint64(delivered))
		total += delivered

		if p.recorder != nil {
			if err := p.recorder.RecordQuote(ctx, quote); err != nil {
				p.logger.Debug("quote not journaled", zap.String("symbol", topic), zap.Error(err))
			}
		}
	}

	return total
}

// GetStats returns cumulative counters
func (p *Publisher) GetStats() Stats {
	return Stats{
		Ticks:      p.ticks.Load(),
		Quotes:     p.quotes.Load(),
		Deliveries: p.deliveries.Load(),
		Failures:   p.failures.Load(),
	}
}
