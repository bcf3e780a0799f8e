package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"marketfeed/internal/api"
	"marketfeed/internal/auth"
	"marketfeed/internal/catalog"
	"marketfeed/internal/config"
	"marketfeed/internal/database"
	"marketfeed/internal/deribit"
	"marketfeed/internal/logging"
	"marketfeed/internal/protocol"
	"marketfeed/internal/publisher"
	"marketfeed/internal/websocket"
	pkgdatabase "marketfeed/pkg/database"
)

// CloseReasonShutdown is sent to connected clients when the server stops
const CloseReasonShutdown = "server shutting down"

// Application owns every component and their lifecycle
type Application struct {
	config     *config.Config
	logger     *zap.Logger
	dbManager  *database.Manager
	catalog    *catalog.Manager
	registry   *websocket.Registry
	protocol   *protocol.Handler
	publisher  *publisher.Publisher
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	group    *errgroup.Group
}

// NewApplication builds all components in dependency order:
// database → catalog/registry → auth → protocol → transport → publisher → HTTP.
func NewApplication(cfg *config.Config, creds *config.Credentials, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if creds == nil {
		return nil, config.ErrMissingCredentials
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	gate, err := auth.NewGate(creds.ClientID, creds.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth gate: %w", err)
	}

	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dbManager, err := database.NewManager(dbConfig, logging.Component(logger, logging.ComponentDatabase))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	migrations := pkgdatabase.NewMigrationManager(dbManager.GetDB(), dbConfig.MigrationsPath)
	if err := migrations.ApplyMigrations(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := migrations.ValidateSchema(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("database schema invalid: %w", err)
	}
	logger.Info("database ready", zap.String("path", dbConfig.DatabasePath))

	registry := websocket.NewRegistry(logging.Component(logger, logging.ComponentRegistry))
	symbols := catalog.NewManager(dbManager, registry, logging.Component(logger, logging.ComponentCatalog))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.Timeout)
	defer cancel()
	if err := symbols.LoadSymbols(ctx); err != nil {
		_ = dbManager.Close()
		return nil, err
	}
	if err := symbols.EnsureSymbols(ctx, cfg.Publisher.Symbols); err != nil {
		_ = dbManager.Close()
		return nil, err
	}

	protocolHandler := protocol.NewHandler(registry, gate, protocol.Options{
		RequireAuthentication: cfg.Auth.RequireAuthentication,
		RateLimit:             cfg.WebSocket.RateLimit,
	}, logging.Component(logger, logging.ComponentProtocol))

	wsHandler := websocket.NewHandler(registry, protocolHandler, websocket.HandlerOptions{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		Connection: websocket.ConnectionOptions{
			BufferSize:   cfg.WebSocket.BufferSize,
			WriteTimeout: cfg.WebSocket.WriteTimeout,
		},
	}, logging.Component(logger, logging.ComponentTransport))

	pubOpts := publisher.Options{Interval: cfg.Publisher.Interval}
	if cfg.Publisher.Journal {
		pubOpts.Recorder = dbManager
	}
	quotePublisher := publisher.NewPublisher(registry, newQuoteSource(cfg, logger), pubOpts,
		logging.Component(logger, logging.ComponentPublisher))

	apiServer := api.NewServer(symbols, dbManager, registry, gate, wsHandler.HandleWebSocket,
		logging.Component(logger, logging.ComponentAPI))

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logging.Component(logger, logging.ComponentApp),
		dbManager:  dbManager,
		catalog:    symbols,
		registry:   registry,
		protocol:   protocolHandler,
		publisher:  quotePublisher,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

func newQuoteSource(cfg *config.Config, logger *zap.Logger) publisher.QuoteSource {
	if cfg.Publisher.Source == config.SourceOrderBook {
		client := deribit.NewClient(cfg.Deribit.BaseURL,
			deribit.WithTimeout(cfg.Deribit.Timeout),
			deribit.WithRetries(cfg.Deribit.MaxRetries, cfg.Deribit.RetryBackoff),
			deribit.WithLogger(logging.Component(logger, logging.ComponentDeribit)))
		return publisher.NewOrderBookSource(client)
	}
	return publisher.NewSyntheticSource()
}

// Start binds the listener, then runs the HTTP server, the publisher, the
// rate limiter janitor and journal retention until ctx ends or Stop is called.
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.group != nil {
		return errors.New("application already started")
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	if err := app.publisher.Start(gctx); err != nil {
		cancel()
		_ = listener.Close()
		return fmt.Errorf("failed to start publisher: %w", err)
	}

	g.Go(func() error {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		app.protocol.RunCleanup(gctx, time.Minute)
		return nil
	})
	if retention := app.config.Publisher.JournalRetention; app.config.Publisher.Journal && retention > 0 {
		g.Go(func() error {
			app.dbManager.RunRetention(gctx, retention, min(retention, time.Minute))
			return nil
		})
	}

	app.listener = listener
	app.cancel = cancel
	app.group = g

	app.logger.Info("marketfeed started",
		zap.String("addr", listener.Addr().String()),
		zap.Strings("symbols", app.registry.Topics()),
		zap.String("source", app.config.Publisher.Source))
	return nil
}

// Wait blocks until the background tasks exit and returns the first error
func (app *Application) Wait() error {
	app.mu.Lock()
	g := app.group
	app.mu.Unlock()

	if g == nil {
		return nil
	}
	return g.Wait()
}

// Stop shuts down in reverse order: HTTP listener, client connections,
// publisher, background tasks, database.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	closed := app.registry.CloseAll(websocket.CloseGoingAway, CloseReasonShutdown)
	app.logger.Info("closed client connections", zap.Int("connections", closed))

	if err := app.publisher.Stop(); err != nil && !errors.Is(err, publisher.ErrPublisherNotRunning) {
		errs = append(errs, fmt.Errorf("publisher stop: %w", err))
	}

	app.mu.Lock()
	cancel := app.cancel
	app.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if err := app.Wait(); err != nil {
		errs = append(errs, err)
	}

	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database close: %w", err))
	}

	stats := app.publisher.GetStats()
	app.logger.Info("shutdown complete",
		zap.Uint64("ticks", stats.Ticks),
		zap.Uint64("deliveries", stats.Deliveries))
	return errors.Join(errs...)
}

// Run starts the application and blocks until ctx is cancelled or a
// background task fails, then shuts down within shutdownTimeout.
func (app *Application) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := app.Start(ctx); err != nil {
		_ = app.dbManager.Close()
		return err
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- app.Wait() }()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-waitErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.Stop(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Addr returns the bound listener address, or the configured one before Start
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Registry exposes the connection registry
func (app *Application) Registry() *websocket.Registry {
	return app.registry
}

// Publisher exposes the quote publisher
func (app *Application) Publisher() *publisher.Publisher {
	return app.publisher
}

// Catalog exposes the symbol catalog
func (app *Application) Catalog() *catalog.Manager {
	return app.catalog
}
