package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"marketfeed/pkg/interfaces"
	"marketfeed/pkg/types"
)

// Registry is the read-only view of the connection registry the API reports on
type Registry interface {
	GetStats() map[string]int
	SubscriberCount(topic string) int
}

// QuoteStore serves health checks and the quote journal
type QuoteStore interface {
	QuoteHistory(ctx context.Context, symbol string, limit int) ([]*types.RecordedQuote, error)
	HealthCheck(ctx context.Context) error
}

// Authenticator checks a presented credential pair
type Authenticator interface {
	Authenticate(clientID, clientSecret string) bool
}

// Server is the HTTP surface: health, symbol catalog, quote history and the
// WebSocket upgrade. It holds no business logic.
type Server struct {
	catalog   interfaces.SymbolCatalog
	store     QuoteStore
	registry  Registry
	gate      Authenticator
	websocket http.HandlerFunc
	logger    *zap.Logger
	startedAt time.Time
	router    chi.Router
}

// NewServer builds the router. Symbol creation requires HTTP basic auth with
// the client credentials checked by gate; a nil gate rejects every attempt.
// ws may be nil when no upgrade endpoint is wanted.
func NewServer(catalog interfaces.SymbolCatalog, store QuoteStore, registry Registry, gate Authenticator, ws http.HandlerFunc, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		catalog:   catalog,
		store:     store,
		registry:  registry,
		gate:      gate,
		websocket: ws,
		logger:    logger,
		startedAt: time.Now(),
		router:    chi.NewRouter(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.requestLogger)
	s.router.Use(corsMiddleware)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(jsonMiddleware)

		r.Get("/health", s.healthCheck)
		r.Route("/api/symbols", func(r chi.Router) {
			r.Get("/", s.listSymbols)
			r.With(s.requireCredentials).Post("/", s.createSymbol)
			r.Get("/{symbol}/quotes", s.quoteHistory)
		})
	})

	if s.websocket != nil {
		s.router.Get("/ws", s.websocket)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type CreateSymbolRequest struct {
	Symbol string `json:"symbol"`
}

type CreateSymbolResponse struct {
	Symbol *types.Symbol `json:"symbol"`
}

type ListSymbolsResponse struct {
	Symbols []types.SymbolSummary `json:"symbols"`
}

type QuoteHistoryResponse struct {
	Symbol string                 `json:"symbol"`
	Quotes []*types.RecordedQuote `json:"quotes"`
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Connections map[string]int         `json:"connections"`
	System      map[string]interface{} `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// POST /api/symbols
func (s *Server) createSymbol(w http.ResponseWriter, r *http.Request) {
	var req CreateSymbolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Symbol == "" {
		s.sendError(w, "Symbol is required", http.StatusBadRequest)
		return
	}

	symbol, err := s.catalog.CreateSymbol(r.Context(), req.Symbol)
	if err != nil {
		if errors.Is(err, types.ErrInvalidSymbol) {
			s.sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("failed to create symbol", zap.String("symbol", req.Symbol), zap.Error(err))
		s.sendError(w, "Failed to create symbol", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	s.encode(w, CreateSymbolResponse{Symbol: symbol})
}

// GET /api/symbols
func (s *Server) listSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.catalog.ListSymbols(r.Context())
	if err != nil {
		s.logger.Error("failed to list symbols", zap.Error(err))
		s.sendError(w, "Failed to list symbols", http.StatusInternalServerError)
		return
	}

	summaries := make([]types.SymbolSummary, len(symbols))
	for i, symbol := range symbols {
		summaries[i] = types.SymbolSummary{
			Name:        symbol.Name,
			Subscribers: s.registry.SubscriberCount(symbol.Name),
		}
	}

	s.encode(w, ListSymbolsResponse{Symbols: summaries})
}

// GET /api/symbols/{symbol}/quotes?limit=N
func (s *Server) quoteHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "symbol")
	if _, ok := s.catalog.GetSymbol(name); !ok {
		s.sendError(w, "Symbol not found", http.StatusNotFound)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.sendError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	quotes, err := s.store.QuoteHistory(r.Context(), name, limit)
	if err != nil {
		s.logger.Error("failed to load quote history", zap.String("symbol", name), zap.Error(err))
		s.sendError(w, "Failed to load quote history", http.StatusInternalServerError)
		return
	}
	if quotes == nil {
		quotes = []*types.RecordedQuote{}
	}

	s.encode(w, QuoteHistoryResponse{Symbol: name, Quotes: quotes})
}

// GET /health
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = "error: " + err.Error()
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.registry.GetStats(),
		System: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		},
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	s.encode(w, response)
}

func (s *Server) encode(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	s.encode(w, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// requestLogger logs one line per request with zap
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// requireCredentials admits requests whose basic auth pair passes the gate
func (s *Server) requireCredentials(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID, clientSecret, ok := r.BasicAuth()
		if !ok || s.gate == nil || !s.gate.Authenticate(clientID, clientSecret) {
			s.logger.Warn("rejected unauthenticated request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr))
			w.Header().Set("WWW-Authenticate", `Basic realm="marketfeed"`)
			s.sendError(w, "Valid client credentials required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
