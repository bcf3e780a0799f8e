package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"marketfeed/internal/auth"
	"marketfeed/internal/websocket"
	"marketfeed/pkg/types"
)

type mockCatalog struct {
	mu      sync.Mutex
	symbols map[string]*types.Symbol
	failErr error
}

func newMockCatalog(names ...string) *mockCatalog {
	c := &mockCatalog{symbols: make(map[string]*types.Symbol)}
	for _, name := range names {
		c.symbols[name] = &types.Symbol{Name: name, CreatedAt: time.Unix(1700000000, 0).UTC()}
	}
	return c
}

func (c *mockCatalog) CreateSymbol(ctx context.Context, name string) (*types.Symbol, error) {
	if c.failErr != nil {
		return nil, c.failErr
	}
	if !types.IsValidSymbol(name) {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidSymbol, name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.symbols[name]; ok {
		return s, nil
	}
	s := &types.Symbol{Name: name, CreatedAt: time.Now().UTC()}
	c.symbols[name] = s
	return s, nil
}

func (c *mockCatalog) GetSymbol(name string) (*types.Symbol, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.symbols[name]
	return s, ok
}

func (c *mockCatalog) ListSymbols(ctx context.Context) ([]*types.Symbol, error) {
	if c.failErr != nil {
		return nil, c.failErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Symbol, 0, len(c.symbols))
	for _, s := range c.symbols {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type mockStore struct {
	history   []*types.RecordedQuote
	lastLimit int
	healthErr error
	err       error
}

func (s *mockStore) QuoteHistory(ctx context.Context, symbol string, limit int) ([]*types.RecordedQuote, error) {
	s.lastLimit = limit
	return s.history, s.err
}

func (s *mockStore) HealthCheck(ctx context.Context) error { return s.healthErr }

// stubConn satisfies interfaces.Connection for registry stats
type stubConn struct{ id string }

func (c *stubConn) ID() string                                    { return c.id }
func (c *stubConn) Send(payload []byte) error                     { return nil }
func (c *stubConn) WriteJSON(v interface{}) error                 { return nil }
func (c *stubConn) CloseWithReason(code int, reason string) error { return nil }
func (c *stubConn) Close() error                                  { return nil }
func (c *stubConn) IsClosed() bool                                { return false }
func (c *stubConn) IsAuthenticated() bool                         { return true }
func (c *stubConn) SetAuthenticated()                             {}

const (
	testClientID     = "abc"
	testClientSecret = "xyz"
)

func newTestGate(t *testing.T) *auth.Gate {
	t.Helper()
	gate, err := auth.NewGate(testClientID, testClientSecret)
	require.NoError(t, err)
	return gate
}

func newTestServer(t *testing.T, catalog *mockCatalog, store *mockStore) (*Server, *websocket.Registry) {
	t.Helper()
	registry := websocket.NewRegistry(nil)
	symbols, err := catalog.ListSymbols(context.Background())
	require.NoError(t, err)
	for _, s := range symbols {
		registry.CreateTopic(s.Name)
	}
	return NewServer(catalog, store, registry, newTestGate(t), nil, nil), registry
}

func do(t *testing.T, s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.SetBasicAuth(testClientID, testClientSecret)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestServer_HealthCheck(t *testing.T) {
	s, registry := newTestServer(t, newMockCatalog("ETH-PERPETUAL"), &mockStore{})
	require.NoError(t, registry.Register(&stubConn{id: "c1"}))
	require.NoError(t, registry.Subscribe("c1", "ETH-PERPETUAL"))

	w := do(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "healthy", resp.Database)
	assert.Equal(t, 1, resp.Connections["total_connections"])
	assert.Equal(t, 1, resp.Connections["topics"])
	assert.Equal(t, 1, resp.Connections["subscriptions"])
	assert.Contains(t, resp.System, "goroutines")
}

func TestServer_HealthCheckUnhealthy(t *testing.T) {
	s, _ := newTestServer(t, newMockCatalog(), &mockStore{healthErr: errors.New("disk gone")})

	w := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Contains(t, resp.Database, "disk gone")
}

func TestServer_ListSymbols(t *testing.T) {
	s, registry := newTestServer(t, newMockCatalog("ETH-PERPETUAL", "BTC-PERPETUAL"), &mockStore{})
	for _, id := range []string{"a", "b"} {
		require.NoError(t, registry.Register(&stubConn{id: id}))
		require.NoError(t, registry.Subscribe(id, "ETH-PERPETUAL"))
	}

	for _, path := range []string{"/api/symbols", "/api/symbols/"} {
		w := do(t, s, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code, path)

		var resp ListSymbolsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, []types.SymbolSummary{
			{Name: "BTC-PERPETUAL", Subscribers: 0},
			{Name: "ETH-PERPETUAL", Subscribers: 2},
		}, resp.Symbols)
	}
}

func TestServer_ListSymbolsFailure(t *testing.T) {
	catalog := newMockCatalog()
	s, _ := newTestServer(t, catalog, &mockStore{})
	catalog.failErr = errors.New("boom")

	w := do(t, s, http.MethodGet, "/api/symbols", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestServer_CreateSymbol(t *testing.T) {
	catalog := newMockCatalog()
	s, _ := newTestServer(t, catalog, &mockStore{})

	w := do(t, s, http.MethodPost, "/api/symbols", []byte(`{"symbol":"BTC-PERPETUAL"}`))
	require.Equal(t, http.StatusCreated, w.Code)

	var resp CreateSymbolResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "BTC-PERPETUAL", resp.Symbol.Name)

	_, ok := catalog.GetSymbol("BTC-PERPETUAL")
	assert.True(t, ok)
}

func TestServer_CreateSymbolRequiresCredentials(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*http.Request)
	}{
		{"no credentials", func(*http.Request) {}},
		{"wrong secret", func(r *http.Request) { r.SetBasicAuth(testClientID, "wrong") }},
		{"wrong id", func(r *http.Request) { r.SetBasicAuth("someone", testClientSecret) }},
		{"empty secret", func(r *http.Request) { r.SetBasicAuth(testClientID, "") }},
		{"bearer token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer xyz") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog := newMockCatalog()
			s, registry := newTestServer(t, catalog, &mockStore{})

			req := httptest.NewRequest(http.MethodPost, "/api/symbols", bytes.NewReader([]byte(`{"symbol":"BTC-PERPETUAL"}`)))
			req.Header.Set("Content-Type", "application/json")
			tt.setup(req)
			w := httptest.NewRecorder()
			s.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, `Basic realm="marketfeed"`, w.Header().Get("WWW-Authenticate"))

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, http.StatusUnauthorized, resp.Code)

			_, ok := catalog.GetSymbol("BTC-PERPETUAL")
			assert.False(t, ok, "rejected request creates nothing")
			assert.Empty(t, registry.Topics())
		})
	}
}

func TestServer_CreateSymbolWithoutGate(t *testing.T) {
	catalog := newMockCatalog()
	s := NewServer(catalog, &mockStore{}, websocket.NewRegistry(nil), nil, nil, nil)

	w := do(t, s, http.MethodPost, "/api/symbols", []byte(`{"symbol":"BTC-PERPETUAL"}`))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	_, ok := catalog.GetSymbol("BTC-PERPETUAL")
	assert.False(t, ok)
}

func TestServer_ReadsNeedNoCredentials(t *testing.T) {
	s, _ := newTestServer(t, newMockCatalog("ETH-PERPETUAL"), &mockStore{})

	for _, path := range []string{"/health", "/api/symbols", "/api/symbols/ETH-PERPETUAL/quotes"} {
		w := httptest.NewRecorder()
		s.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestServer_CreateSymbolErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		fail   error
		status int
	}{
		{"invalid json", `invalid json`, nil, http.StatusBadRequest},
		{"missing symbol", `{}`, nil, http.StatusBadRequest},
		{"invalid symbol", `{"symbol":"ETH PERP"}`, nil, http.StatusBadRequest},
		{"store failure", `{"symbol":"ETH-PERPETUAL"}`, errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			catalog := newMockCatalog()
			s, _ := newTestServer(t, catalog, &mockStore{})
			catalog.failErr = tt.fail

			w := do(t, s, http.MethodPost, "/api/symbols", []byte(tt.body))
			assert.Equal(t, tt.status, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.status, resp.Code)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestServer_QuoteHistory(t *testing.T) {
	store := &mockStore{history: []*types.RecordedQuote{
		{Quote: types.Quote{Symbol: "ETH-PERPETUAL", BestBid: 42, BestAsk: 77, Timestamp: 1700000001}},
		{Quote: types.Quote{Symbol: "ETH-PERPETUAL", BestBid: 41, BestAsk: 76, Timestamp: 1700000000}},
	}}
	s, _ := newTestServer(t, newMockCatalog("ETH-PERPETUAL"), store)

	w := do(t, s, http.MethodGet, "/api/symbols/ETH-PERPETUAL/quotes?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, store.lastLimit)

	var resp QuoteHistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ETH-PERPETUAL", resp.Symbol)
	require.Len(t, resp.Quotes, 2)
	assert.Equal(t, 42.0, resp.Quotes[0].BestBid)
	assert.Equal(t, int64(1700000001), resp.Quotes[0].Timestamp)
}

func TestServer_QuoteHistoryEmptyIsArray(t *testing.T) {
	s, _ := newTestServer(t, newMockCatalog("ETH-PERPETUAL"), &mockStore{})

	w := do(t, s, http.MethodGet, "/api/symbols/ETH-PERPETUAL/quotes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"symbol":"ETH-PERPETUAL","quotes":[]}`, w.Body.String())
}

func TestServer_QuoteHistoryErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		store  *mockStore
		status int
	}{
		{"unknown symbol", "/api/symbols/DOGE-PERPETUAL/quotes", &mockStore{}, http.StatusNotFound},
		{"bad limit", "/api/symbols/ETH-PERPETUAL/quotes?limit=abc", &mockStore{}, http.StatusBadRequest},
		{"negative limit", "/api/symbols/ETH-PERPETUAL/quotes?limit=-1", &mockStore{}, http.StatusBadRequest},
		{"store failure", "/api/symbols/ETH-PERPETUAL/quotes", &mockStore{err: errors.New("locked")}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, newMockCatalog("ETH-PERPETUAL"), tt.store)
			w := do(t, s, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, newMockCatalog(), &mockStore{})

	req := httptest.NewRequest(http.MethodOptions, "/api/symbols", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t, newMockCatalog(), &mockStore{})

	w := do(t, s, http.MethodDelete, "/api/symbols", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_WebSocketRoute(t *testing.T) {
	called := false
	ws := func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusSwitchingProtocols)
	}
	s := NewServer(newMockCatalog(), &mockStore{}, websocket.NewRegistry(nil), newTestGate(t), ws, nil)

	w := do(t, s, http.MethodGet, "/ws", nil)
	assert.True(t, called)
	assert.Equal(t, http.StatusSwitchingProtocols, w.Code)

	noWS := NewServer(newMockCatalog(), &mockStore{}, websocket.NewRegistry(nil), newTestGate(t), nil, nil)
	assert.Equal(t, http.StatusNotFound, do(t, noWS, http.MethodGet, "/ws", nil).Code)
}
