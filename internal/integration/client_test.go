package integration

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"marketfeed/pkg/types"
)

// testClient is a WebSocket client that collects every inbound text frame
type testClient struct {
	conn   *websocket.Conn
	frames chan []byte
	done   chan struct{}

	mu       sync.Mutex
	closeErr *websocket.CloseError
}

func connectClient(t *testing.T, addr string) *testClient {
	t.Helper()

	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	require.NoError(t, err)

	tc := &testClient{
		conn:   conn,
		frames: make(chan []byte, 256),
		done:   make(chan struct{}),
	}
	go tc.readLoop()
	t.Cleanup(func() { _ = tc.conn.Close() })
	return tc
}

func (tc *testClient) readLoop() {
	defer close(tc.done)
	for {
		_, data, err := tc.conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				tc.mu.Lock()
				tc.closeErr = ce
				tc.mu.Unlock()
			}
			return
		}
		select {
		case tc.frames <- data:
		default:
			// slow test reader; drop like the server would
		}
	}
}

func (tc *testClient) send(t *testing.T, msg types.ControlMessage) {
	t.Helper()
	require.NoError(t, tc.conn.WriteJSON(msg))
}

func (tc *testClient) authenticate(t *testing.T, id, secret string) {
	t.Helper()
	tc.send(t, types.ControlMessage{Action: types.ActionAuthenticate, ClientID: id, ClientSecret: secret})
}

func (tc *testClient) subscribe(t *testing.T, symbol string) {
	t.Helper()
	tc.send(t, types.ControlMessage{Action: types.ActionSubscribe, Symbol: symbol})
}

func (tc *testClient) unsubscribe(t *testing.T, symbol string) {
	t.Helper()
	tc.send(t, types.ControlMessage{Action: types.ActionUnsubscribe, Symbol: symbol})
}

// next returns the next frame or fails after timeout
func (tc *testClient) next(t *testing.T, timeout time.Duration) []byte {
	t.Helper()
	select {
	case data := <-tc.frames:
		return data
	case <-time.After(timeout):
		t.Fatalf("no frame within %v", timeout)
		return nil
	}
}

func (tc *testClient) expectStatus(t *testing.T) types.StatusResponse {
	t.Helper()
	var resp types.StatusResponse
	require.NoError(t, json.Unmarshal(tc.next(t, 2*time.Second), &resp))
	return resp
}

// nextQuote skips status frames until a quote arrives
func (tc *testClient) nextQuote(t *testing.T, timeout time.Duration) types.Quote {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("no quote within %v", timeout)
		}
		data := tc.next(t, remaining)
		var fields map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &fields))
		if _, ok := fields["symbol"]; !ok {
			continue
		}
		var q types.Quote
		require.NoError(t, json.Unmarshal(data, &q))
		return q
	}
}

// expectSilence fails if any frame arrives within d
func (tc *testClient) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case data := <-tc.frames:
		t.Fatalf("unexpected frame: %s", data)
	case <-time.After(d):
	}
}

// drain discards buffered frames
func (tc *testClient) drain() {
	for {
		select {
		case <-tc.frames:
		default:
			return
		}
	}
}

// waitClosed waits for the server to close the connection and returns the close frame
func (tc *testClient) waitClosed(t *testing.T, timeout time.Duration) *websocket.CloseError {
	t.Helper()
	select {
	case <-tc.done:
	case <-time.After(timeout):
		t.Fatalf("connection not closed within %v", timeout)
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.closeErr
}
