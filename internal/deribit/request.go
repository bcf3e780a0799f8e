package deribit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	UsIn    int64           `json:"usIn"`
	UsOut   int64           `json:"usOut"`
}

// retryable is implemented by errors that may succeed on a later attempt
type retryable interface {
	IsRetryable() bool
}

// doRequest POSTs one JSON-RPC call to {base}/api/v2/{method}.
func (c *Client) doRequest(ctx context.Context, method string, params interface{}, private bool) (json.RawMessage, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/"+method, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if private {
		req.Header.Set("Authorization", "Bearer "+c.accessToken())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// Deribit reports RPC failures with a 4xx status and an error object
	var envelope rpcResponse
	decodeErr := json.Unmarshal(body, &envelope)
	if decodeErr == nil && envelope.Error != nil {
		return nil, envelope.Error
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	if decodeErr != nil {
		return nil, fmt.Errorf("unmarshal response: %w", decodeErr)
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return nil, ErrEmptyResult
	}

	return envelope.Result, nil
}

// doWithRetry performs a call with jittered exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, method string, params interface{}, private bool) (json.RawMessage, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)+1))
			c.logger.Debug("retrying request",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", jitter),
				zap.String("method", method))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		result, err := c.doRequest(ctx, method, params, private)
		if err == nil {
			return result, nil
		}

		lastErr = err

		var r retryable
		if !errors.As(err, &r) || !r.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// call performs a method with retries, logs its latency and decodes the result.
func (c *Client) call(ctx context.Context, method string, params interface{}, private bool, result interface{}) error {
	if private && c.accessToken() == "" {
		return ErrNotAuthenticated
	}

	start := time.Now()
	raw, err := c.doWithRetry(ctx, method, params, private)
	latency := time.Since(start)

	if err != nil {
		c.logger.Warn("request failed",
			zap.String("method", method),
			zap.Duration("latency", latency),
			zap.Error(err))
		return err
	}

	c.logger.Debug("request completed",
		zap.String("method", method),
		zap.Duration("latency", latency))

	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("unmarshal %s result: %w", method, err)
	}
	return nil
}
