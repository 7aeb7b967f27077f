package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// RemoteError is a JSON-RPC error object returned by the tool endpoint. The
// remote handler ran and rejected the call, so retrying cannot help.
type RemoteError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc remote error %d: %s", e.Code, e.Message)
}

// TransportError means the call never completed: connection failure, timeout,
// non-2xx status, or an undecodable response body. It wraps the last cause
// after all attempts were exhausted.
type TransportError struct {
	Method   string
	Attempts int
	Cause    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rpc transport error calling %s after %d attempt(s): %v", e.Method, e.Attempts, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

type request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RemoteError    `json:"error"`
}

// Client is a JSON-RPC 2.0 client with retrying transport semantics.
type Client struct {
	url       string
	http      *http.Client
	baseDelay time.Duration
	nextID    atomic.Int64

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// NewClient returns a Client posting to url. Each attempt is bounded by
// timeout; transport failures are retried with the base delay doubling
// between attempts.
func NewClient(url string, timeout, baseDelay time.Duration) *Client {
	return &Client{
		url:       url,
		http:      &http.Client{Timeout: timeout},
		baseDelay: baseDelay,
		sleep:     time.Sleep,
	}
}

// Call invokes method with params and returns the raw result. A remote error
// object comes back as *RemoteError without further attempts. Transport
// failures are retried up to maxAttempts times with exponential backoff; no
// sleep follows the final attempt, and a cancelled context stops further
// attempts. The exhausted failure is a *TransportError wrapping the last
// cause and the number of attempts actually made.
func (c *Client) Call(ctx context.Context, method string, params interface{}, maxAttempts int) (json.RawMessage, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	var lastErr error
	attempts := 0
	delay := c.baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, remoteErr, transportErr := c.attempt(ctx, body)
		attempts = attempt
		if remoteErr != nil {
			return nil, remoteErr
		}
		if transportErr == nil {
			return result, nil
		}
		lastErr = transportErr

		// A cancelled context ends the call without the backoff sleep.
		if ctx.Err() != nil {
			break
		}
		if attempt < maxAttempts {
			c.sleep(delay)
			delay *= 2
		}
	}

	return nil, &TransportError{Method: method, Attempts: attempts, Cause: lastErr}
}

func (c *Client) attempt(ctx context.Context, body []byte) (json.RawMessage, *RemoteError, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var rpcResp response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error, nil
	}
	return rpcResp.Result, nil, nil
}
