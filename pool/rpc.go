// Package pool talks JSON-RPC 2.0 to a mining pool: it polls work into the mining state
// and submits verified shares.
package pool

import (
	"bytes"
	"context"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Request is one JSON-RPC call inside a batch
type Request struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
	ID      interface{}   `json:"id"`
}

// RPCError is the error member of a JSON-RPC response
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return "rpc error " + strconv.Itoa(e.Code) + ": " + e.Message
}

// Response is one JSON-RPC result inside a batch
type Response struct {
	ID     jsoniter.RawMessage `json:"id"`
	Result jsoniter.RawMessage `json:"result"`
	Error  *RPCError           `json:"error"`
}

func absent(raw jsoniter.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || string(raw) == "null"
}

// StringID returns the id when it is a JSON string
func (r Response) StringID() (string, bool) {
	var s string
	if absent(r.ID) || json.Unmarshal(r.ID, &s) != nil {
		return "", false
	}
	return s, true
}

// StringResult decodes a string result
func (r Response) StringResult() (string, bool) {
	var s string
	if absent(r.Result) || json.Unmarshal(r.Result, &s) != nil {
		return "", false
	}
	return s, true
}

// BoolResult decodes a boolean result
func (r Response) BoolResult() (bool, bool) {
	var b bool
	if absent(r.Result) || json.Unmarshal(r.Result, &b) != nil {
		return false, false
	}
	return b, true
}

// Uint64Result decodes a number, or a decimal or 0x-prefixed hex string. Numbers written
// as floats are accepted when they hold a whole value.
func (r Response) Uint64Result() (uint64, bool) {
	if absent(r.Result) {
		return 0, false
	}
	if raw := string(bytes.TrimSpace(r.Result)); raw[0] != '"' {
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			return n, true
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f < 0 || f >= math.MaxUint64 || f != math.Trunc(f) {
			return 0, false
		}
		return uint64(f), true
	}

	s, ok := r.StringResult()
	if !ok {
		return 0, false
	}
	if len(s) > 2 && (s[:2] == "0x" || s[:2] == "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		return v, err == nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	return v, err == nil
}

// NewRequest builds a JSON-RPC 2.0 request
func NewRequest(method string, id interface{}, params ...interface{}) Request {
	return Request{JSONRPC: "2.0", Method: method, Params: params, ID: id}
}

// Client posts JSON-RPC batches to one pool URL
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a pool client with a request timeout
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

// HTTPClient exposes the underlying client
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// URL returns the pool endpoint
func (c *Client) URL() string {
	return c.url
}

// Batch sends requests as one JSON-RPC batch and returns the responses and round-trip time
func (c *Client) Batch(ctx context.Context, reqs []Request) ([]Response, time.Duration, error) {
	body, err := json.Marshal(reqs)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, errors.Wrap(err, "pool request failed")
	}
	defer resp.Body.Close()
	rtt := time.Since(start)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, rtt, errors.Wrap(err, "failed to read pool response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, rtt, errors.Errorf("pool returned HTTP %d", resp.StatusCode)
	}

	var out []Response
	if err := json.Unmarshal(raw, &out); err != nil {
		// some pools answer a batch with a single object
		var single Response
		if err2 := json.Unmarshal(raw, &single); err2 != nil {
			return nil, rtt, errors.Wrap(err, "failed to decode pool response")
		}
		out = []Response{single}
	}
	return out, rtt, nil
}
