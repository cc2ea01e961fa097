package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
	"go.uber.org/zap"

	"mcphub/internal/domain"
)

const (
	MethodInitialize = "initialize"
	MethodToolsList  = "tools/list"
	MethodToolsCall  = "tools/call"
	MethodApprove    = "tools/approve"
	methodHealth     = "health"

	acceptJSON   = "application/json"
	acceptStream = "text/event-stream, application/x-ndjson, application/json"

	maxResponseBytes = 32 << 20
)

// Client talks JSON-RPC over HTTP POST to one backend. Each client owns a
// pooled transport so closing it releases that backend's connections only.
type Client struct {
	logger    *zap.Logger
	entry     domain.BackendEntry
	http      *http.Client
	transport *http.Transport
	builder   requestBuilder
}

type Option func(*Client)

// WithHTTPClient replaces the pooled client, mainly for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
			c.transport = nil
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger.Named("upstream").With(zap.String("backend", c.entry.Name))
		}
	}
}

func NewClient(entry domain.BackendEntry, opts ...Option) *Client {
	transport := cleanhttp.DefaultPooledTransport()
	transport.ResponseHeaderTimeout = entry.Timeout()
	c := &Client{
		logger:    zap.NewNop(),
		entry:     entry,
		http:      &http.Client{Transport: transport},
		transport: transport,
		builder:   requestBuilder{prefix: domain.DefaultClientName},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Entry() domain.BackendEntry {
	return c.entry
}

// Call posts a JSON-RPC request and returns the raw response body. The
// backend timeout bounds the whole exchange.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.entry.Timeout())
	defer cancel()

	resp, err := c.post(ctx, method, params, acceptJSON)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.transportError(method, fmt.Errorf("read response: %w", err))
	}
	return body, nil
}

// OpenStream posts a JSON-RPC request and hands back the open body. The
// caller's context governs the lifetime of the exchange.
func (c *Client) OpenStream(ctx context.Context, method string, params any) (io.ReadCloser, error) {
	resp, err := c.post(ctx, method, params, acceptStream)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) post(ctx context.Context, method string, params any, accept string) (*http.Response, error) {
	payload, err := c.builder.Build(method, params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.entry.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, c.transportError(method, err)
	}
	c.applyHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(method, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, c.transportError(method, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status})
	}
	return resp, nil
}

// HealthURL derives the health endpoint by replacing the last "/mcp" segment
// of the endpoint. ok is false when the endpoint has no such segment.
func (c *Client) HealthURL() (string, bool) {
	idx := strings.LastIndex(c.entry.Endpoint, "/mcp")
	if idx < 0 {
		return "", false
	}
	return c.entry.Endpoint[:idx] + "/health", true
}

// Health performs GET <base>/health and requires a 200 response.
func (c *Client) Health(ctx context.Context) error {
	url, ok := c.HealthURL()
	if !ok {
		return c.transportError(methodHealth, fmt.Errorf("endpoint %s has no health route", c.entry.Endpoint))
	}
	ctx, cancel := context.WithTimeout(ctx, c.entry.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return c.transportError(methodHealth, err)
	}
	c.applyHeaders(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(methodHealth, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return c.transportError(methodHealth, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status})
	}
	return nil
}

// Close drops idle pooled connections. In-flight requests are unaffected.
func (c *Client) Close() {
	if c.transport != nil {
		c.transport.CloseIdleConnections()
		return
	}
	c.http.CloseIdleConnections()
}

func (c *Client) applyHeaders(req *http.Request) {
	for name, value := range c.entry.Headers {
		req.Header.Set(name, value)
	}
}

func (c *Client) transportError(method string, err error) error {
	c.logger.Debug("upstream request failed", zap.String("method", method), zap.Error(err))
	return &TransportError{Backend: c.entry.Name, Method: method, Err: err}
}
