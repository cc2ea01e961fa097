package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"mcphub/internal/domain"
)

// Pool keeps one client per configured backend.
type Pool struct {
	logger  *zap.Logger
	opts    []Option
	mu      sync.RWMutex
	clients map[string]*Client
}

func NewPool(logger *zap.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		logger:  logger,
		opts:    opts,
		clients: make(map[string]*Client),
	}
}

// Get returns the client for name, if one is connected.
func (p *Pool) Get(name string) (*Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	client, ok := p.clients[name]
	return client, ok
}

// Ensure returns the client for entry, creating it or replacing one built
// from an older entry.
func (p *Pool) Ensure(entry domain.BackendEntry) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if client, ok := p.clients[entry.Name]; ok {
		if sameEntry(client.entry, entry) {
			return client
		}
		client.Close()
	}
	opts := append([]Option{WithLogger(p.logger)}, p.opts...)
	client := NewClient(entry, opts...)
	p.clients[entry.Name] = client
	return client
}

// Remove closes and forgets the client for name.
func (p *Pool) Remove(name string) {
	p.mu.Lock()
	client, ok := p.clients[name]
	delete(p.clients, name)
	p.mu.Unlock()
	if ok {
		client.Close()
	}
}

func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.clients))
	for name := range p.clients {
		names = append(names, name)
	}
	return names
}

func (p *Pool) CloseAll() {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[string]*Client)
	p.mu.Unlock()
	for _, client := range clients {
		client.Close()
	}
}

func sameEntry(a, b domain.BackendEntry) bool {
	if a.Name != b.Name || a.Endpoint != b.Endpoint || a.Enabled != b.Enabled || a.TimeoutSeconds != b.TimeoutSeconds {
		return false
	}
	if len(a.Headers) != len(b.Headers) {
		return false
	}
	for key, value := range a.Headers {
		if b.Headers[key] != value {
			return false
		}
	}
	return true
}

// Call sends method to the named backend's connected client.
func (p *Pool) Call(ctx context.Context, backend, method string, params any) (json.RawMessage, error) {
	client, ok := p.Get(backend)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not connected", domain.ErrBackendUnavailable, backend)
	}
	return client.Call(ctx, method, params)
}

// OpenStream opens a streaming call on the named backend's connected client.
func (p *Pool) OpenStream(ctx context.Context, backend, method string, params any) (io.ReadCloser, error) {
	client, ok := p.Get(backend)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not connected", domain.ErrBackendUnavailable, backend)
	}
	return client.OpenStream(ctx, method, params)
}
