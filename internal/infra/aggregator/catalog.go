package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"mcphub/internal/domain"
	"mcphub/internal/infra/mcpcodec"
	"mcphub/internal/infra/telemetry"
	"mcphub/internal/infra/upstream"
)

// Caller sends a JSON-RPC request to a connected backend.
type Caller interface {
	Call(ctx context.Context, backend, method string, params any) (json.RawMessage, error)
}

// ToolCache persists the last discovered tool list per backend.
type ToolCache interface {
	Load(backend string) ([]domain.ToolDescriptor, bool, error)
	Save(backend string, tools []domain.ToolDescriptor) error
	Delete(backend string) error
}

// Catalog is the merged, namespaced view of every backend's tools. Writers
// replace one backend's list at a time; readers see immutable snapshots.
type Catalog struct {
	caller  Caller
	cache   ToolCache
	logger  *zap.Logger
	metrics domain.Metrics

	mu       sync.Mutex
	order    []string
	backends map[string][]domain.ToolDescriptor
	state    atomic.Value
}

type catalogState struct {
	snapshot domain.ToolSnapshot
	index    map[string]domain.ToolDescriptor
	counts   map[string]int
}

type Option func(*Catalog)

func WithToolCache(cache ToolCache) Option {
	return func(c *Catalog) {
		c.cache = cache
	}
}

func WithMetrics(metrics domain.Metrics) Option {
	return func(c *Catalog) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

func NewCatalog(caller Caller, logger *zap.Logger, opts ...Option) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{
		caller:   caller,
		logger:   logger.Named("catalog"),
		metrics:  telemetry.NewNoopMetrics(),
		backends: make(map[string][]domain.ToolDescriptor),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.Store(catalogState{
		snapshot: domain.ToolSnapshot{ETag: mcpcodec.HashTools(nil), Tools: []domain.ToolDescriptor{}},
		index:    map[string]domain.ToolDescriptor{},
		counts:   map[string]int{},
	})
	return c
}

// Discover fetches and installs entry's tools. Tools already returned by the
// initialize handshake are used as-is; otherwise tools/list is called. On
// failure the previous list stays in place, or the persisted list is
// restored when nothing is in memory yet.
//
// current, when non-nil, is checked under the catalog lock right before the
// list is installed and persisted. A false result discards the list, so a
// backend removed while discovery was running leaves nothing behind.
func (c *Catalog) Discover(ctx context.Context, entry domain.BackendEntry, initTools []json.RawMessage, current func() bool) (int, error) {
	items := initTools
	if len(items) == 0 {
		var err error
		items, err = c.listTools(ctx, entry)
		if err != nil {
			c.restoreFromCache(entry.Name, current)
			c.logger.Warn("tool discovery failed",
				telemetry.EventField(telemetry.EventDiscoveryFailure),
				telemetry.BackendField(entry.Name),
				zap.Error(err),
			)
			return 0, err
		}
	}

	tools := c.decodeTools(entry.Name, items)
	if !c.install(entry.Name, tools, current) {
		c.logger.Debug("discarding tools of replaced backend", telemetry.BackendField(entry.Name))
		return 0, nil
	}
	c.logger.Info("tools discovered",
		telemetry.EventField(telemetry.EventDiscoverySuccess),
		telemetry.BackendField(entry.Name),
		zap.Int("tools", len(tools)),
		zap.Bool("fromInitialize", len(initTools) > 0),
	)
	return len(tools), nil
}

// install replaces and persists backend's list while holding the lock that
// Remove and Forget take, so a concurrent Forget either runs after the save
// or makes current report false.
func (c *Catalog) install(backend string, tools []domain.ToolDescriptor, current func() bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current != nil && !current() {
		return false
	}
	c.replaceLocked(backend, tools)
	if c.cache != nil {
		if err := c.cache.Save(backend, tools); err != nil {
			c.logger.Warn("tool cache save failed", telemetry.BackendField(backend), zap.Error(err))
		}
	}
	return true
}

func (c *Catalog) listTools(ctx context.Context, entry domain.BackendEntry) ([]json.RawMessage, error) {
	if c.caller == nil {
		return nil, errors.New("catalog has no backend caller")
	}
	body, err := c.caller.Call(ctx, entry.Name, upstream.MethodToolsList, map[string]any{})
	if err != nil {
		return nil, err
	}
	items, err := mcpcodec.ToolListItems(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", entry.Name, err)
	}
	return items, nil
}

func (c *Catalog) decodeTools(backend string, items []json.RawMessage) []domain.ToolDescriptor {
	tools := make([]domain.ToolDescriptor, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		spec, err := mcpcodec.DecodeTool(item)
		if err != nil {
			c.logger.Warn("skipping tool", telemetry.BackendField(backend), zap.Int("index", i), zap.Error(err))
			continue
		}
		if _, dup := seen[spec.Name]; dup {
			c.logger.Warn("duplicate tool name", telemetry.BackendField(backend), telemetry.ToolField(spec.Name))
			continue
		}
		desc, err := mcpcodec.Descriptor(backend, spec)
		if err != nil {
			c.logger.Warn("skipping tool", telemetry.BackendField(backend), telemetry.ToolField(spec.Name), zap.Error(err))
			continue
		}
		seen[spec.Name] = struct{}{}
		tools = append(tools, desc)
	}
	return tools
}

func (c *Catalog) restoreFromCache(backend string, current func() bool) {
	if c.cache == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, present := c.backends[backend]; present {
		return
	}
	if current != nil && !current() {
		return
	}
	tools, ok, err := c.cache.Load(backend)
	if err != nil {
		c.logger.Warn("tool cache load failed", telemetry.BackendField(backend), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	c.logger.Info("restored tools from cache", telemetry.BackendField(backend), zap.Int("tools", len(tools)))
	c.replaceLocked(backend, tools)
}

// Replace swaps backend's tool list in one step.
func (c *Catalog) Replace(backend string, tools []domain.ToolDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replaceLocked(backend, tools)
}

func (c *Catalog) replaceLocked(backend string, tools []domain.ToolDescriptor) {
	if _, ok := c.backends[backend]; !ok {
		c.order = append(c.order, backend)
	}
	c.backends[backend] = append([]domain.ToolDescriptor(nil), tools...)
	c.rebuildLocked()
	c.metrics.SetCatalogTools(backend, len(tools))
}

// Remove drops backend's tools. Removing an unknown backend is a no-op.
func (c *Catalog) Remove(backend string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.backends[backend]; !ok {
		return
	}
	delete(c.backends, backend)
	for i, name := range c.order {
		if name == backend {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	c.rebuildLocked()
	c.metrics.SetCatalogTools(backend, 0)
}

// Forget removes backend and its persisted list.
func (c *Catalog) Forget(backend string) {
	c.Remove(backend)
	if c.cache != nil {
		if err := c.cache.Delete(backend); err != nil {
			c.logger.Warn("tool cache delete failed", telemetry.BackendField(backend), zap.Error(err))
		}
	}
}

func (c *Catalog) rebuildLocked() {
	merged := make([]domain.ToolDescriptor, 0)
	index := make(map[string]domain.ToolDescriptor)
	counts := make(map[string]int, len(c.order))
	for _, backend := range c.order {
		tools := c.backends[backend]
		counts[backend] = len(tools)
		for _, tool := range tools {
			if _, exists := index[tool.QualifiedName]; exists {
				continue
			}
			index[tool.QualifiedName] = tool
			merged = append(merged, tool)
		}
	}
	c.state.Store(catalogState{
		snapshot: domain.ToolSnapshot{ETag: mcpcodec.HashTools(merged), Tools: merged},
		index:    index,
		counts:   counts,
	})
}

// Snapshot returns the merged catalog. The returned slice must not be modified.
func (c *Catalog) Snapshot() domain.ToolSnapshot {
	return c.state.Load().(catalogState).snapshot
}

func (c *Catalog) Resolve(qualified string) (domain.ToolDescriptor, bool) {
	tool, ok := c.state.Load().(catalogState).index[qualified]
	return tool, ok
}

// Backends lists backends that currently contribute an entry, in insertion order.
func (c *Catalog) Backends() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// ToolCount returns how many tools backend contributes.
func (c *Catalog) ToolCount(backend string) int {
	return c.state.Load().(catalogState).counts[backend]
}
