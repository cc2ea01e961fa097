package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"mcphub/internal/domain"
	"mcphub/internal/infra/mcpcodec"
	"mcphub/internal/infra/upstream"
)

type Kind string

const (
	KindInitialize Kind = "initialize"
	KindHealth     Kind = "health"
)

// Result describes a successful probe.
type Result struct {
	Kind     Kind
	Duration time.Duration
	// Tools holds result.tools from an initialize handshake, when present.
	Tools []json.RawMessage
}

// HTTPProbe checks backends through the shared client pool. Backends that are
// not yet healthy get the initialize handshake; healthy ones with a /mcp
// endpoint get the cheaper GET /health.
type HTTPProbe struct {
	Pool *upstream.Pool
}

func (p *HTTPProbe) Probe(ctx context.Context, entry domain.BackendEntry, healthy bool) (Result, error) {
	if p == nil || p.Pool == nil {
		return Result{}, fmt.Errorf("probe %s: client pool is nil", entry.Name)
	}
	client := p.Pool.Ensure(entry)
	start := time.Now()

	if healthy {
		if _, ok := client.HealthURL(); ok {
			if err := client.Health(ctx); err != nil {
				return Result{}, err
			}
			return Result{Kind: KindHealth, Duration: time.Since(start)}, nil
		}
	}

	body, err := client.Call(ctx, upstream.MethodInitialize, initializeParams())
	if err != nil {
		return Result{}, err
	}
	if err := mcpcodec.RPCError(body); err != nil {
		return Result{}, fmt.Errorf("initialize %s: %w", entry.Name, err)
	}
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Result{}, fmt.Errorf("initialize %s: decode response: %w", entry.Name, err)
	}
	return Result{
		Kind:     KindInitialize,
		Duration: time.Since(start),
		Tools:    mcpcodec.InitializeTools(body),
	}, nil
}

func initializeParams() map[string]any {
	return map[string]any{
		"clientInfo": map[string]string{
			"name":    domain.DefaultClientName,
			"version": domain.DefaultClientVersion,
		},
		"capabilities": map[string]any{},
	}
}
