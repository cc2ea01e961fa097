package router

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/stretchr/testify/require"

	"mcphub/internal/domain"
	"mcphub/internal/infra/aggregator"
	"mcphub/internal/infra/approval"
	"mcphub/internal/infra/monitor"
	"mcphub/internal/infra/probe"
	"mcphub/internal/infra/upstream"
)

type staticConfig struct {
	mu  sync.Mutex
	cfg domain.Config
}

func (s *staticConfig) Current() domain.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *staticConfig) Reload(context.Context) (domain.BackendDiff, error) {
	return domain.BackendDiff{}, nil
}

func (s *staticConfig) set(backends ...domain.BackendEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Backends = backends
}

// flakyBackend serves initialize and tools/call until down is set, then
// answers everything with 503.
type flakyBackend struct {
	down      atomic.Bool
	toolCalls atomic.Int32
}

func (b *flakyBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.down.Load() {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if r.Method == http.MethodGet {
		w.WriteHeader(http.StatusOK)
		return
	}
	raw, _ := io.ReadAll(r.Body)
	msg, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	switch msg.(*jsonrpc.Request).Method {
	case upstream.MethodInitialize:
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"tools":[{"name":"search","parameters":{"type":"object"}}]}}`))
	case upstream.MethodToolsCall:
		b.toolCalls.Add(1)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"hits":3}}`))
	default:
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"unknown method"}}`))
	}
}

func TestCallSync_DownBackendKeepsToolsAndReportsUnavailable(t *testing.T) {
	backend := &flakyBackend{}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	entry := domain.BackendEntry{Name: "local", Endpoint: srv.URL + "/mcp", Enabled: true, TimeoutSeconds: 2}
	cfg := &staticConfig{cfg: domain.Config{Backends: []domain.BackendEntry{entry}, Runtime: domain.DefaultRuntimeConfig()}}

	pool := upstream.NewPool(nil)
	t.Cleanup(pool.CloseAll)
	catalog := aggregator.NewCatalog(pool, nil)
	health := monitor.New(cfg, pool, &probe.HTTPProbe{Pool: pool}, catalog)
	dispatcher := NewDispatcher(catalog, health, pool, approval.NewRegistry(0), Options{})
	call := domain.CallRequest{QualifiedToolName: "local.search"}

	health.Refresh(context.Background())
	require.True(t, health.IsHealthy("local"))
	require.Len(t, catalog.Snapshot().Tools, 1)
	res := dispatcher.CallSync(context.Background(), call)
	require.Equal(t, domain.ResultSuccess, res.Kind)
	require.Equal(t, int32(1), backend.toolCalls.Load())

	backend.down.Store(true)
	health.Refresh(context.Background())
	state, ok := health.Health("local")
	require.True(t, ok)
	require.Equal(t, domain.HealthBackingOff, state.State)
	require.Len(t, catalog.Snapshot().Tools, 1)

	res = dispatcher.CallSync(context.Background(), call)
	require.Equal(t, "BackendUnavailable", res.Error)
	require.Equal(t, int32(1), backend.toolCalls.Load())

	cfg.set()
	health.Refresh(context.Background())
	require.Empty(t, catalog.Snapshot().Tools)
	res = dispatcher.CallSync(context.Background(), call)
	require.Equal(t, "UnknownTool", res.Error)
}
