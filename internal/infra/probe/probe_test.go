package probe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"mcphub/internal/domain"
	"mcphub/internal/infra/upstream"
)

type fakeBackend struct {
	initCalls   atomic.Int32
	healthCalls atomic.Int32
	initBody    string
	initStatus  int
	health      int
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/health":
		f.healthCalls.Add(1)
		w.WriteHeader(f.health)
	case r.Method == http.MethodPost:
		f.initCalls.Add(1)
		var req struct {
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Method != "initialize" {
			http.Error(w, "unexpected method", http.StatusBadRequest)
			return
		}
		if f.initStatus != 0 {
			w.WriteHeader(f.initStatus)
			return
		}
		_, _ = w.Write([]byte(f.initBody))
	default:
		http.NotFound(w, r)
	}
}

func newProbe(t *testing.T, backend *fakeBackend, path string) (*HTTPProbe, domain.BackendEntry) {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)
	pool := upstream.NewPool(nil)
	t.Cleanup(pool.CloseAll)
	return &HTTPProbe{Pool: pool}, domain.BackendEntry{Name: "svc", Endpoint: srv.URL + path, Enabled: true, TimeoutSeconds: 2}
}

func TestHTTPProbe_InitializeWhenNotHealthy(t *testing.T) {
	backend := &fakeBackend{
		initBody: `{"jsonrpc":"2.0","id":"1","result":{"serverInfo":{"name":"svc"},"tools":[{"name":"echo","parameters":{}}]}}`,
		health:   http.StatusOK,
	}
	p, entry := newProbe(t, backend, "/mcp")

	res, err := p.Probe(context.Background(), entry, false)
	require.NoError(t, err)
	require.Equal(t, KindInitialize, res.Kind)
	require.Len(t, res.Tools, 1)
	require.EqualValues(t, 1, backend.initCalls.Load())
	require.EqualValues(t, 0, backend.healthCalls.Load())
}

func TestHTTPProbe_HealthWhenHealthy(t *testing.T) {
	backend := &fakeBackend{initBody: `{"result":{}}`, health: http.StatusOK}
	p, entry := newProbe(t, backend, "/mcp")

	res, err := p.Probe(context.Background(), entry, true)
	require.NoError(t, err)
	require.Equal(t, KindHealth, res.Kind)
	require.EqualValues(t, 0, backend.initCalls.Load())
	require.EqualValues(t, 1, backend.healthCalls.Load())
}

func TestHTTPProbe_HealthyWithoutMCPPathUsesInitialize(t *testing.T) {
	backend := &fakeBackend{initBody: `{"result":{}}`, health: http.StatusOK}
	p, entry := newProbe(t, backend, "/rpc")

	res, err := p.Probe(context.Background(), entry, true)
	require.NoError(t, err)
	require.Equal(t, KindInitialize, res.Kind)
	require.Empty(t, res.Tools)
}

func TestHTTPProbe_Failures(t *testing.T) {
	tests := []struct {
		name    string
		backend *fakeBackend
		healthy bool
	}{
		{name: "rpc error", backend: &fakeBackend{initBody: `{"error":{"code":-1,"message":"not ready"}}`}},
		{name: "non-2xx", backend: &fakeBackend{initStatus: http.StatusInternalServerError}},
		{name: "not json", backend: &fakeBackend{initBody: `<html>`}},
		{name: "health non-200", backend: &fakeBackend{health: http.StatusServiceUnavailable}, healthy: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, entry := newProbe(t, tt.backend, "/mcp")
			_, err := p.Probe(context.Background(), entry, tt.healthy)
			require.Error(t, err)
		})
	}
}

func TestHTTPProbe_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL + "/mcp"
	srv.Close()

	p := &HTTPProbe{Pool: upstream.NewPool(nil)}
	_, err := p.Probe(context.Background(), domain.BackendEntry{Name: "gone", Endpoint: endpoint, TimeoutSeconds: 1}, false)
	require.ErrorIs(t, err, domain.ErrTransport)
}
