package config

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"mcphub/internal/domain"
)

func TestStore_ReloadReturnsDiff(t *testing.T) {
	file := writeTempConfig(t, "servers.yaml", `
servers:
  - name: a
    endpoint: http://a:8000/mcp
  - name: b
    endpoint: http://b:8000/mcp
`)
	store, err := NewStore(context.Background(), nil, file, nil)
	require.NoError(t, err)
	require.Len(t, store.Current().Backends, 2)

	require.NoError(t, os.WriteFile(file, []byte(`
servers:
  - name: a
    endpoint: http://a:8000/mcp
    timeout: 5
  - name: c
    endpoint: http://c:8000/mcp
`), 0o600))

	diff, err := store.Reload(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.BackendDiff{
		Added:   []string{"c"},
		Removed: []string{"b"},
		Changed: []string{"a"},
	}, diff)
	require.Equal(t, 5, store.Current().Backends[0].TimeoutSeconds)
}

func TestStore_FailedReloadKeepsPrevious(t *testing.T) {
	file := writeTempConfig(t, "servers.yaml", `
servers:
  - name: a
    endpoint: http://a:8000/mcp
`)
	store, err := NewStore(context.Background(), nil, file, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(file, []byte(`
servers:
  - name: a
    endpoint: http://a:8000/mcp
  - name: a
    endpoint: http://b:8000/mcp
`), 0o600))

	_, err = store.Reload(context.Background())
	require.ErrorIs(t, err, domain.ErrConfig)
	require.Len(t, store.Current().Backends, 1)
	require.Equal(t, "http://a:8000/mcp", store.Current().Backends[0].Endpoint)
}

func TestStore_RuntimeChangesNeedRestart(t *testing.T) {
	file := writeTempConfig(t, "servers.yaml", "refreshIntervalSeconds: 30\n")
	store, err := NewStore(context.Background(), nil, file, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(file, []byte("refreshIntervalSeconds: 90\n"), 0o600))
	diff, err := store.Reload(context.Background())
	require.NoError(t, err)
	require.True(t, diff.IsEmpty())
	require.Equal(t, 30, store.Runtime().RefreshIntervalSeconds)
}
