package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDiffBackends_Changes(t *testing.T) {
	prev := []BackendEntry{
		{Name: "alpha", Endpoint: "http://a/mcp", Enabled: true, TimeoutSeconds: 30},
		{Name: "beta", Endpoint: "http://b/mcp", Enabled: true, TimeoutSeconds: 30},
		{Name: "gamma", Endpoint: "http://g/mcp", Enabled: true, TimeoutSeconds: 30},
	}
	next := []BackendEntry{
		{Name: "alpha", Endpoint: "http://a/mcp", Enabled: true, TimeoutSeconds: 30},
		{Name: "beta", Endpoint: "http://b/mcp", Enabled: false, TimeoutSeconds: 30},
		{Name: "delta", Endpoint: "http://d/mcp", Enabled: true, TimeoutSeconds: 10},
	}

	diff := DiffBackends(prev, next)
	require.Equal(t, []string{"delta"}, diff.Added)
	require.Equal(t, []string{"gamma"}, diff.Removed)
	require.Equal(t, []string{"beta"}, diff.Changed)
	require.False(t, diff.IsEmpty())
}

func TestDiffBackends_Empty(t *testing.T) {
	entries := []BackendEntry{{Name: "alpha", Endpoint: "http://a/mcp", Enabled: true}}
	require.True(t, DiffBackends(entries, entries).IsEmpty())
	require.True(t, DiffBackends(nil, nil).IsEmpty())
}

func TestSplitQualifiedName(t *testing.T) {
	backend, tool, ok := SplitQualifiedName("local.search.v2")
	require.True(t, ok)
	require.Equal(t, "local", backend)
	require.Equal(t, "search.v2", tool)

	for _, name := range []string{"", "local", ".search", "local."} {
		_, _, ok := SplitQualifiedName(name)
		require.False(t, ok, name)
	}
}

func TestFailureName(t *testing.T) {
	require.Equal(t, "UnknownTool", FailureName(ErrUnknownTool))
	require.Equal(t, "BackendUnavailable", FailureName(E(CodeUnavailable, "dispatch", "", ErrBackendUnavailable)))
	require.Equal(t, "TransportError", FailureName(E(CodeUnavailable, "call", "", ErrTransport)))
	require.Equal(t, "UnknownApproval", FailureName(ErrUnknownApproval))
	require.Equal(t, "ConfigError", FailureName(ErrConfig))
}
