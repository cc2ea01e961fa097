package domain

const (
	ToolNameSeparator             = "."
	DefaultBackendName            = "local"
	DefaultBackendEndpoint        = "http://localhost:8000/mcp"
	DefaultBackendTimeoutSeconds  = 30
	DefaultRefreshIntervalSeconds = 300
	DefaultRetryTickMillis        = 1000
	DefaultBackoffBaseSeconds     = 1
	DefaultBackoffMaxSeconds      = 60
	DefaultBackoffFactor          = 2.0
	DefaultBackoffJitter          = 0.2
	DefaultApprovalTTLSeconds     = 0
	DefaultRefreshConcurrency     = 8
	DefaultStreamBufferSize       = 16
	DefaultListenAddress          = "0.0.0.0:9000"
	DefaultMetricsListenAddress   = "0.0.0.0:9090"
	DefaultClientName             = "mcphub"
	DefaultClientVersion          = "1.0.0"
)

// DefaultConfigPaths are searched in order when no config path is given.
var DefaultConfigPaths = []string{
	"mcp_servers.yaml",
	"mcp_servers.json",
	"config/mcp_servers.yaml",
	"config/mcp_servers.json",
}

// DefaultBackend is installed when no usable configuration is found.
func DefaultBackend() BackendEntry {
	return BackendEntry{
		Name:           DefaultBackendName,
		Endpoint:       DefaultBackendEndpoint,
		Enabled:        true,
		TimeoutSeconds: DefaultBackendTimeoutSeconds,
	}
}
