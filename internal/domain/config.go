package domain

import "time"

// BackoffConfig tunes the retry schedule for failing backends.
type BackoffConfig struct {
	BaseSeconds int
	MaxSeconds  int
	Factor      float64
	Jitter      float64
}

// RuntimeConfig holds gateway-wide settings read alongside the backend list.
type RuntimeConfig struct {
	RefreshIntervalSeconds int
	RetryTickMillis        int
	Backoff                BackoffConfig
	ApprovalTTLSeconds     int
	RefreshConcurrency     int
	ListenAddress          string
	MetricsEnabled         bool
	MetricsListenAddress   string
	ToolCachePath          string
	ValidateArguments      bool
	StreamBufferSize       int
}

func (c RuntimeConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

func (c RuntimeConfig) RetryTick() time.Duration {
	return time.Duration(c.RetryTickMillis) * time.Millisecond
}

// ApprovalTTL returns zero when approvals never expire.
func (c RuntimeConfig) ApprovalTTL() time.Duration {
	if c.ApprovalTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.ApprovalTTLSeconds) * time.Second
}

// DefaultRuntimeConfig returns the settings used when a file omits them.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		RefreshIntervalSeconds: DefaultRefreshIntervalSeconds,
		RetryTickMillis:        DefaultRetryTickMillis,
		Backoff: BackoffConfig{
			BaseSeconds: DefaultBackoffBaseSeconds,
			MaxSeconds:  DefaultBackoffMaxSeconds,
			Factor:      DefaultBackoffFactor,
			Jitter:      DefaultBackoffJitter,
		},
		ApprovalTTLSeconds:   DefaultApprovalTTLSeconds,
		RefreshConcurrency:   DefaultRefreshConcurrency,
		ListenAddress:        DefaultListenAddress,
		MetricsEnabled:       true,
		MetricsListenAddress: DefaultMetricsListenAddress,
		StreamBufferSize:     DefaultStreamBufferSize,
	}
}

// Config is one loaded configuration generation.
type Config struct {
	Path      string
	Backends  []BackendEntry
	Runtime   RuntimeConfig
	Defaulted bool
}

// EnabledBackends returns the enabled entries in declaration order.
func (c Config) EnabledBackends() []BackendEntry {
	out := make([]BackendEntry, 0, len(c.Backends))
	for _, entry := range c.Backends {
		if entry.Enabled {
			out = append(out, entry)
		}
	}
	return out
}
