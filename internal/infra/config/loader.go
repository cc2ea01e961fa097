package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"mcphub/internal/domain"
)

const (
	EnvPrefix       = "MCPHUB"
	EnvConfigPath   = "MCPHUB_CONFIG"
	EnvLegacyConfig = "MCP_CONFIG_FILE"
	opLoadConfig    = "load config"
	opResolveConfig = "resolve config"
)

type Loader struct {
	logger *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{logger: logger.Named("config")}
}

func newRuntimeViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setRuntimeDefaults(v)
	return v
}

func setRuntimeDefaults(v *viper.Viper) {
	defaults := domain.DefaultRuntimeConfig()
	v.SetDefault("refreshIntervalSeconds", defaults.RefreshIntervalSeconds)
	v.SetDefault("retryTickMillis", defaults.RetryTickMillis)
	v.SetDefault("backoff.baseSeconds", defaults.Backoff.BaseSeconds)
	v.SetDefault("backoff.maxSeconds", defaults.Backoff.MaxSeconds)
	v.SetDefault("backoff.factor", defaults.Backoff.Factor)
	v.SetDefault("backoff.jitter", defaults.Backoff.Jitter)
	v.SetDefault("approvalTTLSeconds", defaults.ApprovalTTLSeconds)
	v.SetDefault("refreshConcurrency", defaults.RefreshConcurrency)
	v.SetDefault("listenAddress", defaults.ListenAddress)
	v.SetDefault("metricsEnabled", defaults.MetricsEnabled)
	v.SetDefault("metricsListenAddress", defaults.MetricsListenAddress)
	v.SetDefault("toolCachePath", defaults.ToolCachePath)
	v.SetDefault("validateArguments", defaults.ValidateArguments)
	v.SetDefault("streamBufferSize", defaults.StreamBufferSize)
}

type rawConfig struct {
	Servers          []rawBackend `mapstructure:"servers"`
	rawRuntimeConfig `mapstructure:",squash"`
}

type rawBackend struct {
	Name     string            `mapstructure:"name"`
	Endpoint string            `mapstructure:"endpoint"`
	Enabled  *bool             `mapstructure:"enabled"`
	Timeout  *int              `mapstructure:"timeout"`
	Headers  map[string]string `mapstructure:"headers"`
}

type rawBackoffConfig struct {
	BaseSeconds int     `mapstructure:"baseSeconds"`
	MaxSeconds  int     `mapstructure:"maxSeconds"`
	Factor      float64 `mapstructure:"factor"`
	Jitter      float64 `mapstructure:"jitter"`
}

type rawRuntimeConfig struct {
	RefreshIntervalSeconds int              `mapstructure:"refreshIntervalSeconds"`
	RetryTickMillis        int              `mapstructure:"retryTickMillis"`
	Backoff                rawBackoffConfig `mapstructure:"backoff"`
	ApprovalTTLSeconds     int              `mapstructure:"approvalTTLSeconds"`
	RefreshConcurrency     int              `mapstructure:"refreshConcurrency"`
	ListenAddress          string           `mapstructure:"listenAddress"`
	MetricsEnabled         bool             `mapstructure:"metricsEnabled"`
	MetricsListenAddress   string           `mapstructure:"metricsListenAddress"`
	ToolCachePath          string           `mapstructure:"toolCachePath"`
	ValidateArguments      bool             `mapstructure:"validateArguments"`
	StreamBufferSize       int              `mapstructure:"streamBufferSize"`
}

// ResolvePath picks the config file: explicit path, then environment, then the
// well-known locations. It returns "" when nothing applies.
func ResolvePath(explicit string) string {
	if path := strings.TrimSpace(explicit); path != "" {
		return path
	}
	for _, key := range []string{EnvConfigPath, EnvLegacyConfig} {
		if path := strings.TrimSpace(os.Getenv(key)); path != "" {
			return path
		}
	}
	for _, candidate := range domain.DefaultConfigPaths {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	return ""
}

// Load reads and validates the file at path. An empty path yields the default
// backend and runtime settings.
func (l *Loader) Load(ctx context.Context, path string) (domain.Config, error) {
	if path == "" {
		l.logger.Info("no config file found; using default backend",
			zap.String("backend", domain.DefaultBackendName),
			zap.String("endpoint", domain.DefaultBackendEndpoint),
		)
		return l.Parse(ctx, nil, "")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Config{}, domain.E(domain.CodeInvalidArgument, opResolveConfig, fmt.Sprintf("config file %s not found", path), domain.ErrConfig)
		}
		return domain.Config{}, domain.E(domain.CodeInvalidArgument, opLoadConfig, fmt.Sprintf("read config: %v", err), domain.ErrConfig)
	}
	return l.Parse(ctx, data, path)
}

// Parse decodes raw config bytes. path is recorded on the result and used in logs.
func (l *Loader) Parse(ctx context.Context, data []byte, path string) (domain.Config, error) {
	expanded := ""
	if len(bytes.TrimSpace(data)) > 0 {
		doc, missing, err := expandDocument(data)
		if err != nil {
			return domain.Config{}, configError(err.Error())
		}
		if len(missing) > 0 {
			l.logger.Warn("missing environment variables in config", zap.String("path", path), zap.Strings("missing", missing))
		}
		expanded = doc
	}

	v := newRuntimeViper()
	if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
		return domain.Config{}, configError(fmt.Sprintf("parse config: %v", err))
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return domain.Config{}, configError(fmt.Sprintf("decode config: %v", err))
	}

	if err := ctx.Err(); err != nil {
		return domain.Config{}, err
	}

	var validationErrors []string
	runtime, runtimeErrs := normalizeRuntimeConfig(raw.rawRuntimeConfig)
	validationErrors = append(validationErrors, runtimeErrs...)

	backends := make([]domain.BackendEntry, 0, len(raw.Servers))
	nameSeen := make(map[string]struct{}, len(raw.Servers))
	for i, server := range raw.Servers {
		entry := normalizeBackend(server)
		if _, exists := nameSeen[entry.Name]; exists {
			validationErrors = append(validationErrors, fmt.Sprintf("servers[%d]: duplicate name %q", i, entry.Name))
		} else if entry.Name != "" {
			nameSeen[entry.Name] = struct{}{}
		}
		if errs := validateBackend(entry, server, i); len(errs) > 0 {
			validationErrors = append(validationErrors, errs...)
			continue
		}
		backends = append(backends, entry)
	}

	if len(validationErrors) > 0 {
		return domain.Config{}, configError(strings.Join(validationErrors, "; "))
	}

	cfg := domain.Config{Path: path, Backends: backends, Runtime: runtime}
	if len(cfg.Backends) == 0 {
		cfg.Backends = []domain.BackendEntry{domain.DefaultBackend()}
		cfg.Defaulted = true
	}
	return cfg, nil
}

func configError(msg string) error {
	return domain.E(domain.CodeInvalidArgument, opLoadConfig, msg, domain.ErrConfig)
}

func normalizeBackend(raw rawBackend) domain.BackendEntry {
	entry := domain.BackendEntry{
		Name:           strings.TrimSpace(raw.Name),
		Endpoint:       strings.TrimSpace(raw.Endpoint),
		Enabled:        true,
		TimeoutSeconds: domain.DefaultBackendTimeoutSeconds,
		Headers:        normalizeHTTPHeaders(raw.Headers),
	}
	if raw.Enabled != nil {
		entry.Enabled = *raw.Enabled
	}
	if raw.Timeout != nil {
		entry.TimeoutSeconds = *raw.Timeout
	}
	return entry
}

func normalizeHTTPHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}

	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	normalized := make(map[string]string, len(headers))
	for _, key := range keys {
		trimmedKey := strings.TrimSpace(key)
		value := strings.TrimSpace(headers[key])
		if trimmedKey == "" {
			normalized[""] = value
			continue
		}
		normalized[http.CanonicalHeaderKey(trimmedKey)] = value
	}
	return normalized
}

func validateBackend(entry domain.BackendEntry, raw rawBackend, index int) []string {
	var errs []string

	if entry.Name == "" {
		errs = append(errs, fmt.Sprintf("servers[%d]: name is required", index))
	} else if strings.Contains(entry.Name, domain.ToolNameSeparator) {
		errs = append(errs, fmt.Sprintf("servers[%d]: name %q must not contain %q", index, entry.Name, domain.ToolNameSeparator))
	}

	if entry.Endpoint == "" {
		errs = append(errs, fmt.Sprintf("servers[%d]: endpoint is required", index))
	} else if !validEndpoint(entry.Endpoint) {
		errs = append(errs, fmt.Sprintf("servers[%d]: endpoint must be a valid http(s) URL", index))
	}

	if raw.Timeout != nil && *raw.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("servers[%d]: timeout must be > 0", index))
	}

	for name, value := range entry.Headers {
		if name == "" {
			errs = append(errs, fmt.Sprintf("servers[%d]: headers contains empty header name", index))
			continue
		}
		if isReservedHTTPHeader(name) {
			errs = append(errs, fmt.Sprintf("servers[%d]: headers.%s is reserved and managed by the client", index, name))
		}
		if value == "" {
			errs = append(errs, fmt.Sprintf("servers[%d]: headers.%s must not be empty", index, name))
		}
	}
	sort.Strings(errs)
	return errs
}

func validEndpoint(endpoint string) bool {
	if strings.Contains(endpoint, " ") {
		return false
	}
	parsed, err := url.ParseRequestURI(endpoint)
	if err != nil || parsed.Host == "" {
		return false
	}
	return parsed.Scheme == "http" || parsed.Scheme == "https"
}

func isReservedHTTPHeader(header string) bool {
	switch strings.ToLower(header) {
	case "content-type", "accept", "host", "content-length", "transfer-encoding", "connection":
		return true
	default:
		return false
	}
}

func normalizeRuntimeConfig(cfg rawRuntimeConfig) (domain.RuntimeConfig, []string) {
	var errs []string

	if cfg.RefreshIntervalSeconds <= 0 {
		errs = append(errs, "refreshIntervalSeconds must be > 0")
	}
	if cfg.RetryTickMillis <= 0 {
		errs = append(errs, "retryTickMillis must be > 0")
	}
	if cfg.Backoff.BaseSeconds <= 0 {
		errs = append(errs, "backoff.baseSeconds must be > 0")
	}
	if cfg.Backoff.MaxSeconds <= 0 {
		errs = append(errs, "backoff.maxSeconds must be > 0")
	}
	if cfg.Backoff.BaseSeconds > 0 && cfg.Backoff.MaxSeconds > 0 && cfg.Backoff.MaxSeconds < cfg.Backoff.BaseSeconds {
		errs = append(errs, "backoff.maxSeconds must be >= backoff.baseSeconds")
	}
	if cfg.Backoff.Factor < 1 {
		errs = append(errs, "backoff.factor must be >= 1")
	}
	if cfg.Backoff.Jitter < 0 || cfg.Backoff.Jitter > 1 {
		errs = append(errs, "backoff.jitter must be between 0 and 1")
	}
	if cfg.ApprovalTTLSeconds < 0 {
		errs = append(errs, "approvalTTLSeconds must be >= 0")
	}
	if cfg.RefreshConcurrency <= 0 {
		errs = append(errs, "refreshConcurrency must be > 0")
	}
	if cfg.StreamBufferSize <= 0 {
		errs = append(errs, "streamBufferSize must be > 0")
	}

	listen := strings.TrimSpace(cfg.ListenAddress)
	if listen == "" {
		errs = append(errs, "listenAddress is required")
	}
	metricsListen := strings.TrimSpace(cfg.MetricsListenAddress)
	if cfg.MetricsEnabled && metricsListen == "" {
		errs = append(errs, "metricsListenAddress is required when metricsEnabled is true")
	}

	return domain.RuntimeConfig{
		RefreshIntervalSeconds: cfg.RefreshIntervalSeconds,
		RetryTickMillis:        cfg.RetryTickMillis,
		Backoff: domain.BackoffConfig{
			BaseSeconds: cfg.Backoff.BaseSeconds,
			MaxSeconds:  cfg.Backoff.MaxSeconds,
			Factor:      cfg.Backoff.Factor,
			Jitter:      cfg.Backoff.Jitter,
		},
		ApprovalTTLSeconds:   cfg.ApprovalTTLSeconds,
		RefreshConcurrency:   cfg.RefreshConcurrency,
		ListenAddress:        listen,
		MetricsEnabled:       cfg.MetricsEnabled,
		MetricsListenAddress: metricsListen,
		ToolCachePath:        strings.TrimSpace(cfg.ToolCachePath),
		ValidateArguments:    cfg.ValidateArguments,
		StreamBufferSize:     cfg.StreamBufferSize,
	}, errs
}
