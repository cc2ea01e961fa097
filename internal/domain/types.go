package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// BackendEntry is one configured tool-serving backend.
type BackendEntry struct {
	Name           string            `json:"name"`
	Endpoint       string            `json:"endpoint"`
	Enabled        bool              `json:"enabled"`
	TimeoutSeconds int               `json:"timeout"`
	Headers        map[string]string `json:"headers,omitempty"`
}

// Timeout returns the per-request timeout for the backend.
func (e BackendEntry) Timeout() time.Duration {
	if e.TimeoutSeconds <= 0 {
		return time.Duration(DefaultBackendTimeoutSeconds) * time.Second
	}
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// HealthState is the monitor's view of a backend.
type HealthState string

const (
	HealthUnknown    HealthState = "unknown"
	HealthHealthy    HealthState = "healthy"
	HealthUnhealthy  HealthState = "unhealthy"
	HealthBackingOff HealthState = "backing_off"
)

// BackendHealth is owned by the monitor and mutated only by probe outcomes.
type BackendHealth struct {
	Name                string        `json:"name"`
	State               HealthState   `json:"state"`
	LastProbeTime       time.Time     `json:"lastProbeTime,omitempty"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	NextRetryTime       time.Time     `json:"nextRetryTime,omitempty"`
	BackoffDelay        time.Duration `json:"backoffDelay,omitempty"`
	LastError           string        `json:"lastError,omitempty"`
}

// Healthy reports whether calls may be dispatched to the backend.
func (h BackendHealth) Healthy() bool {
	return h.State == HealthHealthy
}

// ToolDescriptor is a namespaced tool discovered from a backend.
type ToolDescriptor struct {
	QualifiedName string          `json:"qualifiedName"`
	BackendName   string          `json:"backendName"`
	ToolName      string          `json:"toolName"`
	Description   string          `json:"description,omitempty"`
	Parameters    json.RawMessage `json:"parameters,omitempty"`
	Schema        json.RawMessage `json:"schema"`
}

// ToolSnapshot is an immutable view of the aggregated catalog.
type ToolSnapshot struct {
	ETag  string           `json:"etag"`
	Tools []ToolDescriptor `json:"tools"`
}

// CallRequest is a single inbound tool invocation.
type CallRequest struct {
	ID                string         `json:"id"`
	QualifiedToolName string         `json:"qualifiedToolName"`
	Arguments         map[string]any `json:"arguments"`
}

// ApprovalRequest resolves a pending call.
type ApprovalRequest struct {
	Tool       string         `json:"tool"`
	Arguments  map[string]any `json:"arguments"`
	ApprovalID string         `json:"approval_id"`
}

// PendingApproval tracks a call awaiting external confirmation.
type PendingApproval struct {
	ApprovalID   string      `json:"approvalId"`
	BackendName  string      `json:"backendName"`
	OriginalCall CallRequest `json:"originalCall"`
	CreatedAt    time.Time   `json:"createdAt"`
	ExpiresAt    *time.Time  `json:"expiresAt,omitempty"`
}

// Expired reports whether the approval is past its expiry at now.
func (p PendingApproval) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && !now.Before(*p.ExpiresAt)
}

// QualifiedName joins a backend and a tool name.
func QualifiedName(backend, tool string) string {
	return backend + ToolNameSeparator + tool
}

// SplitQualifiedName splits on the first separator.
func SplitQualifiedName(name string) (backend, tool string, ok bool) {
	backend, tool, ok = strings.Cut(name, ToolNameSeparator)
	if !ok || backend == "" || tool == "" {
		return "", "", false
	}
	return backend, tool, true
}

var ErrConfig = errors.New("invalid configuration")
var ErrBackendUnavailable = errors.New("backend unavailable")
var ErrUnknownTool = errors.New("unknown tool")
var ErrTransport = errors.New("transport error")
var ErrUnknownApproval = errors.New("unknown approval")
var ErrInvalidArguments = errors.New("invalid arguments")
var ErrInvalidRequest = errors.New("invalid request")
var ErrApprovalInUse = errors.New("approval id in use")
