package telemetry

import (
	"time"

	"go.uber.org/zap"
)

const (
	FieldEvent      = "event"
	FieldBackend    = "backend"
	FieldTool       = "tool"
	FieldState      = "state"
	FieldDurationMs = "duration_ms"
	FieldRequestID  = "request_id"
	FieldCallID     = "call_id"
	FieldApprovalID = "approval_id"
	FieldFailures   = "consecutive_failures"
	FieldRetryAt    = "next_retry"
)

const (
	EventProbeSuccess     = "probe_success"
	EventProbeFailure     = "probe_failure"
	EventStateTransition  = "state_transition"
	EventDiscoverySuccess = "discovery_success"
	EventDiscoveryFailure = "discovery_failure"
	EventBackendRemoved   = "backend_removed"
	EventRefreshCycle     = "refresh_cycle"
	EventRouteError       = "route_error"
	EventApprovalPending  = "approval_pending"
	EventApprovalResolved = "approval_resolved"
	EventStreamClosed     = "stream_closed"
)

func EventField(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func BackendField(name string) zap.Field {
	return zap.String(FieldBackend, name)
}

func ToolField(name string) zap.Field {
	return zap.String(FieldTool, name)
}

func StateField(state string) zap.Field {
	return zap.String(FieldState, state)
}

func DurationField(duration time.Duration) zap.Field {
	return zap.Int64(FieldDurationMs, duration.Milliseconds())
}

func RequestIDField(value string) zap.Field {
	return zap.String(FieldRequestID, value)
}

func CallIDField(value string) zap.Field {
	return zap.String(FieldCallID, value)
}

func ApprovalIDField(value string) zap.Field {
	return zap.String(FieldApprovalID, value)
}

func FailuresField(count int) zap.Field {
	return zap.Int(FieldFailures, count)
}

func RetryAtField(at time.Time) zap.Field {
	return zap.Time(FieldRetryAt, at)
}
