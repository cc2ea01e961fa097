package domain

import "time"

// CallStatus labels the outcome of a dispatched call.
type CallStatus string

const (
	CallStatusSuccess CallStatus = "success"
	CallStatusFailure CallStatus = "failure"
	CallStatusPending CallStatus = "pending"
	CallStatusOpaque  CallStatus = "opaque"
)

// CallMode distinguishes sync, stream and approval dispatch.
type CallMode string

const (
	CallModeSync    CallMode = "sync"
	CallModeStream  CallMode = "stream"
	CallModeApprove CallMode = "approve"
)

// CallMetric captures metrics for a dispatched call.
type CallMetric struct {
	Backend  string
	Mode     CallMode
	Status   CallStatus
	Reason   string
	Duration time.Duration
}

// ProbeOutcome labels a probe attempt.
type ProbeOutcome string

const (
	ProbeOutcomeSuccess ProbeOutcome = "success"
	ProbeOutcomeFailure ProbeOutcome = "failure"
)

// Metrics records operational metrics for the gateway core.
type Metrics interface {
	ObserveCall(metric CallMetric)
	ObserveProbe(backend string, outcome ProbeOutcome, duration time.Duration)
	SetBackendState(backend string, state HealthState)
	DeleteBackend(backend string)
	SetCatalogTools(backend string, count int)
	SetPendingApprovals(count int)
	ObserveRefresh(shared bool, duration time.Duration)
	ObserveStreamEvent(backend string, kind EventKind)
}

// CallStatusOf maps a result kind to a metric status.
func CallStatusOf(kind ResultKind) CallStatus {
	switch kind {
	case ResultSuccess:
		return CallStatusSuccess
	case ResultPending:
		return CallStatusPending
	case ResultOpaque:
		return CallStatusOpaque
	default:
		return CallStatusFailure
	}
}
