package domain

import (
	"encoding/json"
	"errors"
)

// ResultKind tags a call outcome.
type ResultKind string

const (
	ResultSuccess ResultKind = "success"
	ResultFailure ResultKind = "failure"
	ResultPending ResultKind = "pending"
	ResultOpaque  ResultKind = "opaque"
)

// PendingStatus is the status value backends use for deferred calls.
const PendingStatus = "pending"

// Result is the outcome of a dispatched call.
type Result struct {
	Kind       ResultKind
	Value      json.RawMessage
	Error      string
	Detail     string
	ApprovalID string
	Data       json.RawMessage
	Raw        string
	Cause      error
}

// Success wraps a backend value.
func Success(value json.RawMessage) Result {
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	return Result{Kind: ResultSuccess, Value: value}
}

// Failure reports a gateway-side failure using the taxonomy name.
func Failure(err error) Result {
	res := Result{Kind: ResultFailure, Error: FailureName(err), Cause: err}
	if err != nil {
		res.Detail = err.Error()
	}
	return res
}

// BackendFailure reports an error message returned by a backend.
func BackendFailure(message string) Result {
	return Result{Kind: ResultFailure, Error: message}
}

// Pending reports a deferred call awaiting approval.
func Pending(approvalID string, data json.RawMessage) Result {
	return Result{Kind: ResultPending, ApprovalID: approvalID, Data: data}
}

// Opaque carries non-JSON tool output untouched.
func Opaque(raw string) Result {
	return Result{Kind: ResultOpaque, Raw: raw}
}

// Is reports whether the result failed because of target.
func (r Result) Is(target error) bool {
	return r.Cause != nil && errors.Is(r.Cause, target)
}

// WireResult is the JSON shape returned to callers.
type WireResult struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Detail  string          `json:"detail,omitempty"`
	Status  string          `json:"status,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Format  string          `json:"format,omitempty"`
}

// Wire renders the result in its external form.
func (r Result) Wire() WireResult {
	switch r.Kind {
	case ResultSuccess:
		value := r.Value
		if len(value) == 0 {
			value = json.RawMessage("null")
		}
		return WireResult{Success: true, Result: value}
	case ResultPending:
		data := r.Data
		if len(data) == 0 {
			data, _ = json.Marshal(map[string]string{
				"status":      PendingStatus,
				"approval_id": r.ApprovalID,
			})
		}
		return WireResult{Success: false, Status: PendingStatus, Data: data}
	case ResultOpaque:
		text, _ := json.Marshal(r.Raw)
		return WireResult{Success: true, Result: text, Format: "text"}
	default:
		return WireResult{Success: false, Error: r.Error, Detail: r.Detail}
	}
}

// MarshalJSON encodes the wire form.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Wire())
}

// EventKind tags a streamed unit.
type EventKind string

const (
	EventResult  EventKind = "result"
	EventError   EventKind = "error"
	EventPending EventKind = "pending"
	EventText    EventKind = "text"
)

// Event is one unit forwarded by the streaming relay.
type Event struct {
	Kind   EventKind
	Result Result
	Text   string
}

// Structured reports whether the event carries a JSON result rather than raw text.
func (e Event) Structured() bool {
	return e.Kind != EventText
}

// Data returns the frame payload: the wire JSON for structured events, the raw line otherwise.
func (e Event) Data() []byte {
	if !e.Structured() {
		return []byte(e.Text)
	}
	raw, err := json.Marshal(e.Result.Wire())
	if err != nil {
		return []byte(`{"success":false,"error":"encode event"}`)
	}
	return raw
}

// EventFromResult tags a classified result for streaming.
func EventFromResult(res Result) Event {
	switch res.Kind {
	case ResultFailure:
		return Event{Kind: EventError, Result: res}
	case ResultPending:
		return Event{Kind: EventPending, Result: res}
	case ResultOpaque:
		return Event{Kind: EventText, Text: res.Raw}
	default:
		return Event{Kind: EventResult, Result: res}
	}
}
