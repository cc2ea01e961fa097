package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeUnavailable      ErrorCode = "UNAVAILABLE"
	CodeFailedPrecond    ErrorCode = "FAILED_PRECONDITION"
	CodeInternal         ErrorCode = "INTERNAL"
	CodeCanceled         ErrorCode = "CANCELED"
	CodeDeadlineExceeded ErrorCode = "DEADLINE_EXCEEDED"
)

type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: msg,
		Cause:   cause,
	}
}

func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Code != "" {
		return domainErr.Code, true
	}
	switch {
	case errors.Is(err, ErrConfig), errors.Is(err, ErrInvalidArguments), errors.Is(err, ErrInvalidRequest):
		return CodeInvalidArgument, true
	case errors.Is(err, ErrUnknownTool), errors.Is(err, ErrUnknownApproval):
		return CodeNotFound, true
	case errors.Is(err, ErrBackendUnavailable), errors.Is(err, ErrTransport):
		return CodeUnavailable, true
	case errors.Is(err, ErrApprovalInUse):
		return CodeFailedPrecond, true
	default:
		return "", false
	}
}

// FailureName maps an error to the name surfaced to callers.
func FailureName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfig):
		return "ConfigError"
	case errors.Is(err, ErrUnknownTool):
		return "UnknownTool"
	case errors.Is(err, ErrBackendUnavailable):
		return "BackendUnavailable"
	case errors.Is(err, ErrTransport):
		return "TransportError"
	case errors.Is(err, ErrUnknownApproval):
		return "UnknownApproval"
	case errors.Is(err, ErrInvalidArguments):
		return "InvalidArguments"
	case errors.Is(err, ErrInvalidRequest):
		return "InvalidRequest"
	default:
		return "InternalError"
	}
}
