package events

import (
	"errors"
	"fmt"
)

var (
	ErrConnection          = errors.New("connection error")
	ErrAuth                = errors.New("authentication rejected")
	ErrProtocolViolation   = errors.New("protocol violation")
	ErrStreamClosed        = errors.New("stream closed")
	ErrOperationInProgress = errors.New("operation in progress")
	ErrNotImplemented      = errors.New("not implemented")
	ErrCanceled            = errors.New("canceled")
	ErrTimeout             = errors.New("timeout")
	ErrService             = errors.New("service error")
	ErrSubscriberFault     = errors.New("subscriber fault")
)

// ErrorCode classifies an Error event.
type ErrorCode string

const (
	CodeConnection          ErrorCode = "connection_error"
	CodeAuth                ErrorCode = "auth_error"
	CodeProtocolViolation   ErrorCode = "protocol_violation"
	CodeStreamClosed        ErrorCode = "stream_closed"
	CodeOperationInProgress ErrorCode = "operation_in_progress"
	CodeNotImplemented      ErrorCode = "not_implemented"
	CodeCanceled            ErrorCode = "canceled"
	CodeTimeout             ErrorCode = "timeout"
	CodeService             ErrorCode = "service_error"
	// CodeSubscriberFault reports a subscriber that panicked or stalled.
	CodeSubscriberFault ErrorCode = "subscriber_fault"
	CodeUnknown         ErrorCode = "unknown"
)

var codesBySentinel = []struct {
	err  error
	code ErrorCode
}{
	{ErrSubscriberFault, CodeSubscriberFault},
	{ErrAuth, CodeAuth},
	{ErrConnection, CodeConnection},
	{ErrProtocolViolation, CodeProtocolViolation},
	{ErrStreamClosed, CodeStreamClosed},
	{ErrOperationInProgress, CodeOperationInProgress},
	{ErrNotImplemented, CodeNotImplemented},
	{ErrTimeout, CodeTimeout},
	{ErrCanceled, CodeCanceled},
	{ErrService, CodeService},
}

// CodeOf maps err onto the taxonomy. Errors outside of it map to CodeUnknown.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	for _, candidate := range codesBySentinel {
		if errors.Is(err, candidate.err) {
			return candidate.code
		}
	}
	return CodeUnknown
}

// CancellationReason explains why a turn was canceled.
type CancellationReason string

const (
	ReasonRequested         CancellationReason = "requested"
	ReasonConnectionLost    CancellationReason = "connection_lost"
	ReasonProtocolViolation CancellationReason = "protocol_violation"
	ReasonTimeout           CancellationReason = "timeout"
	ReasonServiceError      CancellationReason = "service_error"
	ReasonShutdown          CancellationReason = "shutdown"
)

// CanceledError is the failure a canceled turn resolves with. It matches
// ErrCanceled.
type CanceledError struct {
	Reason  CancellationReason
	Message string
}

func (e *CanceledError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("turn canceled: %s", e.Reason)
	}
	return fmt.Sprintf("turn canceled: %s: %s", e.Reason, e.Message)
}

func (e *CanceledError) Is(target error) bool {
	return target == ErrCanceled
}

// IsCanceledWith reports whether err is a cancellation with the given reason.
func IsCanceledWith(err error, reason CancellationReason) bool {
	var canceled *CanceledError
	return errors.As(err, &canceled) && canceled.Reason == reason
}
