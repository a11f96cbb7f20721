package events

const (
	KindError    Kind = "error"
	KindCanceled Kind = "canceled"
)

// Error reports a contained fault. It never terminates the session by itself.
type Error struct {
	Base
	Code    ErrorCode
	Message string
	Err     error
}

func NewError(requestID string, err error) Error {
	message := ""
	if err != nil {
		message = err.Error()
	}
	return Error{Base: NewBase(KindError, requestID), Code: CodeOf(err), Message: message, Err: err}
}

// Canceled reports that a turn was canceled.
type Canceled struct {
	Base
	Reason  CancellationReason
	Message string
}

func NewCanceled(requestID string, reason CancellationReason, message string) Canceled {
	return Canceled{Base: NewBase(KindCanceled, requestID), Reason: reason, Message: message}
}

// AsError returns the failure a pending result resolves with.
func (c Canceled) AsError() error {
	return &CanceledError{Reason: c.Reason, Message: c.Message}
}
