package events

import "time"

type Kind string

type Event interface {
	Kind() Kind
	Timestamp() time.Time
	// RequestID identifies the turn request the event belongs to. Events that
	// are not tied to a turn return an empty string.
	RequestID() string
}

type Base struct {
	kind      Kind
	timestamp time.Time
	requestID string
}

func NewBase(kind Kind, requestID string) Base {
	return Base{kind: kind, timestamp: time.Now(), requestID: requestID}
}

func (b Base) Kind() Kind {
	return b.kind
}

func (b Base) Timestamp() time.Time {
	return b.timestamp
}

func (b Base) RequestID() string {
	return b.requestID
}
