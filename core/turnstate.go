package recognition

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/koscakluka/ema-speech/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type TurnState int

const (
	StateIdle TurnState = iota
	StateAwaitingSpeech
	StateDetecting
	StateHypothesizing
	StateFinalizing
	StateCanceled
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingSpeech:
		return "awaiting_speech"
	case StateDetecting:
		return "detecting"
	case StateHypothesizing:
		return "hypothesizing"
	case StateFinalizing:
		return "finalizing"
	case StateCanceled:
		return "canceled"
	}
	return "unknown"
}

// TurnStatus is the lifecycle of a turn as seen by callers.
type TurnStatus string

const (
	TurnNotStarted      TurnStatus = "not_started"
	TurnSpeechDetecting TurnStatus = "speech_detecting"
	TurnHypothesizing   TurnStatus = "hypothesizing"
	TurnFinalized       TurnStatus = "finalized"
	TurnCanceled        TurnStatus = "canceled"
)

type Hypothesis struct {
	Text         string
	Offset       time.Duration
	Duration     time.Duration
	Translations map[string]string
}

// Turn is one recognition request from turn start to turn end or
// cancellation.
type Turn struct {
	ID         string
	Status     TurnStatus
	ServiceTag string

	Hypotheses []Hypothesis
	// Phrase is the final result. It stays nil when the turn ended without
	// one.
	Phrase *events.Phrase

	SpeechStart time.Duration
	SpeechEnd   time.Duration

	CancelReason  events.CancellationReason
	CancelMessage string

	StartedAt time.Time
	EndedAt   time.Time
}

// Err is the failure a canceled turn resolves with, nil otherwise.
func (t *Turn) Err() error {
	if t == nil || t.Status != TurnCanceled {
		return nil
	}
	return &events.CanceledError{Reason: t.CancelReason, Message: t.CancelMessage}
}

// TurnStateMachine validates the order of turn events. It is owned by a
// single goroutine and is not safe for concurrent use.
type TurnStateMachine struct {
	state TurnState
	turn  *Turn

	// canceledID is the last canceled request. Its late events are absorbed
	// instead of being treated as violations of the next turn.
	canceledID string
}

func NewTurnStateMachine() *TurnStateMachine {
	return &TurnStateMachine{}
}

func (m *TurnStateMachine) State() TurnState { return m.state }

// Active returns the turn in progress, if any.
func (m *TurnStateMachine) Active() *Turn {
	if m.state == StateIdle || m.state == StateCanceled {
		return nil
	}
	return m.turn
}

// Reset leaves the canceled state so the next turn can start.
func (m *TurnStateMachine) Reset() {
	if m.state == StateCanceled {
		m.state = StateIdle
		m.turn = nil
	}
}

// Apply advances the machine by ev. It returns the events to publish in
// order, and the turn if ev closed one.
func (m *TurnStateMachine) Apply(ev events.Event) ([]events.Event, *Turn) {
	if m.canceledID != "" && strings.EqualFold(ev.RequestID(), m.canceledID) && ev.Kind() != events.KindError {
		logger.Debug("dropping event of canceled turn", "kind", ev.Kind(), "request_id", ev.RequestID())
		return nil, nil
	}

	switch ev := ev.(type) {
	case events.TranslationSynthesis, events.Error:
		return []events.Event{ev}, nil

	case events.Canceled:
		turn := m.Active()
		if turn == nil {
			turn = &Turn{ID: ev.RequestID(), StartedAt: ev.Timestamp()}
		} else if !sameRequest(turn.ID, ev.RequestID()) {
			return m.violation(ev)
		}
		return []events.Event{ev}, m.closeCanceled(turn, ev.Reason, ev.Message)

	case events.TurnStart:
		if m.state == StateCanceled {
			m.Reset()
		}
		if m.inTurn(ev) && ev.RequestID() != "" {
			return m.restart(ev), nil
		}
		if m.state != StateIdle {
			return m.violation(ev)
		}
		m.turn = &Turn{
			ID:         ev.RequestID(),
			Status:     TurnNotStarted,
			ServiceTag: ev.ServiceTag,
			StartedAt:  ev.Timestamp(),
		}
		m.state = StateAwaitingSpeech
		return []events.Event{ev}, nil
	}

	if !m.inTurn(ev) {
		return m.violation(ev)
	}

	switch ev := ev.(type) {
	case events.SpeechStartDetected:
		if m.state != StateAwaitingSpeech && m.state != StateDetecting {
			return m.violation(ev)
		}
		m.turn.Status = TurnSpeechDetecting
		m.turn.SpeechStart = ev.Offset
		m.state = StateDetecting

	case events.Hypothesis:
		if m.state != StateDetecting && m.state != StateHypothesizing {
			return m.violation(ev)
		}
		m.turn.Hypotheses = append(m.turn.Hypotheses, Hypothesis{
			Text:         ev.Text,
			Offset:       ev.Offset,
			Duration:     ev.Duration,
			Translations: ev.Translations,
		})
		m.turn.Status = TurnHypothesizing
		m.state = StateHypothesizing

	case events.SpeechEndDetected:
		if m.state != StateDetecting && m.state != StateHypothesizing && m.state != StateFinalizing {
			return m.violation(ev)
		}
		m.turn.SpeechEnd = ev.Offset

	case events.Phrase:
		switch {
		case m.state == StateDetecting, m.state == StateHypothesizing:
		case m.state == StateAwaitingSpeech && ev.Status.IsNoMatch():
		default:
			return m.violation(ev)
		}
		phrase := ev
		m.turn.Phrase = &phrase
		m.turn.Status = TurnFinalized
		m.state = StateFinalizing

	case events.TurnEnd:
		if m.state != StateDetecting && m.state != StateHypothesizing && m.state != StateFinalizing {
			return m.violation(ev)
		}
		closed := m.turn
		closed.Status = TurnFinalized
		closed.EndedAt = ev.Timestamp()
		m.turn = nil
		m.state = StateIdle
		countTurn(closed)
		return []events.Event{ev}, closed

	default:
		return []events.Event{ev}, nil
	}

	return []events.Event{ev}, nil
}

// Cancel cancels requestID. A request the service never started a turn for
// is closed as well, so its waiter can be released.
func (m *TurnStateMachine) Cancel(requestID string, reason events.CancellationReason, message string) ([]events.Event, *Turn) {
	turn := m.Active()
	switch {
	case turn != nil:
		requestID = turn.ID
	case requestID == "":
		return nil, nil
	case m.canceledID != "" && strings.EqualFold(requestID, m.canceledID):
		return nil, nil
	default:
		turn = &Turn{ID: requestID, StartedAt: time.Now()}
	}

	closed := m.closeCanceled(turn, reason, message)
	return []events.Event{events.NewCanceled(requestID, reason, message)}, closed
}

// restart rewinds the active turn after the service started it again, as it
// does on a new connection. What the turn gathered so far is kept and the
// repeated turn start is not published.
func (m *TurnStateMachine) restart(ev events.TurnStart) []events.Event {
	logger.Info("turn restarted by service", "request_id", m.turn.ID, "state", m.state)
	if ev.ServiceTag != "" {
		m.turn.ServiceTag = ev.ServiceTag
	}
	m.turn.Status = TurnNotStarted
	m.state = StateAwaitingSpeech
	return nil
}

func (m *TurnStateMachine) inTurn(ev events.Event) bool {
	turn := m.Active()
	return turn != nil && sameRequest(turn.ID, ev.RequestID())
}

func (m *TurnStateMachine) closeCanceled(turn *Turn, reason events.CancellationReason, message string) *Turn {
	turn.Status = TurnCanceled
	turn.CancelReason = reason
	turn.CancelMessage = message
	turn.EndedAt = time.Now()

	m.turn = turn
	m.state = StateCanceled
	m.canceledID = turn.ID
	countTurn(turn)
	return turn
}

func (m *TurnStateMachine) violation(ev events.Event) ([]events.Event, *Turn) {
	err := fmt.Errorf("%w: unexpected %s in state %s", events.ErrProtocolViolation, ev.Kind(), m.state)
	logger.Warn("protocol violation", "error", err, "request_id", ev.RequestID())

	turn := m.Active()
	if turn == nil {
		return []events.Event{events.NewError(ev.RequestID(), err)}, nil
	}

	closed := m.closeCanceled(turn, events.ReasonProtocolViolation, err.Error())
	return []events.Event{
		events.NewError(turn.ID, err),
		events.NewCanceled(turn.ID, events.ReasonProtocolViolation, err.Error()),
	}, closed
}

// Request ids are compared case-insensitively, the service does not
// preserve their case.
func sameRequest(a, b string) bool {
	return b == "" || strings.EqualFold(a, b)
}

func countTurn(turn *Turn) {
	turnCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("turn.state", string(turn.Status))))
}
