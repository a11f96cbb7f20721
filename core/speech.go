package recognition

import (
	"time"

	"github.com/koscakluka/ema-speech/core/events"
	"github.com/koscakluka/ema-speech/core/properties"
)

// SpeechResult is the outcome of one recognized turn.
type SpeechResult struct {
	RequestID string
	// Status is Success when Text holds recognized speech.
	Status     events.RecognitionStatus
	Text       string
	Confidence float64
	Offset     time.Duration
	Duration   time.Duration
	// Hypotheses are the partial results in arrival order.
	Hypotheses []string
}

type SpeechRecognizer struct {
	*session[SpeechResult]
}

// NewSpeechRecognizer creates a recognizer reading its connection settings
// from props. No connection is made until recognition starts.
func NewSpeechRecognizer(props *properties.Collection, opts ...SessionOption) *SpeechRecognizer {
	return &SpeechRecognizer{session: newSession(props, false, adaptTurn[SpeechResult], opts...)}
}
