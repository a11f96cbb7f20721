package recognition

import (
	"fmt"
	"time"

	"github.com/jinzhu/copier"
	"github.com/koscakluka/ema-speech/core/events"
)

// turnSummary flattens a finished turn into the fields results are built
// from.
type turnSummary struct {
	RequestID          string
	Status             events.RecognitionStatus
	Text               string
	Confidence         float64
	Offset             time.Duration
	Duration           time.Duration
	Hypotheses         []string
	Translations       map[string]string
	TranslationFailure string
}

func summarize(turn *Turn) turnSummary {
	summary := turnSummary{RequestID: turn.ID, Status: events.StatusNoMatch}
	for _, hypothesis := range turn.Hypotheses {
		summary.Hypotheses = append(summary.Hypotheses, hypothesis.Text)
	}
	if phrase := turn.Phrase; phrase != nil {
		summary.Status = phrase.Status
		summary.Text = phrase.Text
		summary.Confidence = phrase.Confidence
		summary.Offset = phrase.Offset
		summary.Duration = phrase.Duration
		summary.Translations = phrase.Translations
		summary.TranslationFailure = phrase.TranslationFailure
	}
	return summary
}

// adaptTurn copies the summary of turn into a result of type R by field
// name. Maps and slices are copied so results never alias turn state.
func adaptTurn[R any](turn *Turn) (R, error) {
	var result R
	if err := copier.CopyWithOption(&result, summarize(turn), copier.Option{DeepCopy: true}); err != nil {
		return result, fmt.Errorf("failed to build result of turn %s: %w", turn.ID, err)
	}
	return result, nil
}
