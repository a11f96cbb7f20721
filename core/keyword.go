package recognition

import (
	"context"
	"fmt"

	"github.com/koscakluka/ema-speech/core/events"
)

// KeywordModel is an opaque keyword spotting model.
type KeywordModel struct {
	Path string
}

// StartKeywordRecognition is not supported. It fails without touching the
// network, whatever the model.
func (s *session[R]) StartKeywordRecognition(_ context.Context, _ *KeywordModel) error {
	return fmt.Errorf("failed to start keyword recognition: %w", events.ErrNotImplemented)
}

func (s *session[R]) StopKeywordRecognition(context.Context) error {
	return fmt.Errorf("failed to stop keyword recognition: %w", events.ErrNotImplemented)
}
