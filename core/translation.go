package recognition

import (
	"strings"
	"time"

	"github.com/koscakluka/ema-speech/core/events"
	"github.com/koscakluka/ema-speech/core/properties"
)

type TranslationResult struct {
	RequestID  string
	Status     events.RecognitionStatus
	Text       string
	Confidence float64
	Offset     time.Duration
	Duration   time.Duration
	Hypotheses []string
	// Translations maps target languages to translated text.
	Translations map[string]string
	// TranslationFailure is set when recognition succeeded but translation
	// did not.
	TranslationFailure string
}

// TranslationRecognizer recognizes speech and translates it into the target
// languages of its properties. Synthesized speech of the translation is only
// requested while something subscribes to it.
type TranslationRecognizer struct {
	*session[TranslationResult]
}

func NewTranslationRecognizer(props *properties.Collection, opts ...SessionOption) *TranslationRecognizer {
	return &TranslationRecognizer{session: newSession(props, true, adaptTurn[TranslationResult], opts...)}
}

// OnSynthesis subscribes to synthesized audio. The last event of a turn has
// End set and carries no audio.
func (r *TranslationRecognizer) OnSynthesis(handler func(events.TranslationSynthesis)) *Subscription {
	return subscribe(r.dispatcher, events.KindTranslationSynthesis, handler)
}

func (r *TranslationRecognizer) AddTargetLanguage(language string) {
	languages := properties.List(r.props, properties.TranslationTargetLanguages)
	for _, existing := range languages {
		if existing == language {
			return
		}
	}
	r.props.Set(properties.TranslationTargetLanguages, joinList(append(languages, language)))
}

func (r *TranslationRecognizer) RemoveTargetLanguage(language string) {
	languages := properties.List(r.props, properties.TranslationTargetLanguages)
	kept := languages[:0]
	for _, existing := range languages {
		if existing != language {
			kept = append(kept, existing)
		}
	}
	r.props.Set(properties.TranslationTargetLanguages, joinList(kept))
}

func (r *TranslationRecognizer) TargetLanguages() []string {
	return properties.List(r.props, properties.TranslationTargetLanguages)
}

func joinList(values []string) string {
	return strings.Join(values, ",")
}
