package events

import "time"

const (
	KindTurnStart           Kind = "turn.start"
	KindSpeechStartDetected Kind = "speech.startDetected"
	KindHypothesis          Kind = "speech.hypothesis"
	KindSpeechEndDetected   Kind = "speech.endDetected"
	KindPhrase              Kind = "speech.phrase"
	KindTurnEnd             Kind = "turn.end"
)

// RecognitionStatus is the outcome the service reports for a phrase.
type RecognitionStatus string

const (
	StatusSuccess               RecognitionStatus = "Success"
	StatusNoMatch               RecognitionStatus = "NoMatch"
	StatusInitialSilenceTimeout RecognitionStatus = "InitialSilenceTimeout"
	StatusBabbleTimeout         RecognitionStatus = "BabbleTimeout"
	StatusError                 RecognitionStatus = "Error"
	StatusEndOfDictation        RecognitionStatus = "EndOfDictation"
)

// IsNoMatch reports whether the status describes a turn that ended without
// recognized speech.
func (s RecognitionStatus) IsNoMatch() bool {
	switch s {
	case StatusNoMatch, StatusInitialSilenceTimeout, StatusBabbleTimeout:
		return true
	}
	return false
}

// TurnStart marks the beginning of a service turn.
type TurnStart struct {
	Base
	ServiceTag string
}

func NewTurnStart(requestID, serviceTag string) TurnStart {
	return TurnStart{Base: NewBase(KindTurnStart, requestID), ServiceTag: serviceTag}
}

// SpeechStartDetected marks the start of speech activity.
type SpeechStartDetected struct {
	Base
	Offset time.Duration
}

func NewSpeechStartDetected(requestID string, offset time.Duration) SpeechStartDetected {
	return SpeechStartDetected{Base: NewBase(KindSpeechStartDetected, requestID), Offset: offset}
}

// SpeechEndDetected marks the end of speech activity.
type SpeechEndDetected struct {
	Base
	Offset time.Duration
}

func NewSpeechEndDetected(requestID string, offset time.Duration) SpeechEndDetected {
	return SpeechEndDetected{Base: NewBase(KindSpeechEndDetected, requestID), Offset: offset}
}

// Hypothesis carries a provisional recognition result.
type Hypothesis struct {
	Base
	Text     string
	Offset   time.Duration
	Duration time.Duration
	// Translations maps a target language to the provisional translation.
	Translations map[string]string
}

func NewHypothesis(requestID, text string, offset, duration time.Duration) Hypothesis {
	return Hypothesis{
		Base:     NewBase(KindHypothesis, requestID),
		Text:     text,
		Offset:   offset,
		Duration: duration,
	}
}

// WithTranslations returns a copy of the hypothesis carrying translations.
func (h Hypothesis) WithTranslations(translations map[string]string) Hypothesis {
	h.Translations = translations
	return h
}

// Phrase carries the final recognition result of a turn.
type Phrase struct {
	Base
	Status     RecognitionStatus
	Text       string
	Confidence float64
	Offset     time.Duration
	Duration   time.Duration

	Translations map[string]string
	// TranslationFailure is set when recognition succeeded but the service
	// could not translate the phrase.
	TranslationFailure string
}

func NewPhrase(requestID string, status RecognitionStatus, text string, offset, duration time.Duration) Phrase {
	return Phrase{
		Base:     NewBase(KindPhrase, requestID),
		Status:   status,
		Text:     text,
		Offset:   offset,
		Duration: duration,
	}
}

// WithConfidence returns a copy of the phrase with the given confidence.
func (p Phrase) WithConfidence(confidence float64) Phrase {
	p.Confidence = confidence
	return p
}

// WithTranslations returns a copy of the phrase carrying translations.
func (p Phrase) WithTranslations(translations map[string]string, failure string) Phrase {
	p.Translations = translations
	p.TranslationFailure = failure
	return p
}

// TurnEnd marks the end of a service turn.
type TurnEnd struct{ Base }

func NewTurnEnd(requestID string) TurnEnd {
	return TurnEnd{Base: NewBase(KindTurnEnd, requestID)}
}
