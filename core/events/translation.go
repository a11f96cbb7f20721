package events

const KindTranslationSynthesis Kind = "translation.synthesis"

// TranslationSynthesis carries synthesized audio of translated speech.
type TranslationSynthesis struct {
	Base
	Audio []byte
	// End is set on the last synthesis event of a turn. It carries no audio.
	End bool
}

func NewTranslationSynthesis(requestID string, audio []byte) TranslationSynthesis {
	return TranslationSynthesis{Base: NewBase(KindTranslationSynthesis, requestID), Audio: audio}
}

func NewTranslationSynthesisEnd(requestID string) TranslationSynthesis {
	return TranslationSynthesis{Base: NewBase(KindTranslationSynthesis, requestID), End: true}
}
