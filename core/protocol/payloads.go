package protocol

import "time"

// Offsets and durations are reported in 100ns ticks.
func ticks(t int64) time.Duration {
	return time.Duration(t) * 100
}

type turnStartPayload struct {
	Context struct {
		ServiceTag string `json:"serviceTag"`
	} `json:"context"`
}

type offsetPayload struct {
	Offset int64 `json:"Offset"`
}

type hypothesisPayload struct {
	Text        string              `json:"Text"`
	Offset      int64               `json:"Offset"`
	Duration    int64               `json:"Duration"`
	Translation *translationPayload `json:"Translation,omitempty"`
}

type phrasePayload struct {
	RecognitionStatus string              `json:"RecognitionStatus"`
	DisplayText       string              `json:"DisplayText"`
	Text              string              `json:"Text"`
	Offset            int64               `json:"Offset"`
	Duration          int64               `json:"Duration"`
	NBest             []nBestPayload      `json:"NBest,omitempty"`
	Translation       *translationPayload `json:"Translation,omitempty"`
}

type nBestPayload struct {
	Confidence float64 `json:"Confidence"`
	Lexical    string  `json:"Lexical"`
	Display    string  `json:"Display"`
}

func (p phrasePayload) text() string {
	switch {
	case p.DisplayText != "":
		return p.DisplayText
	case p.Text != "":
		return p.Text
	case len(p.NBest) > 0:
		return p.NBest[0].Display
	}
	return ""
}

func (p phrasePayload) confidence() float64 {
	if len(p.NBest) > 0 {
		return p.NBest[0].Confidence
	}
	return 0
}

type translationPayload struct {
	TranslationStatus string `json:"TranslationStatus"`
	FailureReason     string `json:"FailureReason,omitempty"`
	Translations      []struct {
		Language string `json:"Language"`
		Text     string `json:"Text"`
	} `json:"Translations"`
}

func (p *translationPayload) translations() map[string]string {
	if p == nil || len(p.Translations) == 0 {
		return nil
	}
	translations := make(map[string]string, len(p.Translations))
	for _, translation := range p.Translations {
		translations[translation.Language] = translation.Text
	}
	return translations
}

func (p *translationPayload) failure() string {
	if p == nil || p.TranslationStatus == "" || p.TranslationStatus == "Success" {
		return ""
	}
	if p.FailureReason != "" {
		return p.FailureReason
	}
	return p.TranslationStatus
}

type synthesisEndPayload struct {
	SynthesisStatus string `json:"SynthesisStatus"`
	FailureReason   string `json:"FailureReason,omitempty"`
}

type speechConfigPayload struct {
	Context struct {
		System struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"system"`
		OS struct {
			Platform string `json:"platform"`
			Name     string `json:"name"`
			Version  string `json:"version"`
		} `json:"os"`
		Audio struct {
			Source struct {
				Type          string `json:"type"`
				SampleRate    int    `json:"samplerate"`
				BitsPerSample int    `json:"bitspersample"`
				ChannelCount  int    `json:"channelcount"`
			} `json:"source"`
		} `json:"audio"`
	} `json:"context"`
}
