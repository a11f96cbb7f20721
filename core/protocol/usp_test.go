package protocol

import (
	"bytes"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/koscakluka/ema-speech/core/audio"
	"github.com/koscakluka/ema-speech/core/events"
)

func textFrame(path, requestID, body string) Frame {
	return Frame{Data: EncodeText(Message{Path: path, RequestID: requestID, Body: []byte(body)})}
}

func TestUSPEndpointSelectsServiceByConfig(t *testing.T) {
	testCases := []struct {
		name      string
		cfg       Config
		synthesis bool
		host      string
		query     map[string][]string
	}{
		{
			name: "recognition",
			cfg:  Config{Region: "westus", SubscriptionKey: "k"}.withDefaults(),
			host: "westus.stt.speech.microsoft.com",
			query: map[string][]string{
				"language": {"en-US"},
				"format":   {"simple"},
			},
		},
		{
			name: "translation with synthesis",
			cfg: Config{
				Region:          "westus",
				SubscriptionKey: "k",
				TargetLanguages: []string{"de", "fr"},
				Voice:           "de-DE-KatjaNeural",
			}.withDefaults(),
			synthesis: true,
			host:      "westus.s2s.speech.microsoft.com",
			query: map[string][]string{
				"from":     {"en-US"},
				"to":       {"de", "fr"},
				"voice":    {"de-DE-KatjaNeural"},
				"features": {"texttospeech"},
			},
		},
		{
			name: "translation without synthesis",
			cfg: Config{
				Region:          "westus",
				SubscriptionKey: "k",
				TargetLanguages: []string{"de"},
				Voice:           "de-DE-KatjaNeural",
			}.withDefaults(),
			host: "westus.s2s.speech.microsoft.com",
			query: map[string][]string{
				"from":  {"en-US"},
				"to":    {"de"},
				"voice": nil,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			endpoint, header, err := NewUSP().Endpoint(tc.cfg, "conn1", tc.synthesis)
			if err != nil {
				t.Fatalf("expected endpoint, got %v", err)
			}
			u, err := url.Parse(endpoint)
			if err != nil {
				t.Fatalf("expected valid url, got %v", err)
			}
			if u.Host != tc.host {
				t.Fatalf("expected host %s, got %s", tc.host, u.Host)
			}
			for key, expected := range tc.query {
				got := u.Query()[key]
				if len(got) != len(expected) {
					t.Fatalf("expected %s=%v, got %v", key, expected, got)
				}
				for i := range expected {
					if got[i] != expected[i] {
						t.Fatalf("expected %s=%v, got %v", key, expected, got)
					}
				}
			}
			if got := header.Get("X-ConnectionId"); got != "conn1" {
				t.Fatalf("expected connection id header, got %q", got)
			}
		})
	}
}

func TestUSPEndpointPrefersAuthorizationToken(t *testing.T) {
	cfg := Config{Region: "westus", SubscriptionKey: "key", AuthorizationToken: "token"}.withDefaults()
	_, header, err := NewUSP().Endpoint(cfg, "c", false)
	if err != nil {
		t.Fatalf("expected endpoint, got %v", err)
	}
	if got := header.Get("Authorization"); got != "Bearer token" {
		t.Fatalf("expected bearer token, got %q", got)
	}
	if got := header.Get("Ocp-Apim-Subscription-Key"); got != "" {
		t.Fatalf("expected no subscription key header, got %q", got)
	}

	_, _, err = NewUSP().Endpoint(Config{Region: "westus"}.withDefaults(), "c", false)
	if !errors.Is(err, events.ErrAuth) {
		t.Fatalf("expected auth error without credentials, got %v", err)
	}
}

func TestUSPPreambleDescribesAudio(t *testing.T) {
	frames, err := NewUSP().Preamble(Config{}.withDefaults())
	if err != nil {
		t.Fatalf("expected preamble, got %v", err)
	}
	if len(frames) != 1 || frames[0].Binary {
		t.Fatalf("expected a single text frame, got %d", len(frames))
	}

	msg, err := DecodeText(frames[0].Data)
	if err != nil {
		t.Fatalf("expected preamble to decode, got %v", err)
	}
	if msg.Path != pathSpeechConfig {
		t.Fatalf("expected %s, got %s", pathSpeechConfig, msg.Path)
	}

	var payload speechConfigPayload
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		t.Fatalf("expected json body, got %v", err)
	}
	if payload.Context.Audio.Source.SampleRate != audio.DefaultSampleRate {
		t.Fatalf("expected sample rate %d, got %d", audio.DefaultSampleRate, payload.Context.Audio.Source.SampleRate)
	}
}

func TestUSPAudioPrefixesFirstChunkWithWAVHeader(t *testing.T) {
	cfg := Config{}.withDefaults()
	chunk := []byte{1, 2, 3, 4}

	first, err := NewUSP().Audio(cfg, "req", chunk, true)
	if err != nil {
		t.Fatalf("expected frame, got %v", err)
	}
	msg, err := DecodeBinary(first.Data)
	if err != nil {
		t.Fatalf("expected frame to decode, got %v", err)
	}
	if !bytes.Equal(msg.Body, append(cfg.Encoding.WAVHeader(), chunk...)) {
		t.Fatalf("expected wav header followed by chunk")
	}

	next, _ := NewUSP().Audio(cfg, "req", chunk, false)
	msg, _ = DecodeBinary(next.Data)
	if !bytes.Equal(msg.Body, chunk) {
		t.Fatalf("expected bare chunk, got %v", msg.Body)
	}

	end, _ := NewUSP().EndOfAudio("req")
	msg, _ = DecodeBinary(end.Data)
	if msg.Path != pathAudio || len(msg.Body) != 0 {
		t.Fatalf("expected empty audio message, got %s with %d bytes", msg.Path, len(msg.Body))
	}
}

func TestUSPDecodeMapsMessages(t *testing.T) {
	testCases := []struct {
		name     string
		frame    Frame
		expected []events.Kind
	}{
		{
			name:     "turn start",
			frame:    textFrame(pathTurnStart, "r", `{"context":{"serviceTag":"tag"}}`),
			expected: []events.Kind{events.KindTurnStart},
		},
		{
			name:     "speech start",
			frame:    textFrame(pathSpeechStartDetected, "r", `{"Offset":100}`),
			expected: []events.Kind{events.KindSpeechStartDetected},
		},
		{
			name:     "hypothesis",
			frame:    textFrame(pathSpeechHypothesis, "r", `{"Text":"hel","Offset":0,"Duration":10}`),
			expected: []events.Kind{events.KindHypothesis},
		},
		{
			name:     "phrase",
			frame:    textFrame(pathSpeechPhrase, "r", `{"RecognitionStatus":"Success","DisplayText":"Hello."}`),
			expected: []events.Kind{events.KindPhrase},
		},
		{
			name:     "end of dictation",
			frame:    textFrame(pathSpeechPhrase, "r", `{"RecognitionStatus":"EndOfDictation"}`),
			expected: nil,
		},
		{
			name:     "recognition error",
			frame:    textFrame(pathSpeechPhrase, "r", `{"RecognitionStatus":"Error"}`),
			expected: []events.Kind{events.KindCanceled},
		},
		{
			name:     "turn end",
			frame:    textFrame(pathTurnEnd, "r", ""),
			expected: []events.Kind{events.KindTurnEnd},
		},
		{
			name:     "synthesis end with failure",
			frame:    textFrame(pathTranslationSynthesisEnd, "r", `{"SynthesisStatus":"Error","FailureReason":"voice"}`),
			expected: []events.Kind{events.KindError, events.KindTranslationSynthesis},
		},
		{
			name:     "unknown path",
			frame:    textFrame("speech.fragment", "r", "{}"),
			expected: nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			decoded, err := NewUSP().Decode(tc.frame)
			if err != nil {
				t.Fatalf("expected message to decode, got %v", err)
			}
			if len(decoded) != len(tc.expected) {
				t.Fatalf("expected %d events, got %d", len(tc.expected), len(decoded))
			}
			for i, ev := range decoded {
				if ev.Kind() != tc.expected[i] {
					t.Fatalf("expected %s, got %s", tc.expected[i], ev.Kind())
				}
				if ev.RequestID() != "r" {
					t.Fatalf("expected request id r, got %q", ev.RequestID())
				}
			}
		})
	}
}

func TestUSPDecodeTranslationPhrase(t *testing.T) {
	body := `{"RecognitionStatus":"Success","Text":"hello","Offset":10000000,"Duration":5000000,` +
		`"Translation":{"TranslationStatus":"Success","Translations":[{"Language":"de","Text":"hallo"}]}}`
	decoded, err := NewUSP().Decode(textFrame(pathTranslationPhrase, "r", body))
	if err != nil {
		t.Fatalf("expected message to decode, got %v", err)
	}

	phrase, ok := decoded[0].(events.Phrase)
	if !ok {
		t.Fatalf("expected phrase, got %T", decoded[0])
	}
	if phrase.Translations["de"] != "hallo" {
		t.Fatalf("expected german translation, got %v", phrase.Translations)
	}
	if phrase.Offset != time.Second || phrase.Duration != 500*time.Millisecond {
		t.Fatalf("expected 1s offset and 500ms duration, got %s and %s", phrase.Offset, phrase.Duration)
	}
}

func TestUSPDecodeSynthesisAudio(t *testing.T) {
	data, _ := EncodeBinary(Message{Path: pathTranslationSynthesis, RequestID: "r", Body: []byte{9, 9}})
	decoded, err := NewUSP().Decode(Frame{Binary: true, Data: data})
	if err != nil {
		t.Fatalf("expected message to decode, got %v", err)
	}
	synthesis, ok := decoded[0].(events.TranslationSynthesis)
	if !ok || !bytes.Equal(synthesis.Audio, []byte{9, 9}) || synthesis.End {
		t.Fatalf("expected synthesis chunk, got %#v", decoded[0])
	}

	if _, err := NewUSP().Decode(textFrame(pathTranslationSynthesis, "r", "")); !errors.Is(err, events.ErrProtocolViolation) {
		t.Fatalf("expected text synthesis frame to be rejected, got %v", err)
	}
}

func TestUSPDecodeRejectsPhraseWithoutStatus(t *testing.T) {
	_, err := NewUSP().Decode(textFrame(pathSpeechPhrase, "r", `{"Text":"x"}`))
	if !errors.Is(err, events.ErrProtocolViolation) {
		t.Fatalf("expected protocol violation, got %v", err)
	}
}
