package deepgram

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/koscakluka/ema-speech/core/audio"
	"github.com/koscakluka/ema-speech/core/events"
	"github.com/koscakluka/ema-speech/core/protocol"
)

func decodeAll(t *testing.T, d *Dialect, messages ...string) []events.Event {
	t.Helper()
	var out []events.Event
	for _, msg := range messages {
		decoded, err := d.Decode(protocol.Frame{Data: []byte(msg)})
		if err != nil {
			t.Fatalf("expected message to decode, got %v", err)
		}
		out = append(out, decoded...)
	}
	return out
}

func kinds(evs []events.Event) []events.Kind {
	out := make([]events.Kind, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Kind())
	}
	return out
}

func TestEndpointCarriesEncodingAndAuth(t *testing.T) {
	d := New()
	endpoint, header, err := d.Endpoint(protocol.Config{
		SubscriptionKey: "secret",
		Language:        "en-GB",
		Encoding:        audio.GetDefaultEncodingInfo(),
	}, "conn", false)
	if err != nil {
		t.Fatalf("expected endpoint, got %v", err)
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		t.Fatalf("expected valid url, got %v", err)
	}
	query := u.Query()
	if got := query.Get("encoding"); got != "linear16" {
		t.Fatalf("expected linear16 encoding, got %q", got)
	}
	if got := query.Get("language"); got != "en-GB" {
		t.Fatalf("expected en-GB language, got %q", got)
	}
	if got := query.Get("vad_events"); got != "true" {
		t.Fatalf("expected vad events enabled, got %q", got)
	}
	if got := header.Get("Authorization"); got != "Token secret" {
		t.Fatalf("expected token authorization, got %q", got)
	}
}

func TestEndpointWithoutCredentialsIsAuthError(t *testing.T) {
	_, _, err := New().Endpoint(protocol.Config{Encoding: audio.GetDefaultEncodingInfo()}, "conn", false)
	if !errors.Is(err, events.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestConvertEncodingRejectsCompandedWideband(t *testing.T) {
	info := audio.GetDefaultEncodingInfo()
	info.Format = audio.EncodingMulaw
	if _, err := convertEncoding(info); err == nil {
		t.Fatalf("expected mulaw at %d Hz to be rejected", info.SampleRate)
	}

	info.SampleRate = 8000
	converted, err := convertEncoding(info)
	if err != nil {
		t.Fatalf("expected mulaw at 8 kHz to be accepted, got %v", err)
	}
	if converted.Format != encodingMulaw {
		t.Fatalf("expected mulaw, got %s", converted.Format)
	}
}

func TestDecodeSynthesizesTurnAroundSpeechFinal(t *testing.T) {
	d := New()
	if _, err := d.BeginTurn(protocol.Config{}, "req1"); err != nil {
		t.Fatalf("expected turn to begin, got %v", err)
	}

	evs := decodeAll(t, d,
		`{"type":"SpeechStarted","channel":[0,1],"timestamp":0.5}`,
		`{"type":"Results","is_final":false,"speech_final":false,"start":0.5,"duration":0.4,"channel":{"alternatives":[{"transcript":"hello","confidence":0.8}]}}`,
		`{"type":"Results","is_final":true,"speech_final":false,"start":0.5,"duration":0.6,"channel":{"alternatives":[{"transcript":"hello","confidence":0.9}]}}`,
		`{"type":"Results","is_final":true,"speech_final":true,"start":1.1,"duration":0.5,"channel":{"alternatives":[{"transcript":"world","confidence":0.95}]}}`,
	)

	expected := []events.Kind{
		events.KindTurnStart,
		events.KindSpeechStartDetected,
		events.KindHypothesis,
		events.KindHypothesis,
		events.KindHypothesis,
		events.KindSpeechEndDetected,
		events.KindPhrase,
		events.KindTurnEnd,
	}
	got := kinds(evs)
	if len(got) != len(expected) {
		t.Fatalf("expected kinds %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("expected kinds %v, got %v", expected, got)
		}
	}

	for _, ev := range evs {
		if ev.RequestID() != "req1" {
			t.Fatalf("expected every event to carry req1, got %q on %s", ev.RequestID(), ev.Kind())
		}
	}

	if hypothesis := evs[4].(events.Hypothesis); hypothesis.Text != "hello world" {
		t.Fatalf("expected accumulated hypothesis, got %q", hypothesis.Text)
	}
	phrase := evs[6].(events.Phrase)
	if phrase.Text != "hello world" || phrase.Status != events.StatusSuccess {
		t.Fatalf("expected successful phrase \"hello world\", got %q (%s)", phrase.Text, phrase.Status)
	}
}

func TestDecodeFinalizeWithoutSpeechIsNoMatch(t *testing.T) {
	d := New()
	_, _ = d.BeginTurn(protocol.Config{}, "req2")

	evs := decodeAll(t, d,
		`{"type":"Results","is_final":true,"speech_final":false,"from_finalize":true,"start":0,"duration":0,"channel":{"alternatives":[{"transcript":"","confidence":0}]}}`,
	)
	if len(evs) != 5 {
		t.Fatalf("expected a full synthesized turn, got %v", kinds(evs))
	}
	phrase := evs[3].(events.Phrase)
	if phrase.Status != events.StatusNoMatch {
		t.Fatalf("expected no match, got %s", phrase.Status)
	}
}

func TestDecodeIgnoresResultsOutsideTurn(t *testing.T) {
	d := New()
	evs := decodeAll(t, d,
		`{"type":"Metadata","request_id":"x"}`,
		`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"late"}]}}`,
	)
	if len(evs) != 0 {
		t.Fatalf("expected no events, got %v", kinds(evs))
	}
}

func TestDecodeRejectsMalformedMessages(t *testing.T) {
	d := New()
	testCases := []struct {
		name  string
		frame protocol.Frame
	}{
		{name: "binary", frame: protocol.Frame{Binary: true, Data: []byte{1, 2}}},
		{name: "invalid json", frame: protocol.Frame{Data: []byte("{")}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := d.Decode(tc.frame); !errors.Is(err, events.ErrProtocolViolation) {
				t.Fatalf("expected protocol violation, got %v", err)
			}
		})
	}
}

func TestEndOfAudioRequestsFinalize(t *testing.T) {
	frame, err := New().EndOfAudio("req")
	if err != nil {
		t.Fatalf("expected finalize frame, got %v", err)
	}
	if frame.Binary || string(frame.Data) != `{"type":"Finalize"}` {
		t.Fatalf("expected finalize text frame, got %q", frame.Data)
	}
}

func TestDecodeSurfacesServiceErrors(t *testing.T) {
	testCases := []struct {
		name     string
		message  string
		expected string
	}{
		{name: "description", message: `{"type":"Error","description":"bad audio","message":"ignored"}`, expected: "bad audio"},
		{name: "message only", message: `{"type":"Error","message":"rate limited"}`, expected: "rate limited"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := New()
			if _, err := d.BeginTurn(protocol.Config{}, "req"); err != nil {
				t.Fatalf("expected turn to begin, got %v", err)
			}

			evs := decodeAll(t, d, tc.message)
			if len(evs) != 1 {
				t.Fatalf("expected one error event, got %v", kinds(evs))
			}
			ev, ok := evs[0].(events.Error)
			if !ok || ev.RequestID() != "req" {
				t.Fatalf("expected error for req, got %v", evs[0])
			}
			if !errors.Is(ev.Err, events.ErrService) || !strings.Contains(ev.Err.Error(), tc.expected) {
				t.Fatalf("expected service error %q, got %v", tc.expected, ev.Err)
			}
		})
	}
}
