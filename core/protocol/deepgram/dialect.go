// Package deepgram speaks the Deepgram live transcription protocol as a
// protocol.Dialect. Deepgram has no notion of turns, so the dialect
// synthesizes turn boundaries around its speech-final results.
package deepgram

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/goccy/go-json"
	"github.com/koscakluka/ema-speech/core/events"
	"github.com/koscakluka/ema-speech/core/protocol"
)

const (
	listenURL    = "wss://api.deepgram.com/v1/listen"
	defaultModel = "nova-3"
)

type Option func(*Dialect)

func WithModel(model string) Option {
	return func(d *Dialect) {
		d.model = model
	}
}

// WithUtteranceEnd sets the silence after which a spoken segment is
// considered finished even without a speech-final result.
func WithUtteranceEnd(d time.Duration) Option {
	return func(dialect *Dialect) {
		dialect.utteranceEnd = d
	}
}

type Dialect struct {
	model        string
	utteranceEnd time.Duration
	endpointing  time.Duration

	mu          sync.Mutex
	requestID   string
	started     bool
	accumulated string
}

func New(opts ...Option) *Dialect {
	d := &Dialect{
		model:        defaultModel,
		utteranceEnd: time.Second,
		endpointing:  300 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dialect) Endpoint(cfg protocol.Config, _ string, _ bool) (string, http.Header, error) {
	encoding, err := convertEncoding(cfg.Encoding)
	if err != nil {
		return "", nil, fmt.Errorf("invalid encoding: %w", err)
	}

	rawURL := listenURL
	if cfg.Endpoint != "" {
		rawURL = cfg.Endpoint
	}
	listenUrl, err := url.Parse(rawURL)
	if err != nil {
		return "", nil, fmt.Errorf("invalid endpoint %q: %w", rawURL, err)
	}

	queryParams := listenUrl.Query()
	queryParams.Set("encoding", encoding.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	queryParams.Set("channels", strconv.Itoa(encoding.Channels))
	queryParams.Set("model", d.model)
	if cfg.Language != "" {
		queryParams.Set("language", cfg.Language)
	}
	queryParams.Set("smart_format", "true")
	queryParams.Set("interim_results", "true")
	queryParams.Set("vad_events", "true")
	queryParams.Set("utterance_end_ms", strconv.FormatInt(d.utteranceEnd.Milliseconds(), 10))
	queryParams.Set("endpointing", strconv.FormatInt(d.endpointing.Milliseconds(), 10))
	listenUrl.RawQuery = queryParams.Encode()

	header := http.Header{}
	switch {
	case cfg.AuthorizationToken != "":
		header.Set("Authorization", "Bearer "+cfg.AuthorizationToken)
	case cfg.SubscriptionKey != "":
		header.Set("Authorization", "Token "+cfg.SubscriptionKey)
	default:
		return "", nil, fmt.Errorf("%w: deepgram api key not found", events.ErrAuth)
	}

	return listenUrl.String(), header, nil
}

func (d *Dialect) Preamble(protocol.Config) ([]protocol.Frame, error) {
	return nil, nil
}

func (d *Dialect) BeginTurn(_ protocol.Config, requestID string) ([]protocol.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requestID = requestID
	d.started = false
	d.accumulated = ""
	return nil, nil
}

// Audio is sent raw, the encoding is negotiated through the endpoint query.
func (d *Dialect) Audio(_ protocol.Config, _ string, chunk []byte, _ bool) (protocol.Frame, error) {
	return protocol.Frame{Binary: true, Data: chunk}, nil
}

// EndOfAudio asks the service to flush whatever it has buffered as a final
// result.
func (d *Dialect) EndOfAudio(string) (protocol.Frame, error) {
	data, err := json.Marshal(control{Type: "Finalize"})
	if err != nil {
		return protocol.Frame{}, fmt.Errorf("failed to encode finalize message: %w", err)
	}
	return protocol.Frame{Data: data}, nil
}

type control struct {
	Type string `json:"type"`
}

type envelope struct {
	Type         string `json:"type"`
	FromFinalize bool   `json:"from_finalize"`
	Description  string `json:"description"`
	Message      string `json:"message"`
}

func (d *Dialect) Decode(frame protocol.Frame) ([]events.Event, error) {
	if frame.Binary {
		return nil, fmt.Errorf("%w: unexpected binary message", events.ErrProtocolViolation)
	}

	var parsedMsg envelope
	if err := json.Unmarshal(frame.Data, &parsedMsg); err != nil {
		return nil, fmt.Errorf("%w: invalid message: %w", events.ErrProtocolViolation, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(frame.Data, &msgResp); err != nil {
			return nil, fmt.Errorf("%w: invalid results message: %w", events.ErrProtocolViolation, err)
		}
		return d.results(msgResp, parsedMsg.FromFinalize), nil

	case api.TypeSpeechStartedResponse:
		var msgResp api.SpeechStartedResponse
		if err := json.Unmarshal(frame.Data, &msgResp); err != nil {
			return nil, fmt.Errorf("%w: invalid speech started message: %w", events.ErrProtocolViolation, err)
		}
		return d.open(seconds(msgResp.Timestamp)), nil

	case api.TypeUtteranceEndResponse:
		var msgResp api.UtteranceEndResponse
		if err := json.Unmarshal(frame.Data, &msgResp); err != nil {
			return nil, fmt.Errorf("%w: invalid utterance end message: %w", events.ErrProtocolViolation, err)
		}
		if !d.started {
			return nil, nil
		}
		return d.close(seconds(msgResp.LastWordEnd), 0), nil

	case api.TypeResponse(api.TypeErrorResponse):
		reason := parsedMsg.Description
		if reason == "" {
			reason = parsedMsg.Message
		}
		return []events.Event{events.NewError(d.requestID, fmt.Errorf("%w: %s", events.ErrService, reason))}, nil
	}

	logger.Debug("ignoring message", "type", parsedMsg.Type)
	return nil, nil
}

func (d *Dialect) results(msgResp api.MessageResponse, fromFinalize bool) []events.Event {
	if d.requestID == "" {
		return nil
	}

	var transcript string
	var confidence float64
	if len(msgResp.Channel.Alternatives) > 0 {
		transcript = strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
		confidence = msgResp.Channel.Alternatives[0].Confidence
	}
	offset, duration := seconds(msgResp.Start), seconds(msgResp.Duration)

	var out []events.Event
	if transcript != "" || fromFinalize {
		out = d.open(offset)
	}

	if transcript != "" {
		text := strings.TrimSpace(d.accumulated + " " + transcript)
		if msgResp.IsFinal {
			d.accumulated = text
		}
		out = append(out, events.NewHypothesis(d.requestID, text, offset, duration))
	}

	if d.started && (msgResp.SpeechFinal || fromFinalize) {
		out = append(out, d.close(offset+duration, confidence)...)
	}
	return out
}

// open synthesizes the start of a turn the first time speech shows up.
func (d *Dialect) open(offset time.Duration) []events.Event {
	if d.started || d.requestID == "" {
		return nil
	}
	d.started = true
	return []events.Event{
		events.NewTurnStart(d.requestID, ""),
		events.NewSpeechStartDetected(d.requestID, offset),
	}
}

func (d *Dialect) close(end time.Duration, confidence float64) []events.Event {
	id := d.requestID
	text := d.accumulated

	status := events.StatusSuccess
	if text == "" {
		status = events.StatusNoMatch
	}

	d.requestID = ""
	d.started = false
	d.accumulated = ""

	return []events.Event{
		events.NewSpeechEndDetected(id, end),
		events.NewPhrase(id, status, text, 0, end).WithConfidence(confidence),
		events.NewTurnEnd(id),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
