package protocol

import (
	"fmt"
	"net/http"
	"net/url"
	"runtime"
	"time"

	"github.com/goccy/go-json"
	"github.com/koscakluka/ema-speech/core/events"
)

const (
	recognitionURL = "wss://%s.stt.speech.microsoft.com/speech/recognition/%s/cognitiveservices/v1"
	translationURL = "wss://%s.s2s.speech.microsoft.com/speech/translation/cognitiveservices/v1"

	pathSpeechConfig            = "speech.config"
	pathAudio                   = "audio"
	pathTurnStart               = "turn.start"
	pathTurnEnd                 = "turn.end"
	pathSpeechStartDetected     = "speech.startDetected"
	pathSpeechEndDetected       = "speech.endDetected"
	pathSpeechHypothesis        = "speech.hypothesis"
	pathSpeechPhrase            = "speech.phrase"
	pathTranslationHypothesis   = "translation.hypothesis"
	pathTranslationPhrase       = "translation.phrase"
	pathTranslationSynthesis    = "translation.synthesis"
	pathTranslationSynthesisEnd = "translation.synthesis.end"

	contentTypeJSON = "application/json; charset=utf-8"
	contentTypeWAV  = "audio/x-wav"

	clientName    = "ema-speech"
	clientVersion = "1.0.0"
)

// USP speaks the Speech service websocket protocol.
type USP struct{}

func NewUSP() USP { return USP{} }

func (USP) Endpoint(cfg Config, connectionID string, synthesis bool) (string, http.Header, error) {
	base := cfg.Endpoint
	if base == "" {
		if cfg.Region == "" {
			return "", nil, fmt.Errorf("%w: neither endpoint nor region is configured", events.ErrConnection)
		}
		if cfg.Translation() {
			base = fmt.Sprintf(translationURL, cfg.Region)
		} else {
			base = fmt.Sprintf(recognitionURL, cfg.Region, cfg.Mode)
		}
	}

	endpoint, err := url.Parse(base)
	if err != nil {
		return "", nil, fmt.Errorf("%w: invalid endpoint: %w", events.ErrConnection, err)
	}

	query := endpoint.Query()
	if cfg.Translation() {
		query.Set("from", cfg.Language)
		for _, language := range cfg.TargetLanguages {
			query.Add("to", language)
		}
		if synthesis && cfg.Voice != "" {
			query.Set("voice", cfg.Voice)
			query.Set("features", "texttospeech")
		}
	} else {
		query.Set("language", cfg.Language)
		query.Set("format", string(cfg.Format))
	}
	endpoint.RawQuery = query.Encode()

	header := http.Header{}
	switch {
	case cfg.AuthorizationToken != "":
		header.Set("Authorization", "Bearer "+cfg.AuthorizationToken)
	case cfg.SubscriptionKey != "":
		header.Set("Ocp-Apim-Subscription-Key", cfg.SubscriptionKey)
	default:
		return "", nil, fmt.Errorf("%w: no subscription key or authorization token", events.ErrAuth)
	}
	header.Set("X-ConnectionId", connectionID)

	return endpoint.String(), header, nil
}

func (USP) Preamble(cfg Config) ([]Frame, error) {
	var payload speechConfigPayload
	payload.Context.System.Name = clientName
	payload.Context.System.Version = clientVersion
	payload.Context.OS.Platform = runtime.GOOS
	payload.Context.OS.Name = runtime.GOARCH
	payload.Context.OS.Version = runtime.Version()
	payload.Context.Audio.Source.Type = "Stream"
	payload.Context.Audio.Source.SampleRate = cfg.Encoding.SampleRate
	payload.Context.Audio.Source.BitsPerSample = cfg.Encoding.Format.ByteSize() * 8
	payload.Context.Audio.Source.ChannelCount = max(cfg.Encoding.Channels, 1)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode speech config: %w", err)
	}

	return []Frame{{Data: EncodeText(Message{
		Path:        pathSpeechConfig,
		ContentType: contentTypeJSON,
		Timestamp:   time.Now(),
		Body:        body,
	})}}, nil
}

// BeginTurn sends nothing: the service opens a turn when audio for a new
// request id arrives.
func (USP) BeginTurn(Config, string) ([]Frame, error) {
	return nil, nil
}

func (USP) Audio(cfg Config, requestID string, chunk []byte, first bool) (Frame, error) {
	body := chunk
	if first {
		body = append(cfg.Encoding.WAVHeader(), chunk...)
	}

	data, err := EncodeBinary(Message{
		Path:        pathAudio,
		RequestID:   requestID,
		ContentType: contentTypeWAV,
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err != nil {
		return Frame{}, fmt.Errorf("failed to frame audio: %w", err)
	}
	return Frame{Binary: true, Data: data}, nil
}

// EndOfAudio is an audio message without a body.
func (USP) EndOfAudio(requestID string) (Frame, error) {
	data, err := EncodeBinary(Message{Path: pathAudio, RequestID: requestID, Timestamp: time.Now()})
	if err != nil {
		return Frame{}, fmt.Errorf("failed to frame end of audio: %w", err)
	}
	return Frame{Binary: true, Data: data}, nil
}

func (USP) Decode(frame Frame) ([]events.Event, error) {
	var (
		msg Message
		err error
	)
	if frame.Binary {
		msg, err = DecodeBinary(frame.Data)
	} else {
		msg, err = DecodeText(frame.Data)
	}
	if err != nil {
		return nil, err
	}

	id := msg.RequestID
	switch msg.Path {
	case pathTurnStart:
		var payload turnStartPayload
		if err := decodeBody(msg, &payload); err != nil {
			return nil, err
		}
		return []events.Event{events.NewTurnStart(id, payload.Context.ServiceTag)}, nil

	case pathSpeechStartDetected, pathSpeechEndDetected:
		var payload offsetPayload
		if err := decodeBody(msg, &payload); err != nil {
			return nil, err
		}
		if msg.Path == pathSpeechStartDetected {
			return []events.Event{events.NewSpeechStartDetected(id, ticks(payload.Offset))}, nil
		}
		return []events.Event{events.NewSpeechEndDetected(id, ticks(payload.Offset))}, nil

	case pathSpeechHypothesis, pathTranslationHypothesis:
		var payload hypothesisPayload
		if err := decodeBody(msg, &payload); err != nil {
			return nil, err
		}
		hypothesis := events.NewHypothesis(id, payload.Text, ticks(payload.Offset), ticks(payload.Duration)).
			WithTranslations(payload.Translation.translations())
		return []events.Event{hypothesis}, nil

	case pathSpeechPhrase, pathTranslationPhrase:
		var payload phrasePayload
		if err := decodeBody(msg, &payload); err != nil {
			return nil, err
		}
		return phraseEvents(id, msg.Path, payload)

	case pathTurnEnd:
		return []events.Event{events.NewTurnEnd(id)}, nil

	case pathTranslationSynthesis:
		if !frame.Binary {
			return nil, fmt.Errorf("%w: %s must be a binary message", events.ErrProtocolViolation, msg.Path)
		}
		return []events.Event{events.NewTranslationSynthesis(id, msg.Body)}, nil

	case pathTranslationSynthesisEnd:
		var payload synthesisEndPayload
		if err := decodeBody(msg, &payload); err != nil {
			return nil, err
		}
		if payload.SynthesisStatus == "Error" {
			err := fmt.Errorf("%w: synthesis failed: %s", events.ErrService, payload.FailureReason)
			return []events.Event{events.NewError(id, err), events.NewTranslationSynthesisEnd(id)}, nil
		}
		return []events.Event{events.NewTranslationSynthesisEnd(id)}, nil
	}

	logger.Debug("ignoring message", "path", msg.Path, "request_id", id)
	return nil, nil
}

func phraseEvents(requestID, path string, payload phrasePayload) ([]events.Event, error) {
	status := events.RecognitionStatus(payload.RecognitionStatus)
	switch status {
	case "":
		return nil, fmt.Errorf("%w: %s has no recognition status", events.ErrProtocolViolation, path)
	case events.StatusEndOfDictation:
		return nil, nil
	case events.StatusError:
		return []events.Event{events.NewCanceled(requestID, events.ReasonServiceError, "recognition failed")}, nil
	}

	phrase := events.NewPhrase(requestID, status, payload.text(), ticks(payload.Offset), ticks(payload.Duration)).
		WithConfidence(payload.confidence()).
		WithTranslations(payload.Translation.translations(), payload.Translation.failure())
	return []events.Event{phrase}, nil
}

func decodeBody(msg Message, v any) error {
	if len(msg.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Body, v); err != nil {
		return fmt.Errorf("%w: invalid %s body: %w", events.ErrProtocolViolation, msg.Path, err)
	}
	return nil
}
