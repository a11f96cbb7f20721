package recognition

import (
	"context"
	"time"

	"github.com/koscakluka/ema-speech/core/audio"
	"github.com/koscakluka/ema-speech/core/protocol"
)

const (
	DefaultHighWaterMark = 10 * time.Second
	sendRetryBackoff     = 100 * time.Millisecond
)

type AudioInput interface {
	EncodingInfo() audio.EncodingInfo
	// Stream starts delivering captured audio to onAudio. It may return
	// immediately or block until ctx is done.
	Stream(ctx context.Context, onAudio func(audio []byte)) error
	Close()
}

// AudioInputFine is implemented by inputs that can pause capture without
// being closed.
type AudioInputFine interface {
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
}

type AudioOutput interface {
	EncodingInfo() audio.EncodingInfo
	SendAudio(audio []byte) error
	ClearBuffer()
}

// TokenSource issues authorization tokens. auth.Issuer is one.
type TokenSource interface {
	IssueToken(ctx context.Context) (string, error)
}

type sessionOptions struct {
	dialer  protocol.Dialer
	dialect protocol.Dialect

	encodingInfo    audio.EncodingInfo
	highWaterMark   time.Duration
	deliveryTimeout time.Duration
	connectTimeout  time.Duration
	shutdownGrace   time.Duration

	audioInput      AudioInput
	synthesisOutput AudioOutput
	tokenSource     TokenSource
}

type SessionOption func(*sessionOptions)

func WithDialer(dialer protocol.Dialer) SessionOption {
	return func(o *sessionOptions) {
		o.dialer = dialer
	}
}

// WithDialect replaces the default Speech service protocol, e.g. with
// deepgram.New().
func WithDialect(dialect protocol.Dialect) SessionOption {
	return func(o *sessionOptions) {
		o.dialect = dialect
	}
}

// WithEncodingInfo describes pushed audio. It defaults to the audio input's
// encoding, or 16 kHz mono linear16 without one.
func WithEncodingInfo(encodingInfo audio.EncodingInfo) SessionOption {
	return func(o *sessionOptions) {
		o.encodingInfo = encodingInfo
	}
}

// WithHighWaterMark bounds how much unsent audio PushAudio buffers before it
// blocks.
func WithHighWaterMark(d time.Duration) SessionOption {
	return func(o *sessionOptions) {
		o.highWaterMark = d
	}
}

func WithDeliveryTimeout(d time.Duration) SessionOption {
	return func(o *sessionOptions) {
		o.deliveryTimeout = d
	}
}

func WithConnectTimeout(d time.Duration) SessionOption {
	return func(o *sessionOptions) {
		o.connectTimeout = d
	}
}

// WithShutdownGrace bounds how long stopping waits for the final turn end.
func WithShutdownGrace(d time.Duration) SessionOption {
	return func(o *sessionOptions) {
		o.shutdownGrace = d
	}
}

func WithAudioInput(input AudioInput) SessionOption {
	return func(o *sessionOptions) {
		o.audioInput = input
	}
}

// WithSynthesisOutput plays synthesized translation audio. It only applies to
// translation recognizers.
func WithSynthesisOutput(output AudioOutput) SessionOption {
	return func(o *sessionOptions) {
		o.synthesisOutput = output
	}
}

// WithTokenSource refreshes the authorization token before every connect.
func WithTokenSource(source TokenSource) SessionOption {
	return func(o *sessionOptions) {
		o.tokenSource = source
	}
}

func defaultSessionOptions() sessionOptions {
	return sessionOptions{
		highWaterMark:   DefaultHighWaterMark,
		deliveryTimeout: DefaultDeliveryTimeout,
		connectTimeout:  protocol.DefaultConnectTimeout,
		shutdownGrace:   protocol.DefaultShutdownGrace,
	}
}
