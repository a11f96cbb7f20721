package protocol

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-speech/core/events"
)

// Frame is one transport message.
type Frame struct {
	Binary bool
	Data   []byte
}

func (f Frame) messageType() int {
	if f.Binary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// Dialect translates between the turn event model and a service's wire
// format. Decode is only ever called from the receive goroutine.
type Dialect interface {
	// Endpoint resolves the URL and handshake headers of a connection.
	Endpoint(cfg Config, connectionID string, synthesis bool) (string, http.Header, error)
	// Preamble returns the frames sent right after the transport is up.
	Preamble(cfg Config) ([]Frame, error)
	// BeginTurn returns the frames that open a turn request.
	BeginTurn(cfg Config, requestID string) ([]Frame, error)
	// Audio frames a chunk of the request's audio. first is set on the first
	// chunk sent for the request on the current connection.
	Audio(cfg Config, requestID string, chunk []byte, first bool) (Frame, error)
	// EndOfAudio marks the end of the request's audio.
	EndOfAudio(requestID string) (Frame, error)
	Decode(frame Frame) ([]events.Event, error)
}
