package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/koscakluka/ema-speech/core/events"
)

func TestEncodeTextRendersHeadersThenBody(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 15, 250*int(time.Millisecond), time.UTC)
	data := EncodeText(Message{
		Path:        "speech.config",
		ContentType: "application/json",
		Timestamp:   ts,
		Body:        []byte(`{"a":1}`),
	})

	expected := "Path: speech.config\r\n" +
		"X-Timestamp: 2024-03-01T12:30:15.250Z\r\n" +
		"Content-Type: application/json\r\n" +
		"\r\n" +
		`{"a":1}`
	if string(data) != expected {
		t.Fatalf("expected %q, got %q", expected, data)
	}
}

func TestBinaryFrameRoundTripPreservesBody(t *testing.T) {
	body := []byte{0, 1, 2, 255}
	data, err := EncodeBinary(Message{Path: "audio", RequestID: "abc", Body: body})
	if err != nil {
		t.Fatalf("expected frame, got %v", err)
	}

	headerLength := int(data[0])<<8 | int(data[1])
	if !strings.HasPrefix(string(data[2:2+headerLength]), "Path: audio\r\n") {
		t.Fatalf("expected headers to follow the length prefix, got %q", data[2:2+headerLength])
	}

	msg, err := DecodeBinary(data)
	if err != nil {
		t.Fatalf("expected frame to decode, got %v", err)
	}
	if msg.Path != "audio" || msg.RequestID != "abc" {
		t.Fatalf("expected audio/abc, got %s/%s", msg.Path, msg.RequestID)
	}
	if !bytes.Equal(msg.Body, body) {
		t.Fatalf("expected body %v, got %v", body, msg.Body)
	}
}

func TestEncodeBinaryRejectsOversizedHeaders(t *testing.T) {
	_, err := EncodeBinary(Message{Path: strings.Repeat("p", 1<<16)})
	if err == nil {
		t.Fatalf("expected oversized header block to be rejected")
	}
}

func TestDecodeTextMatchesHeadersCaseInsensitively(t *testing.T) {
	msg, err := DecodeText([]byte("path: turn.start\r\nx-requestid: ABC\r\n\r\n{}"))
	if err != nil {
		t.Fatalf("expected message, got %v", err)
	}
	if msg.Path != "turn.start" || msg.RequestID != "ABC" {
		t.Fatalf("expected turn.start/ABC, got %s/%s", msg.Path, msg.RequestID)
	}
	if string(msg.Body) != "{}" {
		t.Fatalf("expected body {}, got %q", msg.Body)
	}
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	testCases := []struct {
		name   string
		decode func() error
	}{
		{
			name: "text without terminator",
			decode: func() error {
				_, err := DecodeText([]byte("Path: turn.start\r\n"))
				return err
			},
		},
		{
			name: "text without path",
			decode: func() error {
				_, err := DecodeText([]byte("X-RequestId: a\r\n\r\n"))
				return err
			},
		},
		{
			name: "malformed header line",
			decode: func() error {
				_, err := DecodeText([]byte("Path turn.start\r\n\r\n"))
				return err
			},
		},
		{
			name: "binary too short",
			decode: func() error {
				_, err := DecodeBinary([]byte{0})
				return err
			},
		},
		{
			name: "binary header overruns frame",
			decode: func() error {
				_, err := DecodeBinary([]byte{0, 50, 'P'})
				return err
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.decode(); !errors.Is(err, events.ErrProtocolViolation) {
				t.Fatalf("expected protocol violation, got %v", err)
			}
		})
	}
}
