package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/koscakluka/ema-speech/core/events"
)

const (
	headerPath        = "Path"
	headerRequestID   = "X-RequestId"
	headerTimestamp   = "X-Timestamp"
	headerContentType = "Content-Type"

	lineSeparator   = "\r\n"
	headerSeparator = "\r\n\r\n"
	timestampLayout = "2006-01-02T15:04:05.000Z"

	binaryHeaderPrefix = 2
)

// Message is a single service message: a header block and an optional body.
type Message struct {
	Path        string
	RequestID   string
	ContentType string
	Timestamp   time.Time
	Body        []byte
}

func (m Message) headerBlock() string {
	var sb strings.Builder
	writeHeader := func(name, value string) {
		if value != "" {
			sb.WriteString(name)
			sb.WriteString(": ")
			sb.WriteString(value)
			sb.WriteString(lineSeparator)
		}
	}

	writeHeader(headerPath, m.Path)
	writeHeader(headerRequestID, m.RequestID)
	if !m.Timestamp.IsZero() {
		writeHeader(headerTimestamp, m.Timestamp.UTC().Format(timestampLayout))
	}
	writeHeader(headerContentType, m.ContentType)
	return sb.String()
}

// EncodeText renders m as a text frame: headers, a blank line and the body.
func EncodeText(m Message) []byte {
	headers := m.headerBlock()
	buf := make([]byte, 0, len(headers)+len(lineSeparator)+len(m.Body))
	buf = append(buf, headers...)
	buf = append(buf, lineSeparator...)
	return append(buf, m.Body...)
}

// EncodeBinary renders m as a binary frame: a big-endian header length,
// the headers and the raw body.
func EncodeBinary(m Message) ([]byte, error) {
	headers := m.headerBlock()
	if len(headers) > math.MaxUint16 {
		return nil, fmt.Errorf("header block of %d bytes does not fit a binary frame", len(headers))
	}

	buf := make([]byte, binaryHeaderPrefix, binaryHeaderPrefix+len(headers)+len(m.Body))
	binary.BigEndian.PutUint16(buf, uint16(len(headers)))
	buf = append(buf, headers...)
	return append(buf, m.Body...), nil
}

func DecodeText(data []byte) (Message, error) {
	idx := bytes.Index(data, []byte(headerSeparator))
	if idx < 0 {
		return Message{}, fmt.Errorf("%w: text frame has no header terminator", events.ErrProtocolViolation)
	}

	m, err := parseHeaders(string(data[:idx]))
	if err != nil {
		return Message{}, err
	}
	m.Body = data[idx+len(headerSeparator):]
	return m, nil
}

func DecodeBinary(data []byte) (Message, error) {
	if len(data) < binaryHeaderPrefix {
		return Message{}, fmt.Errorf("%w: binary frame of %d bytes is too short", events.ErrProtocolViolation, len(data))
	}

	headerLength := int(binary.BigEndian.Uint16(data[:binaryHeaderPrefix]))
	if binaryHeaderPrefix+headerLength > len(data) {
		return Message{}, fmt.Errorf("%w: binary frame header length %d exceeds frame", events.ErrProtocolViolation, headerLength)
	}

	m, err := parseHeaders(string(data[binaryHeaderPrefix : binaryHeaderPrefix+headerLength]))
	if err != nil {
		return Message{}, err
	}
	m.Body = data[binaryHeaderPrefix+headerLength:]
	return m, nil
}

func parseHeaders(block string) (Message, error) {
	var m Message
	for _, line := range strings.Split(block, lineSeparator) {
		if line == "" {
			continue
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return Message{}, fmt.Errorf("%w: malformed header line %q", events.ErrProtocolViolation, line)
		}
		name, value = strings.TrimSpace(name), strings.TrimSpace(value)

		switch {
		case strings.EqualFold(name, headerPath):
			m.Path = value
		case strings.EqualFold(name, headerRequestID):
			m.RequestID = value
		case strings.EqualFold(name, headerContentType):
			m.ContentType = value
		case strings.EqualFold(name, headerTimestamp):
			// The service is not strict about the precision it sends.
			if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
				m.Timestamp = ts
			}
		}
	}

	if m.Path == "" {
		return Message{}, fmt.Errorf("%w: message has no path", events.ErrProtocolViolation)
	}
	return m, nil
}
