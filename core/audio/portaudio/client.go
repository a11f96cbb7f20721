package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-speech/core/audio"
)

// Client is a full-duplex default-device stream of 16 kHz mono linear16.
// Stream blocks while capturing; SendAudio writes whole buffers to the
// speaker.
type Client struct {
	bufferSize int
	stream     *portaudio.Stream

	in  []int16
	out []int16

	writeMu  sync.Mutex
	leftover []byte
}

func NewClient(bufferSize int) (*Client, error) {
	if bufferSize <= 0 {
		return nil, fmt.Errorf("invalid buffer size %d", bufferSize)
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	in := make([]int16, bufferSize)
	out := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 1, audio.DefaultSampleRate, bufferSize, in, out)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to open portaudio stream: %w", err), portaudio.Terminate())
	}
	if err := stream.Start(); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to start portaudio stream: %w", err), stream.Close(), portaudio.Terminate())
	}

	return &Client{
		bufferSize: bufferSize,
		stream:     stream,
		in:         in,
		out:        out,
	}, nil
}

// Stream delivers microphone audio until ctx is done.
func (c *Client) Stream(ctx context.Context, onAudio func(audio []byte)) error {
	logger.Info("capturing microphone audio")
	chunk := make([]byte, c.bufferSize*2)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := c.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				logger.Warn("microphone input overflowed", "error", err)
				continue
			}
			return fmt.Errorf("failed to read microphone: %w", err)
		}
		encodeSamples(chunk, c.in)
		onAudio(chunk)
	}
}

func (c *Client) Close() {
	if err := c.stream.Close(); err != nil {
		logger.Warn("failed to close portaudio stream", "error", err)
	}
	if err := portaudio.Terminate(); err != nil {
		logger.Warn("failed to terminate portaudio", "error", err)
	}
}

// SendAudio plays every whole buffer of audio and keeps the remainder for the
// next call.
func (c *Client) SendAudio(audio []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var buffers [][]byte
	buffers, c.leftover = splitBuffers(append(c.leftover, audio...), c.bufferSize*2)
	for _, buffer := range buffers {
		decodeSamples(c.out, buffer)
		if err := c.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return fmt.Errorf("failed to play audio: %w", err)
		}
	}
	return nil
}

func (c *Client) ClearBuffer() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.leftover = nil
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingLinear16,
		Channels:   1,
	}
}

// splitBuffers cuts audio into whole buffers of size bytes and returns the
// rest separately.
func splitBuffers(audio []byte, size int) (buffers [][]byte, rest []byte) {
	for len(audio) >= size {
		buffers = append(buffers, audio[:size])
		audio = audio[size:]
	}
	if len(audio) > 0 {
		rest = append([]byte(nil), audio...)
	}
	return buffers, rest
}

func encodeSamples(dst []byte, samples []int16) {
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(sample))
	}
}

func decodeSamples(dst []int16, data []byte) {
	for i := range dst {
		if 2*i+1 >= len(data) {
			dst[i] = 0
			continue
		}
		dst[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
}
