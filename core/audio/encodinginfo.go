package audio

import (
	"encoding/binary"
	"time"
)

const (
	DefaultSampleRate = 16000
	DefaultFormat     = "linear16"
	DefaultChannels   = 1
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{
		SampleRate: DefaultSampleRate,
		Format:     encodingFormat(DefaultFormat),
		Channels:   DefaultChannels,
	}
}

type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
	Channels   int
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

func (e EncodingInfo) channels() int {
	if e.Channels <= 0 {
		return 1
	}
	return e.Channels
}

// BytesPerSecond is the data rate of the stream, 0 for unknown formats.
func (e EncodingInfo) BytesPerSecond() int {
	if e.Format.ByteSize() <= 0 {
		return 0
	}
	return e.SampleRate * e.Format.ByteSize() * e.channels()
}

// BytesFor returns the number of bytes that hold d worth of audio, aligned
// to whole sample frames.
func (e EncodingInfo) BytesFor(d time.Duration) int {
	frameSize := e.Format.ByteSize() * e.channels()
	if frameSize <= 0 {
		return 0
	}
	frames := int(float64(d) / float64(time.Second) * float64(e.SampleRate))
	return frames * frameSize
}

// Duration returns how long n bytes of audio play for.
func (e EncodingInfo) Duration(n int) time.Duration {
	bytesPerSecond := e.BytesPerSecond()
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(bytesPerSecond) * float64(time.Second))
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case encodingFormat("mulaw"), encodingFormat("alaw"):
		return 1
	case encodingFormat("linear16"):
		return 2
	}
	return -1
}

// waveFormatTag is the RIFF format code of the encoding.
func (e encodingFormat) waveFormatTag() uint16 {
	switch e {
	case EncodingALaw:
		return 6
	case EncodingMulaw:
		return 7
	}
	return 1
}

const (
	EncodingMulaw    encodingFormat = "mulaw"
	EncodingALaw     encodingFormat = "alaw"
	EncodingLinear16 encodingFormat = "linear16"
)

const wavHeaderSize = 44

// WAVHeader returns a streaming RIFF header for the encoding. Data sizes are
// left at zero because the length of a live stream is not known upfront.
func (e EncodingInfo) WAVHeader() []byte {
	header := make([]byte, wavHeaderSize)
	channels := uint16(e.channels())
	bitsPerSample := uint16(e.Format.ByteSize() * 8)

	copy(header[0:4], "RIFF")
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], e.Format.waveFormatTag())
	binary.LittleEndian.PutUint16(header[22:24], channels)
	binary.LittleEndian.PutUint32(header[24:28], uint32(e.SampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(e.BytesPerSecond()))
	binary.LittleEndian.PutUint16(header[32:34], channels*bitsPerSample/8)
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	return header
}

// StripWAVHeader returns the sample data of a RIFF buffer. Buffers without a
// RIFF header are returned unchanged.
func StripWAVHeader(b []byte) []byte {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return b
	}

	offset := 12
	for offset+8 <= len(b) {
		chunkID := string(b[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(b[offset+4 : offset+8]))
		offset += 8
		if chunkID == "data" {
			return b[offset:]
		}
		offset += chunkSize + chunkSize%2
	}
	return nil
}
