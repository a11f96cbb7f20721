package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/ema-speech/core/events"
)

const (
	defaultFrameDuration = 100 * time.Millisecond
	defaultBufferedAudio = 10 * time.Second
)

// DrainStatus tells the sender what a Drain call produced.
type DrainStatus int

const (
	FrameReady DrainStatus = iota
	// Empty means no audio is ready yet; more may follow.
	Empty
	// EndOfStream means input was closed and every byte was drained.
	EndOfStream
)

func (s DrainStatus) String() string {
	switch s {
	case FrameReady:
		return "frame_ready"
	case Empty:
		return "empty"
	case EndOfStream:
		return "end_of_stream"
	}
	return "unknown"
}

// Chunk is a pushed span of audio. Seq increases by one per push.
type Chunk struct {
	Seq  uint64
	Data []byte
}

// Frame is a slice of buffered audio handed to the sender. Seq is the
// sequence number of the first chunk it draws from.
type Frame struct {
	Seq  uint64
	Data []byte
}

// IngestBuffer stages audio between a single producer and a single sender.
// Pushes block once the buffered audio reaches the high-water mark.
type IngestBuffer struct {
	mu sync.Mutex

	chunks []Chunk
	// head is the read offset into chunks[0].
	head int
	size int

	highWaterMark int
	frameSize     int
	nextSeq       uint64

	closed   bool
	shutdown bool

	readySignal chan struct{}
	spaceSignal chan struct{}
	done        chan struct{}
}

type IngestOption func(*IngestBuffer)

// WithHighWaterMark sets how many bytes may be buffered before Push blocks.
func WithHighWaterMark(bytes int) IngestOption {
	return func(b *IngestBuffer) {
		if bytes > 0 {
			b.highWaterMark = bytes
		}
	}
}

// WithFrameSize sets the maximum size of drained frames.
func WithFrameSize(bytes int) IngestOption {
	return func(b *IngestBuffer) {
		if bytes > 0 {
			b.frameSize = bytes
		}
	}
}

func NewIngestBuffer(encodingInfo EncodingInfo, opts ...IngestOption) *IngestBuffer {
	if encodingInfo.IsZero() {
		encodingInfo = GetDefaultEncodingInfo()
	}

	b := &IngestBuffer{
		highWaterMark: encodingInfo.BytesFor(defaultBufferedAudio),
		frameSize:     encodingInfo.BytesFor(defaultFrameDuration),
		readySignal:   make(chan struct{}, 1),
		spaceSignal:   make(chan struct{}, 1),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Push enqueues a copy of chunk. It blocks while the buffer is above its
// high-water mark and fails once the buffer is closed or shut down.
func (b *IngestBuffer) Push(chunk []byte) error {
	data := make([]byte, len(chunk))
	copy(data, chunk)

	for {
		b.mu.Lock()
		if b.shutdown {
			b.mu.Unlock()
			return fmt.Errorf("failed to push audio: %w", &events.CanceledError{Reason: events.ReasonShutdown})
		} else if b.closed {
			b.mu.Unlock()
			return fmt.Errorf("failed to push audio: %w", events.ErrStreamClosed)
		}

		if len(data) == 0 {
			b.mu.Unlock()
			return nil
		}

		// An empty buffer always admits a chunk, otherwise chunks larger than
		// the mark could never be pushed.
		if b.size == 0 || b.size+len(data) <= b.highWaterMark {
			b.chunks = append(b.chunks, Chunk{Seq: b.nextSeq, Data: data})
			b.nextSeq++
			b.size += len(data)
			b.mu.Unlock()
			signal(b.readySignal)
			return nil
		}
		b.mu.Unlock()

		select {
		case <-b.spaceSignal:
		case <-b.done:
		}
	}
}

// Write implements io.Writer on top of Push.
func (b *IngestBuffer) Write(p []byte) (int, error) {
	if err := b.Push(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Drain returns the next frame of at most the configured frame size.
func (b *IngestBuffer) Drain() (Frame, DrainStatus) {
	b.mu.Lock()
	if b.size == 0 {
		ended := b.closed || b.shutdown
		b.mu.Unlock()
		if ended {
			return Frame{}, EndOfStream
		}
		return Frame{}, Empty
	}

	n := min(b.frameSize, b.size)
	frame := Frame{Seq: b.chunks[0].Seq, Data: make([]byte, 0, n)}
	for len(frame.Data) < n {
		rest := b.chunks[0].Data[b.head:]
		take := min(len(rest), n-len(frame.Data))
		frame.Data = append(frame.Data, rest[:take]...)
		b.head += take
		if b.head == len(b.chunks[0].Data) {
			b.chunks[0] = Chunk{}
			b.chunks = b.chunks[1:]
			b.head = 0
		}
	}
	b.size -= n
	b.mu.Unlock()

	signal(b.spaceSignal)
	return frame, FrameReady
}

// Ready is signalled whenever audio arrives or the input ends.
func (b *IngestBuffer) Ready() <-chan struct{} {
	return b.readySignal
}

// Len returns the number of buffered bytes.
func (b *IngestBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Close marks the end of input. Buffered audio stays drainable.
func (b *IngestBuffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	signal(b.readySignal)
}

// Exhausted reports whether input was closed and fully drained.
func (b *IngestBuffer) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return (b.closed || b.shutdown) && b.size == 0
}

// Shutdown discards buffered audio and releases a blocked producer.
func (b *IngestBuffer) Shutdown() {
	b.mu.Lock()
	if b.shutdown {
		b.mu.Unlock()
		return
	}
	b.shutdown = true
	b.chunks = nil
	b.head = 0
	b.size = 0
	close(b.done)
	b.mu.Unlock()
	signal(b.readySignal)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
