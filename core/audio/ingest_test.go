package audio

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/koscakluka/ema-speech/core/events"
)

func TestIngestBufferDrainsFramesInPushOrder(t *testing.T) {
	buffer := NewIngestBuffer(GetDefaultEncodingInfo(), WithFrameSize(4))

	for _, chunk := range [][]byte{{1, 2, 3}, {4, 5}, {6, 7, 8, 9, 10}} {
		if err := buffer.Push(chunk); err != nil {
			t.Fatalf("expected push to succeed, got %v", err)
		}
	}

	expected := [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}, {9, 10}}
	expectedSeq := []uint64{0, 1, 2}
	for i := range expected {
		frame, status := buffer.Drain()
		if status != FrameReady {
			t.Fatalf("expected frame %d to be ready, got %s", i, status)
		}
		if !bytes.Equal(frame.Data, expected[i]) {
			t.Fatalf("expected frame %d to be %v, got %v", i, expected[i], frame.Data)
		}
		if frame.Seq != expectedSeq[i] {
			t.Fatalf("expected frame %d to start at chunk %d, got %d", i, expectedSeq[i], frame.Seq)
		}
	}

	if _, status := buffer.Drain(); status != Empty {
		t.Fatalf("expected drained open buffer to be empty, got %s", status)
	}
}

func TestIngestBufferPushCopiesChunk(t *testing.T) {
	buffer := NewIngestBuffer(GetDefaultEncodingInfo())
	chunk := []byte{1, 2}
	if err := buffer.Push(chunk); err != nil {
		t.Fatalf("expected push to succeed, got %v", err)
	}
	chunk[0] = 9

	frame, _ := buffer.Drain()
	if frame.Data[0] != 1 {
		t.Fatalf("expected buffered audio to be unaffected by caller writes, got %v", frame.Data)
	}
}

func TestIngestBufferCloseDistinguishesEndOfStream(t *testing.T) {
	buffer := NewIngestBuffer(GetDefaultEncodingInfo())
	if err := buffer.Push([]byte{1}); err != nil {
		t.Fatalf("expected push to succeed, got %v", err)
	}
	buffer.Close()
	buffer.Close()

	if _, status := buffer.Drain(); status != FrameReady {
		t.Fatalf("expected buffered audio to survive close, got %s", status)
	}
	if _, status := buffer.Drain(); status != EndOfStream {
		t.Fatalf("expected end of stream after draining closed buffer, got %s", status)
	}
	if !buffer.Exhausted() {
		t.Fatalf("expected closed and drained buffer to be exhausted")
	}

	if err := buffer.Push([]byte{2}); !errors.Is(err, events.ErrStreamClosed) {
		t.Fatalf("expected push after close to fail with stream closed, got %v", err)
	}
}

func TestIngestBufferBlocksAboveHighWaterMark(t *testing.T) {
	buffer := NewIngestBuffer(GetDefaultEncodingInfo(), WithHighWaterMark(4), WithFrameSize(4))
	if err := buffer.Push([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("expected push to succeed, got %v", err)
	}
	if got := buffer.Len(); got != 4 {
		t.Fatalf("expected 4 buffered bytes, got %d", got)
	}

	pushed := make(chan error, 1)
	go func() { pushed <- buffer.Push([]byte{5}) }()

	select {
	case err := <-pushed:
		t.Fatalf("expected push above high-water mark to block, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if _, status := buffer.Drain(); status != FrameReady {
		t.Fatalf("expected frame to be ready, got %s", status)
	}

	select {
	case err := <-pushed:
		if err != nil {
			t.Fatalf("expected blocked push to succeed after drain, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected blocked push to resume after drain")
	}
	if got := buffer.Len(); got != 1 {
		t.Fatalf("expected only the resumed chunk to be buffered, got %d bytes", got)
	}
}

func TestIngestBufferShutdownReleasesBlockedProducer(t *testing.T) {
	buffer := NewIngestBuffer(GetDefaultEncodingInfo(), WithHighWaterMark(2))
	if err := buffer.Push([]byte{1, 2}); err != nil {
		t.Fatalf("expected push to succeed, got %v", err)
	}

	pushed := make(chan error, 1)
	go func() { pushed <- buffer.Push([]byte{3}) }()
	time.Sleep(20 * time.Millisecond)
	buffer.Shutdown()

	select {
	case err := <-pushed:
		if !errors.Is(err, events.ErrCanceled) {
			t.Fatalf("expected blocked push to fail with canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected shutdown to release the blocked producer")
	}

	if _, status := buffer.Drain(); status != EndOfStream {
		t.Fatalf("expected shut down buffer to report end of stream, got %s", status)
	}
}

func TestIngestBufferAdmitsOversizedChunkWhenEmpty(t *testing.T) {
	buffer := NewIngestBuffer(GetDefaultEncodingInfo(), WithHighWaterMark(2))

	done := make(chan error, 1)
	go func() { done <- buffer.Push([]byte{1, 2, 3, 4}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected oversized push into empty buffer to succeed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected oversized push into empty buffer not to block")
	}
}
