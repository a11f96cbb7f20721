package recognition

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-speech/core/audio"
	"github.com/koscakluka/ema-speech/core/events"
)

type testAudioInputClient struct {
	closed atomic.Int32
}

func (*testAudioInputClient) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}

func (*testAudioInputClient) Stream(context.Context, func([]byte)) error { return nil }

func (c *testAudioInputClient) Close() { c.closed.Add(1) }

type testStreamingAudioInputClient struct {
	testAudioInputClient
	chunks      [][]byte
	streamCalls atomic.Int32
}

func (c *testStreamingAudioInputClient) Stream(_ context.Context, onAudio func([]byte)) error {
	c.streamCalls.Add(1)
	for _, chunk := range c.chunks {
		onAudio(chunk)
	}
	return nil
}

type testFineAudioInputClient struct {
	testAudioInputClient
	startCaptureCalls atomic.Int32
	stopCaptureCalls  atomic.Int32
}

func (c *testFineAudioInputClient) StartCapture(context.Context, func([]byte)) error {
	c.startCaptureCalls.Add(1)
	return nil
}

func (c *testFineAudioInputClient) StopCapture() error {
	c.stopCaptureCalls.Add(1)
	return nil
}

func TestAudioInputFacadeUsesDefaultEncodingInfoWhenUnset(t *testing.T) {
	facade := newAudioInput(nil, nil)

	if facade.IsConfigured() {
		t.Fatalf("expected unset facade to be unconfigured")
	}
	if got, want := facade.EncodingInfo(), audio.GetDefaultEncodingInfo(); got != want {
		t.Fatalf("expected default encoding info %+v, got %+v", want, got)
	}
	if err := facade.Stream(context.Background()); err != nil {
		t.Fatalf("expected streaming an unset facade to be a noop, got %v", err)
	}
}

func TestAudioInputFacadeForwardsInputAudio(t *testing.T) {
	inputClient := &testStreamingAudioInputClient{chunks: [][]byte{{0x01}, {0x02}}}
	var forwarded atomic.Int32
	facade := newAudioInput(inputClient, func([]byte) { forwarded.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- facade.Stream(ctx) }()

	deadline := time.Now().Add(time.Second)
	for forwarded.Load() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 forwarded chunks, got %d", forwarded.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !facade.IsCapturing() {
		t.Fatalf("expected the facade to be capturing")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected stream to stop cleanly, got %v", err)
	}
	if inputClient.streamCalls.Load() != 1 {
		t.Fatalf("expected one stream call, got %d", inputClient.streamCalls.Load())
	}
}

func TestAudioInputFacadeUsesCaptureControls(t *testing.T) {
	inputClient := &testFineAudioInputClient{}
	facade := newAudioInput(inputClient, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := facade.Stream(ctx); err != nil {
		t.Fatalf("expected stream to succeed, got %v", err)
	}

	if inputClient.startCaptureCalls.Load() != 1 || inputClient.stopCaptureCalls.Load() != 1 {
		t.Fatalf("expected one start and one stop, got %d and %d",
			inputClient.startCaptureCalls.Load(), inputClient.stopCaptureCalls.Load())
	}
}

func TestAudioInputFacadeCloseStopsForwarding(t *testing.T) {
	inputClient := &testAudioInputClient{}
	var forwarded atomic.Int32
	facade := newAudioInput(inputClient, func([]byte) { forwarded.Add(1) })

	if err := facade.Close(); err != nil {
		t.Fatalf("expected close to succeed, got %v", err)
	}
	_ = facade.Close()
	facade.onAudio([]byte{0x01})

	if forwarded.Load() != 0 {
		t.Fatalf("expected no audio after close, got %d chunks", forwarded.Load())
	}
	if inputClient.closed.Load() != 1 {
		t.Fatalf("expected the device to be closed once, got %d", inputClient.closed.Load())
	}
}

type testAudioOutputClient struct {
	mu      sync.Mutex
	sent    [][]byte
	cleared int
}

func (*testAudioOutputClient) EncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}

func (c *testAudioOutputClient) SendAudio(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, data)
	return nil
}

func (c *testAudioOutputClient) ClearBuffer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared++
}

func TestAudioOutputFacadeTreatsTypedNilAsUnconfigured(t *testing.T) {
	var outputClient *testAudioOutputClient

	facade := newAudioOutput(outputClient)
	if facade.isConfigured() {
		t.Fatalf("expected typed nil output client to be treated as unconfigured")
	}
	if err := facade.Play(events.NewTranslationSynthesis("r", []byte{1})); err != nil {
		t.Fatalf("expected playing on an unconfigured facade to be a noop, got %v", err)
	}
	facade.Clear()
}

func TestAudioOutputFacadePlay(t *testing.T) {
	testCases := []struct {
		name     string
		event    events.TranslationSynthesis
		expected []byte
	}{
		{
			name:     "strips the wav header",
			event:    events.NewTranslationSynthesis("r", append(audio.GetDefaultEncodingInfo().WAVHeader(), 1, 2)),
			expected: []byte{1, 2},
		},
		{
			name:     "raw samples",
			event:    events.NewTranslationSynthesis("r", []byte{3, 4}),
			expected: []byte{3, 4},
		},
		{
			name:  "end of synthesis",
			event: events.NewTranslationSynthesisEnd("r"),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			outputClient := &testAudioOutputClient{}
			facade := newAudioOutput(outputClient)

			if err := facade.Play(tc.event); err != nil {
				t.Fatalf("expected play to succeed, got %v", err)
			}

			if tc.expected == nil {
				if len(outputClient.sent) != 0 {
					t.Fatalf("expected nothing to be played, got %v", outputClient.sent)
				}
				return
			}
			if len(outputClient.sent) != 1 || string(outputClient.sent[0]) != string(tc.expected) {
				t.Fatalf("expected %v, got %v", tc.expected, outputClient.sent)
			}
		})
	}
}

func TestSessionRecognizesAudioInput(t *testing.T) {
	service := newFakeService()
	inputClient := &testStreamingAudioInputClient{chunks: [][]byte{speechChunk()}}
	r := newTestRecognizer(t, service, WithAudioInput(inputClient))
	ctx := testContext(t)

	future := r.RecognizeOnce(ctx)
	waitFor(t, "captured audio", func() bool { return len(service.requestIDs()) == 1 })
	r.CloseAudio()

	result, err := future.Get(ctx)
	if err != nil || result.Text != "hello world" {
		t.Fatalf("expected captured audio to be recognized, got %q (%v)", result.Text, err)
	}

	if err := r.Close(ctx); err != nil {
		t.Fatalf("expected a clean close, got %v", err)
	}
	if inputClient.closed.Load() != 1 {
		t.Fatalf("expected the input to be closed, got %d", inputClient.closed.Load())
	}
}
