package recognition

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/koscakluka/ema-speech/core/audio"
)

// audioInput normalizes capture devices behind one facade feeding the
// session's ingest buffer.
type audioInput struct {
	// base stores the configured input client used for streaming audio.
	base AudioInput
	// fine is set when the input client supports explicit capture controls.
	fine AudioInputFine

	isCapturing atomic.Bool
	closed      atomic.Bool

	onInputAudio func(audio []byte)
}

func newAudioInput(client AudioInput, onInputAudio func(audio []byte)) *audioInput {
	if onInputAudio == nil {
		onInputAudio = func([]byte) {}
	}

	a := &audioInput{base: client, onInputAudio: onInputAudio}
	if fine, ok := client.(AudioInputFine); ok {
		a.fine = fine
	}
	return a
}

func (a *audioInput) IsConfigured() bool { return a != nil && a.base != nil }
func (a *audioInput) IsCapturing() bool  { return a != nil && a.isCapturing.Load() }

// Stream captures until ctx is done.
func (a *audioInput) Stream(ctx context.Context) error {
	if !a.IsConfigured() || !a.isCapturing.CompareAndSwap(false, true) {
		return nil
	}
	defer a.isCapturing.Store(false)

	var err error
	if a.fine != nil {
		err = a.fine.StartCapture(ctx, a.onAudio)
	} else {
		err = a.base.Stream(ctx, a.onAudio)
	}
	if err != nil {
		return fmt.Errorf("failed to start audio input: %w", err)
	}

	<-ctx.Done()
	if a.fine != nil {
		if err := a.fine.StopCapture(); err != nil {
			return fmt.Errorf("failed to stop audio input: %w", err)
		}
	}
	return nil
}

func (a *audioInput) onAudio(audio []byte) {
	if a.closed.Load() {
		return
	}
	a.onInputAudio(audio)
}

// Close stops forwarding audio and releases the device.
func (a *audioInput) Close() error {
	if !a.IsConfigured() || !a.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if a.fine != nil && a.isCapturing.Load() {
		err = a.fine.StopCapture()
	}
	a.base.Close()
	return err
}

func (a *audioInput) EncodingInfo() audio.EncodingInfo {
	if !a.IsConfigured() {
		return audio.GetDefaultEncodingInfo()
	}
	return a.base.EncodingInfo()
}
