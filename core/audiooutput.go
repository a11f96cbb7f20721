package recognition

import (
	"fmt"
	"reflect"

	"github.com/koscakluka/ema-speech/core/audio"
	"github.com/koscakluka/ema-speech/core/events"
)

// audioOutput plays synthesized translation audio on a configured device.
type audioOutput struct {
	base AudioOutput
}

// newAudioOutput treats nil and typed-nil clients as unconfigured.
func newAudioOutput(client AudioOutput) *audioOutput {
	if isNilAudioOutput(client) {
		return &audioOutput{}
	}
	return &audioOutput{base: client}
}

func (a *audioOutput) isConfigured() bool {
	return a != nil && a.base != nil
}

// Play forwards a synthesis chunk with its container header stripped.
func (a *audioOutput) Play(ev events.TranslationSynthesis) error {
	if !a.isConfigured() {
		return nil
	}
	if ev.End {
		return nil
	}

	pcm := audio.StripWAVHeader(ev.Audio)
	if len(pcm) == 0 {
		return nil
	}
	if err := a.base.SendAudio(pcm); err != nil {
		return fmt.Errorf("failed to play synthesized audio: %w", err)
	}
	return nil
}

// Clear drops audio that has not been played yet.
func (a *audioOutput) Clear() {
	if a.isConfigured() {
		a.base.ClearBuffer()
	}
}

func isNilAudioOutput(client AudioOutput) bool {
	if client == nil {
		return true
	}

	v := reflect.ValueOf(client)
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}
