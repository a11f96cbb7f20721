package miniaudio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-speech/core/audio"
)

// Client captures the default microphone and plays synthesized speech on the
// default speaker. Both devices share one encoding.
type Client struct {
	// audioContext is only kept so it can be uninitialized, the devices do
	// not own it.
	audioContext *malgo.AllocatedContext
	encodingInfo audio.EncodingInfo

	playbackClient
	captureClient
}

type Option func(*Client)

// WithEncodingInfo sets the device encoding. Only linear16 is supported.
func WithEncodingInfo(encodingInfo audio.EncodingInfo) Option {
	return func(c *Client) {
		c.encodingInfo = encodingInfo
	}
}

func NewClient(opts ...Option) (*Client, error) {
	client := &Client{encodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(client)
	}
	if client.encodingInfo.Format != audio.EncodingLinear16 {
		return nil, fmt.Errorf("unsupported device encoding %s", client.encodingInfo.Format.Name())
	}
	if client.encodingInfo.Channels <= 0 {
		client.encodingInfo.Channels = 1
	}

	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	client.audioContext = audioCtx

	if err := client.playbackClient.Init(audioCtx, client.encodingInfo); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback client: %w", err)
	}
	if err := client.playbackClient.Start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}
	if err := client.captureClient.Init(audioCtx, client.encodingInfo); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize capture client: %w", err)
	}

	logger.Info("audio devices ready", "sample_rate", client.encodingInfo.SampleRate, "channels", client.encodingInfo.Channels)
	return client, nil
}

// Stream starts capturing and returns; captured audio is delivered from the
// device callback until StopCapture or Close.
func (c *Client) Stream(_ context.Context, onAudio func(audio []byte)) error {
	return c.captureClient.Start(onAudio)
}

func (c *Client) StartCapture(_ context.Context, onAudio func(audio []byte)) error {
	return c.captureClient.Start(onAudio)
}

func (c *Client) StopCapture() error {
	return c.captureClient.Stop()
}

func (c *Client) Close() {
	if err := c.captureClient.Uninit(); err != nil {
		logger.Warn("failed to release capture device", "error", err)
	}
	if err := c.playbackClient.Uninit(); err != nil {
		logger.Warn("failed to release playback device", "error", err)
	}
	if c.audioContext != nil {
		_ = c.audioContext.Uninit()
		c.audioContext.Free()
		c.audioContext = nil
	}
}

func (c *Client) SendAudio(audio []byte) error {
	return c.playbackClient.SendAudio(audio)
}

func (c *Client) ClearBuffer() {
	c.playbackClient.ClearBuffer()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encodingInfo
}
