package protocol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-speech/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Closing
	Closed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// ErrNoActiveTurn is returned when audio is sent outside of an open turn.
var ErrNoActiveTurn = errors.New("no active turn")

const defaultEventBuffer = 64

// request tracks the audio side of one turn request.
type request struct {
	id string

	// audioStarted is reset on reconnect so the next chunk carries the
	// dialect's stream header again.
	audioStarted bool
	audioSent    bool
	ended        bool

	finished   chan struct{}
	finishOnce sync.Once
}

func newRequest(id string) *request {
	return &request{id: id, finished: make(chan struct{})}
}

func (r *request) finish() {
	r.finishOnce.Do(func() { close(r.finished) })
}

// Client owns one service connection. Inbound messages are decoded on a
// dedicated goroutine and delivered in arrival order on Events.
type Client struct {
	dialect Dialect
	dialer  Dialer

	mu           sync.Mutex
	cfg          Config
	configured   bool
	transport    Transport
	connectionID string
	readerDone   chan struct{}
	request      *request

	state     atomic.Int32
	synthesis atomic.Bool

	events chan events.Event
	done   chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

type ClientOption func(*Client)

func WithDialect(dialect Dialect) ClientOption {
	return func(c *Client) {
		c.dialect = dialect
	}
}

func WithDialer(dialer Dialer) ClientOption {
	return func(c *Client) {
		c.dialer = dialer
	}
}

// WithEventBuffer sets how many decoded events may queue up before the
// receive goroutine waits for the consumer.
func WithEventBuffer(size int) ClientOption {
	return func(c *Client) {
		if size >= 0 {
			c.events = make(chan events.Event, size)
		}
	}
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		dialect: NewUSP(),
		dialer:  WebsocketDialer{},
		events:  make(chan events.Event, defaultEventBuffer),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Events() <-chan events.Event { return c.events }

// Done is closed once Shutdown completed.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) State() ConnectionState { return ConnectionState(c.state.Load()) }

func (c *Client) setState(state ConnectionState) { c.state.Store(int32(state)) }

func (c *Client) isShutdown() bool {
	state := c.State()
	return state == Closing || state == Closed
}

// SetSynthesis toggles synthesized audio. It is requested from the service on
// the next connect; while disabled, synthesis messages are dropped.
func (c *Client) SetSynthesis(enabled bool) { c.synthesis.Store(enabled) }

func (c *Client) Synthesis() bool { return c.synthesis.Load() }

func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectionID
}

// Connect opens the connection and performs the handshake. It is a no-op
// when already connected.
func (c *Client) Connect(ctx context.Context, cfg Config) error {
	ctx, span := tracer.Start(ctx, "connect")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isShutdown() {
		err := fmt.Errorf("failed to connect: %w", events.ErrStreamClosed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	c.cfg = cfg.withDefaults()
	c.configured = true
	if c.transport != nil {
		return nil
	}

	if err := c.dialLocked(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.String("connection_id", c.connectionID))
	return nil
}

func (c *Client) dialLocked(ctx context.Context) error {
	c.setState(Connecting)
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	connectionID := newID()
	endpoint, header, err := c.dialect.Endpoint(c.cfg, connectionID, c.synthesis.Load())
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("failed to resolve endpoint: %w", err)
	}

	transport, err := c.dialer.Dial(ctx, endpoint, header)
	if err != nil {
		c.setState(Disconnected)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, events.ErrAuth) {
			return fmt.Errorf("failed to connect within %s: %w: %w", c.cfg.ConnectTimeout, events.ErrTimeout, err)
		}
		return fmt.Errorf("failed to connect: %w", asConnectionError(err))
	}

	preamble, err := c.dialect.Preamble(c.cfg)
	if err == nil {
		err = writeFrames(transport, preamble)
	}
	if err != nil {
		_ = transport.Close()
		c.setState(Disconnected)
		return fmt.Errorf("failed to complete handshake: %w", asConnectionError(err))
	}

	c.transport = transport
	c.connectionID = connectionID
	c.readerDone = make(chan struct{})
	c.setState(Connected)
	go c.readLoop(transport, c.readerDone)

	logger.Info("connected", "connection_id", connectionID)
	return nil
}

// BeginTurn opens a new turn request and returns its id. A dropped
// connection is re-established first.
func (c *Client) BeginTurn(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.isShutdown():
		return "", fmt.Errorf("failed to begin turn: %w", events.ErrStreamClosed)
	case !c.configured:
		return "", fmt.Errorf("failed to begin turn: %w: not connected", events.ErrConnection)
	case c.request != nil:
		return "", fmt.Errorf("failed to begin turn: %w: request %s is still open", events.ErrOperationInProgress, c.request.id)
	}

	if c.transport == nil {
		if err := c.dialLocked(ctx); err != nil {
			return "", fmt.Errorf("failed to begin turn: %w", err)
		}
	}

	id := newID()
	frames, err := c.dialect.BeginTurn(c.cfg, id)
	if err == nil {
		err = writeFrames(c.transport, frames)
	}
	if err != nil {
		return "", fmt.Errorf("failed to begin turn: %w", asConnectionError(err))
	}

	c.request = newRequest(id)
	return id, nil
}

// TurnOpen reports whether audio is currently accepted.
func (c *Client) TurnOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.request != nil && !c.request.ended
}

// AudioSent reports whether the open request carried any audio.
func (c *Client) AudioSent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.request != nil && c.request.audioSent
}

// SendAudio frames chunk for the open request. Chunks are written in call
// order; ErrNoActiveTurn is returned once the request's audio was ended.
func (c *Client) SendAudio(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	req := c.request
	if req == nil || req.ended {
		return ErrNoActiveTurn
	}
	if c.transport == nil {
		return fmt.Errorf("failed to send audio: %w: not connected", events.ErrConnection)
	}

	frame, err := c.dialect.Audio(c.cfg, req.id, chunk, !req.audioStarted)
	if err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	if err := c.transport.WriteMessage(frame.messageType(), frame.Data); err != nil {
		return fmt.Errorf("failed to send audio: %w: %w", events.ErrConnection, err)
	}

	req.audioStarted = true
	req.audioSent = true
	return nil
}

// EndTurn sends the end-of-audio marker for the open request. A request that
// never carried audio is dropped instead, the service never saw it.
func (c *Client) EndTurn() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endTurnLocked()
}

func (c *Client) endTurnLocked() error {
	req := c.request
	if req == nil || req.ended {
		return nil
	}
	req.ended = true

	if !req.audioSent {
		c.request = nil
		req.finish()
		return nil
	}
	if c.transport == nil {
		return nil
	}

	frame, err := c.dialect.EndOfAudio(req.id)
	if err != nil {
		return fmt.Errorf("failed to end turn: %w", err)
	}
	if err := c.transport.WriteMessage(frame.messageType(), frame.Data); err != nil {
		return fmt.Errorf("failed to end turn: %w: %w", events.ErrConnection, err)
	}
	return nil
}

// AbandonTurn forgets the open request without waiting for the service.
func (c *Client) AbandonTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.request != nil {
		_ = c.endTurnLocked()
		if c.request != nil {
			c.request.finish()
			c.request = nil
		}
	}
}

func (c *Client) finishRequest(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.request != nil && strings.EqualFold(c.request.id, id) {
		c.request.finish()
		c.request = nil
	}
}

func (c *Client) readLoop(transport Transport, done chan struct{}) {
	defer close(done)

	for {
		messageType, data, err := transport.ReadMessage()
		if err != nil {
			c.handleReadFault(transport, err)
			return
		}

		decoded, err := c.dialect.Decode(Frame{Binary: messageType == websocket.BinaryMessage, Data: data})
		if err != nil {
			logger.Warn("skipping malformed message", "error", err)
			c.emit(events.NewError("", err))
			continue
		}

		for _, event := range decoded {
			switch event.Kind() {
			case events.KindTranslationSynthesis:
				if !c.synthesis.Load() {
					continue
				}
			case events.KindTurnEnd:
				c.finishRequest(event.RequestID())
			}
			c.emit(event)
		}
	}
}

func (c *Client) handleReadFault(transport Transport, readErr error) {
	c.mu.Lock()
	if c.transport != transport {
		c.mu.Unlock()
		return
	}
	c.transport = nil
	_ = transport.Close()

	req := c.request
	if c.isShutdown() {
		if req != nil {
			req.finish()
		}
		c.mu.Unlock()
		return
	}
	c.setState(Disconnected)

	if req == nil {
		c.mu.Unlock()
		if !isNormalClose(readErr) {
			logger.Warn("connection lost while idle", "error", readErr)
		}
		return
	}

	logger.Warn("connection lost mid-turn, reconnecting", "error", readErr, "request_id", req.id)
	reconnectErr := c.reconnectLocked(req)
	if reconnectErr == nil {
		c.mu.Unlock()
		return
	}
	c.request = nil
	req.finish()
	c.mu.Unlock()

	logger.Error("failed to reconnect", "error", reconnectErr, "request_id", req.id)
	err := fmt.Errorf("%w: connection lost: %w", events.ErrConnection, errors.Join(readErr, reconnectErr))
	c.emit(events.NewError(req.id, err))
	c.emit(events.NewCanceled(req.id, events.ReasonConnectionLost, readErr.Error()))
}

// reconnectLocked makes the single reconnection attempt for an open request.
func (c *Client) reconnectLocked(req *request) error {
	ctx, span := tracer.Start(context.Background(), "reconnect")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", req.id))

	err := c.dialLocked(ctx)
	if err == nil {
		req.audioStarted = false
		var frames []Frame
		if frames, err = c.dialect.BeginTurn(c.cfg, req.id); err == nil {
			err = writeFrames(c.transport, frames)
		}
	}
	if err == nil && req.ended && req.audioSent {
		var frame Frame
		if frame, err = c.dialect.EndOfAudio(req.id); err == nil {
			err = c.transport.WriteMessage(frame.messageType(), frame.Data)
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (c *Client) emit(event events.Event) {
	select {
	case c.events <- event:
	case <-c.done:
	}
}

// Shutdown ends the open request, waits up to the shutdown grace period for
// its turn end and closes the connection. Only the first call has an effect;
// later calls return the same result.
func (c *Client) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.shutdownErr = c.shutdown(ctx)
	})
	return c.shutdownErr
}

func (c *Client) shutdown(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "shutdown")
	defer span.End()

	c.mu.Lock()
	c.setState(Closing)
	grace := c.cfg.withDefaults().ShutdownGrace

	var flushErr error
	var finished <-chan struct{}
	if c.request != nil && c.transport != nil {
		flushErr = c.endTurnLocked()
		if c.request != nil {
			finished = c.request.finished
		}
	}
	c.mu.Unlock()

	var timeoutErr error
	if finished != nil {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-finished:
		case <-timer.C:
			timeoutErr = fmt.Errorf("failed to receive turn end within %s: %w", grace, events.ErrTimeout)
		case <-ctx.Done():
			timeoutErr = fmt.Errorf("failed to receive turn end: %w: %w", events.ErrTimeout, ctx.Err())
		}
	}

	c.mu.Lock()
	transport, readerDone := c.transport, c.readerDone
	c.transport = nil
	if c.request != nil {
		c.request.finish()
		c.request = nil
	}
	c.mu.Unlock()

	var closeErr error
	if transport != nil {
		closeErr = transport.Close()
		select {
		case <-readerDone:
		case <-time.After(grace):
		}
	}

	c.setState(Closed)
	close(c.done)

	err := errors.Join(flushErr, timeoutErr, closeErr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func writeFrames(transport Transport, frames []Frame) error {
	for _, frame := range frames {
		if err := transport.WriteMessage(frame.messageType(), frame.Data); err != nil {
			return err
		}
	}
	return nil
}

func asConnectionError(err error) error {
	if errors.Is(err, events.ErrAuth) || errors.Is(err, events.ErrConnection) || errors.Is(err, events.ErrTimeout) {
		return err
	}
	return fmt.Errorf("%w: %w", events.ErrConnection, err)
}

// newID returns a request or connection id in the dashless form the service
// expects.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
