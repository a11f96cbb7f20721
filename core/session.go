package recognition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-speech/core/audio"
	"github.com/koscakluka/ema-speech/core/events"
	"github.com/koscakluka/ema-speech/core/properties"
	"github.com/koscakluka/ema-speech/core/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Mode is what a session is currently doing.
type Mode int32

const (
	ModeIdle Mode = iota
	ModeSingleShot
	ModeContinuous
	// ModeStopping waits for the last continuous turn to finish.
	ModeStopping
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeSingleShot:
		return "single_shot"
	case ModeContinuous:
		return "continuous"
	case ModeStopping:
		return "stopping"
	}
	return "unknown"
}

// session is the recognizer core shared by the speech and translation
// recognizers. It owns one protocol client. A loop goroutine owns the turn
// state machine and dispatches events; a sender goroutine drains the ingest
// buffer into the open turn.
type session[R any] struct {
	props       *properties.Collection
	options     sessionOptions
	encoding    audio.EncodingInfo
	translation bool
	adapt       func(*Turn) (R, error)

	buffer     *audio.IngestBuffer
	client     *protocol.Client
	dispatcher *Dispatcher
	input      *audioInput

	mode   atomic.Int32
	closed atomic.Bool
	stopMu sync.Mutex

	commands chan func()
	// gate is signaled whenever a turn opens so the sender retries held
	// audio.
	gate     chan struct{}
	loopDone chan struct{}

	// Owned by the loop goroutine.
	machine *TurnStateMachine
	turnID  string
	pending *Future[R]
	stopped chan struct{}

	group          *errgroup.Group
	cancel         context.CancelFunc
	shutdownReason events.CancellationReason
	closeOnce      sync.Once
	closeErr       error
}

func newSession[R any](props *properties.Collection, translation bool, adapt func(*Turn) (R, error), opts ...SessionOption) *session[R] {
	options := defaultSessionOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if props == nil {
		props = properties.New(nil)
	}

	s := &session[R]{
		props:          props,
		options:        options,
		translation:    translation,
		adapt:          adapt,
		dispatcher:     NewDispatcher(options.deliveryTimeout),
		machine:        NewTurnStateMachine(),
		commands:       make(chan func()),
		gate:           make(chan struct{}, 1),
		loopDone:       make(chan struct{}),
		shutdownReason: events.ReasonShutdown,
	}

	s.input = newAudioInput(options.audioInput, func(chunk []byte) {
		if err := s.buffer.Push(chunk); err != nil && !errors.Is(err, events.ErrStreamClosed) {
			logger.Warn("dropping captured audio", "error", err)
		}
	})

	s.encoding = options.encodingInfo
	if s.encoding.IsZero() {
		s.encoding = s.input.EncodingInfo()
	}
	s.buffer = audio.NewIngestBuffer(s.encoding, audio.WithHighWaterMark(s.encoding.BytesFor(options.highWaterMark)))

	clientOpts := []protocol.ClientOption{}
	if options.dialect != nil {
		clientOpts = append(clientOpts, protocol.WithDialect(options.dialect))
	}
	if options.dialer != nil {
		clientOpts = append(clientOpts, protocol.WithDialer(options.dialer))
	}
	s.client = protocol.NewClient(clientOpts...)

	if translation {
		s.dispatcher.onChange = func(kind events.Kind, count int) {
			if kind == events.KindTranslationSynthesis {
				s.client.SetSynthesis(count > 0)
			}
		}
		if output := newAudioOutput(options.synthesisOutput); output.isConfigured() {
			subscribe(s.dispatcher, events.KindTranslationSynthesis, func(ev events.TranslationSynthesis) {
				if err := output.Play(ev); err != nil {
					logger.Warn("failed to play synthesized audio", "error", err, "request_id", ev.RequestID())
				}
			})
			subscribe(s.dispatcher, events.KindCanceled, func(events.Canceled) { output.Clear() })
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)
	s.group, s.cancel = group, cancel

	group.Go(func() error {
		defer close(s.loopDone)
		return s.loop(groupCtx)
	})
	group.Go(func() error { return s.send(groupCtx) })
	if s.input.IsConfigured() {
		group.Go(func() error {
			if err := s.input.Stream(groupCtx); err != nil {
				logger.Error("audio input stopped", "error", err)
			}
			return nil
		})
	}

	return s
}

func (s *session[R]) Mode() Mode { return Mode(s.mode.Load()) }

func (s *session[R]) ConnectionState() protocol.ConnectionState { return s.client.State() }

// Properties returns the collection read at every connect.
func (s *session[R]) Properties() *properties.Collection { return s.props }

func (s *session[R]) AuthorizationToken() string {
	return s.props.Get(properties.AuthorizationToken, "")
}

// SetAuthorizationToken stores token for the next connect. An open
// connection keeps the token it was opened with.
func (s *session[R]) SetAuthorizationToken(token string) {
	s.props.Set(properties.AuthorizationToken, token)
}

// PushAudio queues a chunk of audio. It blocks while more than the high-water
// mark is waiting to be sent.
func (s *session[R]) PushAudio(chunk []byte) error { return s.buffer.Push(chunk) }

func (s *session[R]) Write(p []byte) (int, error) { return s.buffer.Write(p) }

// CloseAudio marks the end of the audio stream. The open turn ends once the
// remaining audio was sent.
func (s *session[R]) CloseAudio() { s.buffer.Close() }

// RecognizeOnce recognizes a single turn. The returned future resolves at the
// end of the turn, with the turn's failure if it was canceled.
func (s *session[R]) RecognizeOnce(ctx context.Context) *Future[R] {
	if s.closed.Load() {
		return failedFuture[R](fmt.Errorf("failed to start recognition: %w", events.ErrStreamClosed))
	}
	if !s.mode.CompareAndSwap(int32(ModeIdle), int32(ModeSingleShot)) {
		return failedFuture[R](fmt.Errorf("failed to start recognition: %w: session is %s", events.ErrOperationInProgress, s.Mode()))
	}

	ctx, span := tracer.Start(ctx, "recognize_once")
	future := newFuture[R]()
	future.cancel = func() {
		go func() {
			_ = s.call(func() {
				if s.pending == future {
					s.cancelTurn(events.ReasonRequested, "canceled by caller")
				}
			})
		}()
	}
	go func() {
		<-future.Done()
		if _, err := future.Get(context.Background()); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var beginErr error
	err := s.call(func() {
		if beginErr = s.beginTurn(ctx); beginErr == nil {
			s.pending = future
			span.SetAttributes(attribute.String("request_id", s.turnID))
		}
	})
	if err = errors.Join(err, beginErr); err != nil {
		s.mode.Store(int32(ModeIdle))
		var zero R
		future.resolve(zero, fmt.Errorf("failed to start recognition: %w", err))
	}
	return future
}

// StartContinuous recognizes turns until StopContinuous. Every finished turn
// is followed by the next one.
func (s *session[R]) StartContinuous(ctx context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("failed to start continuous recognition: %w", events.ErrStreamClosed)
	}
	if !s.mode.CompareAndSwap(int32(ModeIdle), int32(ModeContinuous)) {
		return fmt.Errorf("failed to start continuous recognition: %w: session is %s", events.ErrOperationInProgress, s.Mode())
	}

	var beginErr error
	err := s.call(func() { beginErr = s.beginTurn(ctx) })
	if err = errors.Join(err, beginErr); err != nil {
		s.mode.Store(int32(ModeIdle))
		return fmt.Errorf("failed to start continuous recognition: %w", err)
	}
	return nil
}

// StopContinuous ends the audio of the open turn and waits for the turn to
// finish. A turn that does not finish within the shutdown grace period is
// canceled with ReasonTimeout. Stopping an idle session does nothing.
func (s *session[R]) StopContinuous(ctx context.Context) error {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if s.Mode() != ModeContinuous {
		return nil
	}

	stopped := make(chan struct{})
	err := s.call(func() {
		if !s.mode.CompareAndSwap(int32(ModeContinuous), int32(ModeStopping)) {
			close(stopped)
			return
		}
		if s.turnID == "" {
			s.mode.Store(int32(ModeIdle))
			close(stopped)
			return
		}
		if !s.client.AudioSent() && s.machine.Active() == nil {
			// The service never saw this request.
			s.client.AbandonTurn()
			s.turnID = ""
			s.mode.Store(int32(ModeIdle))
			close(stopped)
			return
		}

		s.stopped = stopped
		if err := s.client.EndTurn(); err != nil {
			logger.Warn("failed to end turn", "error", err, "request_id", s.turnID)
		}
	})
	if err != nil {
		s.mode.Store(int32(ModeIdle))
		return nil
	}

	timer := time.NewTimer(s.options.shutdownGrace)
	defer timer.Stop()

	var waitErr error
	select {
	case <-stopped:
		return nil
	case <-timer.C:
		waitErr = fmt.Errorf("failed to stop continuous recognition within %s: %w", s.options.shutdownGrace, events.ErrTimeout)
	case <-ctx.Done():
		waitErr = fmt.Errorf("failed to stop continuous recognition: %w: %w", events.ErrTimeout, ctx.Err())
	}

	if err := s.call(func() { s.cancelTurn(events.ReasonTimeout, waitErr.Error()) }); err == nil {
		<-stopped
	}
	return waitErr
}

// Close stops recognition, shuts the connection down and releases the audio
// devices. The pending turn gets the shutdown grace period to finish. Only
// the first call has an effect.
func (s *session[R]) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.close(ctx)
	})
	return s.closeErr
}

func (s *session[R]) close(ctx context.Context) error {
	s.closed.Store(true)

	var errs []error
	if err := s.input.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close audio input: %w", err))
	}
	s.buffer.Close()

	if err := s.client.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down protocol client: %w", err))
		if errors.Is(err, events.ErrTimeout) {
			s.shutdownReason = events.ReasonTimeout
		}
	}

	s.cancel()
	if err := s.group.Wait(); err != nil {
		errs = append(errs, err)
	}
	s.buffer.Shutdown()
	s.dispatcher.Close()

	err := errors.Join(errs...)
	if err != nil {
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// call runs fn on the loop goroutine and waits for it.
func (s *session[R]) call(fn func()) error {
	done := make(chan struct{})
	select {
	case s.commands <- func() { fn(); close(done) }:
	case <-s.loopDone:
		return fmt.Errorf("session loop: %w", events.ErrStreamClosed)
	}
	<-done
	return nil
}

func (s *session[R]) loop(ctx context.Context) error {
	for {
		select {
		case cmd := <-s.commands:
			cmd()
		case ev := <-s.client.Events():
			s.handle(ev)
		case <-ctx.Done():
			// Events the client received before it shut down still count.
		drain:
			for {
				select {
				case ev := <-s.client.Events():
					s.handle(ev)
				default:
					break drain
				}
			}
			s.cancelTurn(s.shutdownReason, "session closed")
			s.mode.Store(int32(ModeIdle))
			return nil
		}
	}
}

func (s *session[R]) handle(ev events.Event) {
	publish, closed := s.machine.Apply(ev)
	for _, out := range publish {
		s.dispatcher.Publish(out)
	}
	if closed != nil {
		s.turnClosed(closed)
	}
}

func (s *session[R]) beginTurn(ctx context.Context) error {
	s.machine.Reset()
	if err := s.connect(ctx); err != nil {
		return err
	}

	id, err := s.client.BeginTurn(ctx)
	if err != nil {
		return err
	}
	s.turnID = id
	signal(s.gate)
	return nil
}

// connect opens the connection with the current properties unless it is
// already open.
func (s *session[R]) connect(ctx context.Context) error {
	if s.client.State() == protocol.Connected {
		return nil
	}

	cfg, err := s.config(ctx)
	if err != nil {
		return err
	}
	return s.client.Connect(ctx, cfg)
}

func (s *session[R]) config(ctx context.Context) (protocol.Config, error) {
	if s.options.tokenSource != nil {
		token, err := s.options.tokenSource.IssueToken(ctx)
		if err != nil {
			return protocol.Config{}, fmt.Errorf("failed to refresh authorization token: %w", err)
		}
		s.props.Set(properties.AuthorizationToken, token)
	}

	cfg := protocol.Config{
		Endpoint:           s.props.Get(properties.Endpoint, ""),
		Region:             s.props.Get(properties.Region, ""),
		SubscriptionKey:    s.props.Get(properties.SubscriptionKey, ""),
		AuthorizationToken: s.props.Get(properties.AuthorizationToken, ""),
		Language:           s.props.Get(properties.RecognitionLanguage, protocol.DefaultLanguage),
		Mode:               protocol.Mode(s.props.Get(properties.RecognitionMode, string(protocol.ModeInteractive))),
		Format:             protocol.OutputFormat(s.props.Get(properties.OutputFormat, string(protocol.FormatSimple))),
		Encoding:           s.encoding,
		ConnectTimeout:     s.options.connectTimeout,
		ShutdownGrace:      s.options.shutdownGrace,
	}
	if s.translation {
		cfg.TargetLanguages = properties.List(s.props, properties.TranslationTargetLanguages)
		cfg.Voice = s.props.Get(properties.TranslationVoice, "")
		if len(cfg.TargetLanguages) == 0 {
			return protocol.Config{}, fmt.Errorf("failed to configure translation: no target languages")
		}
	}
	return cfg, nil
}

// cancelTurn cancels the open turn locally. Late events of the turn are
// absorbed by the state machine.
func (s *session[R]) cancelTurn(reason events.CancellationReason, message string) {
	if s.turnID == "" && s.machine.Active() == nil {
		return
	}

	s.client.AbandonTurn()
	publish, closed := s.machine.Cancel(s.turnID, reason, message)
	for _, out := range publish {
		s.dispatcher.Publish(out)
	}
	if closed != nil {
		s.turnClosed(closed)
	}
}

// finishWithoutAudio closes a turn whose audio ended before any of it was
// sent. The service never hears of such a request, so it ends as a no-match.
func (s *session[R]) finishWithoutAudio() {
	id := s.turnID
	if id == "" || s.client.AudioSent() || !s.client.TurnOpen() || s.machine.Active() != nil {
		return
	}

	s.client.AbandonTurn()
	if s.Mode() == ModeContinuous {
		s.mode.Store(int32(ModeStopping))
	}
	for _, ev := range []events.Event{
		events.NewTurnStart(id, ""),
		events.NewPhrase(id, events.StatusNoMatch, "", 0, 0),
		events.NewTurnEnd(id),
	} {
		s.handle(ev)
	}
}

func (s *session[R]) turnClosed(turn *Turn) {
	s.machine.Reset()
	if s.turnID == "" || !strings.EqualFold(turn.ID, s.turnID) {
		return
	}
	s.turnID = ""

	switch s.Mode() {
	case ModeSingleShot:
		future := s.pending
		s.pending = nil
		s.mode.Store(int32(ModeIdle))
		if future == nil {
			return
		}
		if err := turn.Err(); err != nil {
			var zero R
			future.resolve(zero, err)
			return
		}
		future.resolve(s.adapt(turn))

	case ModeContinuous:
		if s.closed.Load() || s.buffer.Exhausted() {
			s.mode.Store(int32(ModeIdle))
			return
		}
		if err := s.beginTurn(context.Background()); err != nil {
			logger.Error("failed to continue recognition", "error", err)
			s.mode.Store(int32(ModeIdle))
			s.dispatcher.Publish(events.NewError(turn.ID, fmt.Errorf("failed to continue recognition: %w", err)))
		}

	case ModeStopping:
		s.mode.Store(int32(ModeIdle))
		if s.stopped != nil {
			close(s.stopped)
			s.stopped = nil
		}
	}
}

// send drains the ingest buffer into the open turn. A frame that finds no
// open turn is held until one opens.
func (s *session[R]) send(ctx context.Context) error {
	var pending *audio.Frame
	for {
		if pending == nil {
			frame, status := s.buffer.Drain()
			switch status {
			case audio.FrameReady:
				pending = &frame
			case audio.Empty:
				select {
				case <-s.buffer.Ready():
				case <-ctx.Done():
					return nil
				}
				continue
			case audio.EndOfStream:
				s.endOfAudio()
				select {
				case <-s.gate:
				case <-ctx.Done():
					return nil
				}
				continue
			}
		}

		err := s.client.SendAudio(pending.Data)
		if err == nil {
			pending = nil
			continue
		}
		if !errors.Is(err, protocol.ErrNoActiveTurn) {
			logger.Warn("failed to send audio", "error", err)
		}

		timer := time.NewTimer(sendRetryBackoff)
		select {
		case <-s.gate:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
		timer.Stop()
	}
}

func (s *session[R]) endOfAudio() {
	if !s.client.TurnOpen() {
		return
	}
	if s.client.AudioSent() {
		if err := s.client.EndTurn(); err != nil {
			logger.Warn("failed to end turn", "error", err)
		}
		return
	}
	_ = s.call(s.finishWithoutAudio)
}

// Subscriptions. Handlers run on a goroutine of their own, one event at a
// time and in arrival order.

func (s *session[R]) OnTurnStart(handler func(events.TurnStart)) *Subscription {
	return subscribe(s.dispatcher, events.KindTurnStart, handler)
}

func (s *session[R]) OnSpeechStartDetected(handler func(events.SpeechStartDetected)) *Subscription {
	return subscribe(s.dispatcher, events.KindSpeechStartDetected, handler)
}

func (s *session[R]) OnSpeechEndDetected(handler func(events.SpeechEndDetected)) *Subscription {
	return subscribe(s.dispatcher, events.KindSpeechEndDetected, handler)
}

func (s *session[R]) OnHypothesis(handler func(events.Hypothesis)) *Subscription {
	return subscribe(s.dispatcher, events.KindHypothesis, handler)
}

func (s *session[R]) OnPhrase(handler func(events.Phrase)) *Subscription {
	return subscribe(s.dispatcher, events.KindPhrase, handler)
}

func (s *session[R]) OnTurnEnd(handler func(events.TurnEnd)) *Subscription {
	return subscribe(s.dispatcher, events.KindTurnEnd, handler)
}

func (s *session[R]) OnCanceled(handler func(events.Canceled)) *Subscription {
	return subscribe(s.dispatcher, events.KindCanceled, handler)
}

func (s *session[R]) OnError(handler func(events.Error)) *Subscription {
	return subscribe(s.dispatcher, events.KindError, handler)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
