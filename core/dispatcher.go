package recognition

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-speech/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const DefaultDeliveryTimeout = 2 * time.Second

type Handler func(events.Event)

// Dispatcher fans events out to per-kind subscribers. Every subscriber runs
// on its own goroutine; Publish waits for each in registration order, but
// never longer than the delivery timeout. A subscriber that overruns it is
// considered stalled and skipped until its handler returns.
type Dispatcher struct {
	timeout time.Duration

	mu          sync.Mutex
	subscribers map[events.Kind][]*subscriber
	nextID      uint64
	closed      bool

	// onChange is called with the new subscriber count of a kind after every
	// subscribe and unsubscribe.
	onChange func(kind events.Kind, count int)
}

func NewDispatcher(timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	return &Dispatcher{
		timeout:     timeout,
		subscribers: map[events.Kind][]*subscriber{},
	}
}

type subscriber struct {
	id      uint64
	kind    events.Kind
	handler Handler

	deliveries chan delivery
	quit       chan struct{}
	stalled    atomic.Bool
}

type delivery struct {
	event events.Event
	// done receives the recovered panic of the handler, nil otherwise.
	done chan error
}

func (s *subscriber) run() {
	for {
		select {
		case job := <-s.deliveries:
			select {
			case <-s.quit:
				job.done <- nil
				return
			default:
			}
			job.done <- s.call(job.event)
			s.stalled.Store(false)
		case <-s.quit:
			return
		}
	}
}

func (s *subscriber) call(ev events.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber for %s panicked: %v", s.kind, r)
		}
	}()
	s.handler(ev)
	return nil
}

// Subscription is the token returned by Subscribe.
type Subscription struct {
	dispatcher *Dispatcher
	subscriber *subscriber
	once       sync.Once
}

// Unsubscribe stops deliveries. A delivery in progress finishes. It is safe
// to call more than once and from within the handler.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.dispatcher.remove(s.subscriber)
	})
}

// Subscribe registers handler for kind. Events published before the call are
// not replayed.
func (d *Dispatcher) Subscribe(kind events.Kind, handler Handler) *Subscription {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return &Subscription{dispatcher: d, subscriber: &subscriber{kind: kind}}
	}

	d.nextID++
	sub := &subscriber{
		id:         d.nextID,
		kind:       kind,
		handler:    handler,
		deliveries: make(chan delivery, 1),
		quit:       make(chan struct{}),
	}
	// Copy on write so Publish can iterate a snapshot without the lock.
	subs := append(append([]*subscriber(nil), d.subscribers[kind]...), sub)
	d.subscribers[kind] = subs
	count := len(subs)
	onChange := d.onChange
	d.mu.Unlock()

	go sub.run()
	if onChange != nil {
		onChange(kind, count)
	}
	return &Subscription{dispatcher: d, subscriber: sub}
}

func (d *Dispatcher) remove(sub *subscriber) {
	d.mu.Lock()
	current := d.subscribers[sub.kind]
	subs := make([]*subscriber, 0, len(current))
	found := false
	for _, s := range current {
		if s == sub {
			found = true
			continue
		}
		subs = append(subs, s)
	}
	if !found {
		d.mu.Unlock()
		return
	}
	if len(subs) == 0 {
		delete(d.subscribers, sub.kind)
	} else {
		d.subscribers[sub.kind] = subs
	}
	onChange := d.onChange
	d.mu.Unlock()

	close(sub.quit)
	if onChange != nil {
		onChange(sub.kind, len(subs))
	}
}

// Count returns the number of subscribers of kind.
func (d *Dispatcher) Count(kind events.Kind) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subscribers[kind])
}

// Publish delivers ev to the subscribers of its kind. Subscriber faults are
// reported as Error events and never reach the caller.
func (d *Dispatcher) Publish(ev events.Event) {
	d.mu.Lock()
	subs := d.subscribers[ev.Kind()]
	d.mu.Unlock()

	for _, sub := range subs {
		if err := d.deliver(sub, ev); err != nil {
			d.report(ev, err)
		}
	}
}

func (d *Dispatcher) deliver(sub *subscriber, ev events.Event) error {
	if sub.stalled.Load() {
		droppedCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", string(ev.Kind()))))
		logger.Warn("dropping delivery to stalled subscriber", "kind", ev.Kind(), "request_id", ev.RequestID())
		return nil
	}

	select {
	case <-sub.quit:
		return nil
	default:
	}

	job := delivery{event: ev, done: make(chan error, 1)}
	select {
	case sub.deliveries <- job:
	case <-sub.quit:
		return nil
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()
	select {
	case err := <-job.done:
		return handlerFault(err)
	case <-sub.quit:
		return nil
	case <-timer.C:
	}

	sub.stalled.Store(true)
	// run clears the flag only after sending on done, so a handler that
	// returned as the timer fired is still seen here.
	select {
	case err := <-job.done:
		sub.stalled.Store(false)
		return handlerFault(err)
	default:
	}
	droppedCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", string(ev.Kind()))))
	return fmt.Errorf("%w: %w: subscriber for %s did not return within %s", events.ErrSubscriberFault, events.ErrTimeout, ev.Kind(), d.timeout)
}

func handlerFault(err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", events.ErrSubscriberFault, err)
	}
	return nil
}

func (d *Dispatcher) report(ev events.Event, err error) {
	logger.Warn("subscriber fault", "kind", ev.Kind(), "error", err, "request_id", ev.RequestID())
	// A failing error subscriber would report to itself.
	if ev.Kind() == events.KindError {
		return
	}
	d.Publish(events.NewError(ev.RequestID(), err))
}

// Close removes every subscriber. Later subscriptions are inert.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	subscribers := d.subscribers
	d.subscribers = map[events.Kind][]*subscriber{}
	d.mu.Unlock()

	for _, subs := range subscribers {
		for _, sub := range subs {
			close(sub.quit)
		}
	}
}

// subscribe registers a handler that only sees events of type E.
func subscribe[E events.Event](d *Dispatcher, kind events.Kind, handler func(E)) *Subscription {
	return d.Subscribe(kind, func(ev events.Event) {
		if typed, ok := ev.(E); ok {
			handler(typed)
		}
	})
}
