// Package events implements the event router: topic-based fan-out with
// at-least-once delivery, FIFO order per subscriber, bounded redelivery and a
// dead-letter list for events no subscriber could accept.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/darrylbowler72/agenticframework-sub001/internal/telemetry"
)

// Topics published by the core.
const (
	TopicWorkflowSubmitted = "workflow.submitted"
	TopicWorkflowCompleted = "workflow.completed"
	TopicWorkflowFailed    = "workflow.failed"
	TopicTaskDispatched    = "task.dispatched"
	TopicTaskCompletion    = "task.completion"
	TopicTaskRetrying      = "task.retrying"
	TopicTaskCompleted     = "task.completed"
	TopicTaskFailed        = "task.failed"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("event router closed")

// maxDeadLetters bounds the retained dead-letter list.
const maxDeadLetters = 1000

// Event is one published message.
type Event struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Payload     json.RawMessage `json:"payload"`
	PublishedAt time.Time       `json:"published_at"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Handler consumes an event. A returned error triggers redelivery.
type Handler func(ctx context.Context, ev Event) error

// DeadLetter records an event that exhausted its delivery attempts.
type DeadLetter struct {
	Event      Event     `json:"event"`
	Subscriber string    `json:"subscriber"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error"`
	At         time.Time `json:"at"`
}

// Publisher is the producer side of the router.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Options tunes delivery.
type Options struct {
	// MaxAttempts is the number of delivery tries before dead-lettering.
	MaxAttempts int
	// InitialInterval and MaxInterval bound the redelivery backoff.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          *slog.Logger
	Metrics         *telemetry.Metrics
}

// Router fans events out to subscribers.
type Router struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*subscription // topic -> name -> sub
	closed bool

	dlMu        sync.Mutex
	deadLetters []DeadLetter

	opts   Options
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type subscription struct {
	topic   string
	name    string
	handler Handler

	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	done   chan struct{}
}

// NewRouter creates a Router. Zero option values get defaults.
func NewRouter(opts Options) *Router {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 5
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 200 * time.Millisecond
	}
	if opts.MaxInterval < opts.InitialInterval {
		opts.MaxInterval = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.Noop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		subs:   make(map[string]map[string]*subscription),
		opts:   opts,
		logger: opts.Logger.With("component", "event_router"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe registers handler under name for topic. Names are unique per
// topic; subscribing twice with the same name replaces nothing and errors.
func (r *Router) Subscribe(topic, name string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if _, ok := r.subs[topic]; !ok {
		r.subs[topic] = make(map[string]*subscription)
	}
	if _, exists := r.subs[topic][name]; exists {
		return fmt.Errorf("subscriber %q already registered for %s", name, topic)
	}
	sub := &subscription{
		topic:   topic,
		name:    name,
		handler: handler,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	r.subs[topic][name] = sub
	r.wg.Add(1)
	go r.run(sub)

	r.logger.Debug("subscriber added", "topic", topic, "subscriber", name)
	return nil
}

// Publish enqueues payload for every current subscriber of topic. It never
// blocks on slow subscribers.
func (r *Router) Publish(ctx context.Context, topic string, payload any) error {
	raw, err := encode(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", topic, err)
	}
	ev := Event{
		ID:          uuid.New().String(),
		Topic:       topic,
		Payload:     raw,
		PublishedAt: time.Now().UTC(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	for _, sub := range r.subs[topic] {
		sub.push(ev)
	}
	return nil
}

// DeadLetters returns a snapshot of dead-lettered events, oldest first.
func (r *Router) DeadLetters() []DeadLetter {
	r.dlMu.Lock()
	defer r.dlMu.Unlock()
	return append([]DeadLetter(nil), r.deadLetters...)
}

// Close stops accepting events and waits for queued events to be delivered.
// If ctx expires first, in-flight redeliveries are abandoned to the
// dead-letter list.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, subs := range r.subs {
		for _, sub := range subs {
			close(sub.done)
		}
	}
	r.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-finished
		return ctx.Err()
	}
}

func (s *subscription) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscription) pop() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue[0] = Event{}
	s.queue = s.queue[1:]
	return ev, true
}

// run delivers the subscription's queue in order. One goroutine per
// subscription keeps per-subscriber FIFO.
func (r *Router) run(sub *subscription) {
	defer r.wg.Done()
	for {
		if ev, ok := sub.pop(); ok {
			r.deliver(sub, ev)
			continue
		}
		select {
		case <-sub.notify:
		case <-sub.done:
			// drain whatever arrived before close
			for {
				ev, ok := sub.pop()
				if !ok {
					return
				}
				r.deliver(sub, ev)
			}
		}
	}
}

func (r *Router) deliver(sub *subscription, ev Event) {
	attempts := 0
	var lastErr error
	op := func() error {
		attempts++
		err := sub.handler(r.ctx, ev)
		if err != nil {
			lastErr = err
			r.logger.Debug("delivery failed",
				"topic", ev.Topic, "subscriber", sub.name, "event_id", ev.ID,
				"attempt", attempts, "error", err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.InitialInterval
	b.MaxInterval = r.opts.MaxInterval
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.opts.MaxAttempts-1)), r.ctx)

	if err := backoff.Retry(op, policy); err == nil {
		return
	}
	if lastErr == nil {
		lastErr = r.ctx.Err()
	}

	dl := DeadLetter{
		Event:      ev,
		Subscriber: sub.name,
		Attempts:   attempts,
		LastError:  lastErr.Error(),
		At:         time.Now().UTC(),
	}
	r.dlMu.Lock()
	r.deadLetters = append(r.deadLetters, dl)
	if len(r.deadLetters) > maxDeadLetters {
		r.deadLetters = r.deadLetters[len(r.deadLetters)-maxDeadLetters:]
	}
	r.dlMu.Unlock()

	r.opts.Metrics.EventsDeadLettered.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("topic", ev.Topic)))
	r.logger.Error("event dead-lettered",
		"topic", ev.Topic, "subscriber", sub.name, "event_id", ev.ID,
		"attempts", attempts, "error", lastErr)
}

func encode(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, errors.New("payload is not valid JSON")
		}
		return json.RawMessage(p), nil
	default:
		return json.Marshal(payload)
	}
}
