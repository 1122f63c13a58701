// Package events carries form lifecycle notifications from the form engine to
// the rendering layer and between engine components.
package events

import (
	"errors"
	"sync"
	"time"

	"github.com/gabrielmiguelok/easyforms/pkg/logging"
)

// Common bus errors.
var (
	ErrBusClosed = errors.New("event bus is closed")
)

// Event names.
const (
	FieldsChanged  = "fields-changed"
	FormSubmit     = "form:submit"
	FormSuccess    = "form:success"
	FormError      = "form:error"
	StepChange     = "wizard:step-change"
	GridRowRemoved = "grid-row-removed"
	GridRows       = "grid-rows-changed"
	ValidateField  = "validate-field"
	FieldErrors    = "field-errors"
	ScrollToField  = "scroll-to-field"
)

// Event is a single notification.
type Event struct {
	Name    string    `json:"name" msgpack:"name"`
	Form    string    `json:"form" msgpack:"form"`
	Payload any       `json:"payload,omitempty" msgpack:"payload,omitempty"`
	At      time.Time `json:"at" msgpack:"at"`
}

// Handler receives events.
type Handler func(Event)

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe removes this subscription. Calling it twice is safe.
	Unsubscribe() error

	// Topic returns the subscribed event name, or "*" for all events.
	Topic() string
}

// Wildcard subscribes to every event.
const Wildcard = "*"

// Bus is an in-process event bus. Handlers run synchronously on the
// publishing goroutine, in subscription order, so a subscriber sees events in
// the order they were published.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]*subscription
	nextID uint64
	closed bool
	logger logging.Logger
}

type subscription struct {
	id      uint64
	topic   string
	handler Handler
	bus     *Bus
	once    sync.Once
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		topics: make(map[string][]*subscription),
		logger: logging.DefaultLogger,
	}
}

// SetLogger replaces the logger used to report panicking handlers.
func (b *Bus) SetLogger(logger logging.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
}

// Subscribe adds a handler for an event name, or Wildcard.
func (b *Bus) Subscribe(topic string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	b.nextID++
	sub := &subscription{id: b.nextID, topic: topic, handler: handler, bus: b}
	b.topics[topic] = append(b.topics[topic], sub)
	return sub, nil
}

// Publish delivers an event to its topic subscribers, then to wildcard
// subscribers. A nil bus drops the event.
func (b *Bus) Publish(e Event) error {
	if b == nil {
		return nil
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	targets := make([]*subscription, 0, len(b.topics[e.Name])+len(b.topics[Wildcard]))
	targets = append(targets, b.topics[e.Name]...)
	targets = append(targets, b.topics[Wildcard]...)
	logger := b.logger
	b.mu.RUnlock()

	for _, sub := range targets {
		b.deliver(sub, e, logger)
	}
	return nil
}

func (b *Bus) deliver(sub *subscription, e Event, logger logging.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panicked",
				logging.String("event", e.Name),
				logging.Any("panic", r),
			)
		}
	}()
	sub.handler(e)
}

// Close removes all subscriptions and rejects further publishes.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.topics = make(map[string][]*subscription)
	return nil
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.topics[s.topic]
		for i, other := range subs {
			if other.id == s.id {
				b.topics[s.topic] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	})
	return nil
}

func (s *subscription) Topic() string {
	return s.topic
}
