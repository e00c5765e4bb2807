// Package eventbus implements the in-process typed event bus (§4.6, §9).
// The source's "onAny" callback dispatch is modeled here as a tagged-union
// DomainEvent and a single dispatch function, rather than an interface{}
// callback registry.
package eventbus

import (
	"sync"
	"time"

	"github.com/IGLOU-EU/go-wildcard/v2"
)

// EventType is one of the recognized dot-namespaced event types (§4.6),
// e.g. "insight.created", "anomaly.detected", "remediation.approved".
type EventType string

const (
	EventInsightCreated          EventType = "insight.created"
	EventAnomalyDetected         EventType = "anomaly.detected"
	EventContainerStateChange    EventType = "container.state_change"
	EventRemediationRequested    EventType = "remediation.requested"
	EventRemediationApproved     EventType = "remediation.approved"
	EventRemediationRejected     EventType = "remediation.rejected"
	EventRemediationCompleted    EventType = "remediation.completed"
)

// DomainEvent is the tagged union every handler receives: Type selects
// which concrete payload is populated in Data, keeping handlers decoupled
// from a shared interface{} callback signature.
type DomainEvent struct {
	Type      EventType
	Data      interface{}
	Timestamp time.Time
}

// Handler processes one event. Handlers must not panic; the bus recovers
// and reports the panic to the SetErrorHandler callback (dropping it when
// none is set) rather than letting one handler's panic drop subsequent
// handlers (§5 "the bus must tolerate handler exceptions without dropping
// subsequent handlers").
type Handler func(DomainEvent)

type subscription struct {
	id      uint64
	pattern string
	handler Handler
}

// Bus is a single-process pub/sub dispatcher. All handlers run
// synchronously on the emitter's goroutine by default (§5); callers that
// need async fan-out (notifications, investigation triggers) must launch
// their own goroutine inside the handler.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	onErr  func(pattern string, r interface{})
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{}
}

// SetErrorHandler installs a callback invoked when a handler panics,
// receiving the subscription pattern and the recovered value. Optional;
// a nil handler here means panics are silently swallowed.
func (b *Bus) SetErrorHandler(fn func(pattern string, r interface{})) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onErr = fn
}

// On subscribes handler to an exact event type or a wildcard pattern such
// as "remediation.*" or "*". Returns an unsubscribe function.
func (b *Bus) On(pattern string, handler Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// OnAny subscribes to every event type, equivalent to On("*", handler).
func (b *Bus) OnAny(handler Handler) func() {
	return b.On("*", handler)
}

// Emit dispatches an event to every subscription whose pattern matches
// eventType, stamping Timestamp with the current time.
func (b *Bus) Emit(eventType EventType, data interface{}) {
	ev := DomainEvent{Type: eventType, Data: data, Timestamp: time.Now()}

	b.mu.RLock()
	matched := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if matchesPattern(s.pattern, string(eventType)) {
			matched = append(matched, s)
		}
	}
	errHandler := b.onErr
	b.mu.RUnlock()

	for _, s := range matched {
		dispatchOne(s, ev, errHandler)
	}
}

func dispatchOne(s subscription, ev DomainEvent, onErr func(string, interface{})) {
	defer func() {
		if r := recover(); r != nil && onErr != nil {
			onErr(s.pattern, r)
		}
	}()
	s.handler(ev)
}

func matchesPattern(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}
	return wildcard.Match(pattern, eventType)
}
