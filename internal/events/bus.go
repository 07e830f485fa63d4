// Package events provides a publish/subscribe bus for session lifecycle
// events. Events flow from the dispatcher and the backend watcher to
// subscribers such as the MQTT publisher. The bus is nil-safe: calling
// Publish on a nil *Bus is a no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceDispatch identifies events from the message dispatcher.
	SourceDispatch = "dispatch"
	// SourceBackend identifies events from the backend health watcher.
	SourceBackend = "backend"
)

// Kind constants describe the type of event within a source.
const (
	// KindSessionCreated signals a Setup was accepted.
	// Data: session_id, user.
	KindSessionCreated = "session_created"
	// KindSessionDestroyed signals an Exit removed a session.
	// Data: session_id.
	KindSessionDestroyed = "session_destroyed"
	// KindCommandGenerated signals a successful generation.
	// Data: session_id, request_id, commands, elapsed_ms.
	KindCommandGenerated = "command_generated"
	// KindGenerationFailed signals a generation error or timeout.
	// Data: session_id, request_id, error, elapsed_ms.
	KindGenerationFailed = "generation_failed"

	// KindBackendUp signals the model backend became reachable.
	// Data: backend.
	KindBackendUp = "backend_up"
	// KindBackendDown signals the model backend stopped answering.
	// Data: backend, error.
	KindBackendDown = "backend_down"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel handed to subscribers back
	// to the channel stored in subs, so Unsubscribe can take <-chan Event.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers, dropping it for any
// subscriber whose buffer is full. A zero Timestamp is filled in. Safe to
// call on a nil receiver.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
