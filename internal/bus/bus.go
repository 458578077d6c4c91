// Package bus provides the internal event bus coordinating the session
// components: timer, dictation, orchestrator, viseme driver and the
// websocket surface all talk through it instead of holding references to
// each other.
package bus

import (
	"sync"
)

// EventType identifies different event types
type EventType string

// Event types for CoachVisio
const (
	// Timer events
	EventTimerState   EventType = "timer.state"
	EventTimerTick    EventType = "timer.tick"
	EventTimerStopped EventType = "timer.stopped"

	// Conversation events
	EventUserMessage    EventType = "chat.user_message"
	EventAssistantDelta EventType = "chat.assistant_delta"
	EventAssistantDone  EventType = "chat.assistant_done"
	EventErrorMessage   EventType = "chat.error_message"

	// Assistant speech events. Started always precedes the matching Ended,
	// and Ended fires exactly once per playback attempt.
	EventSpeakingStarted EventType = "speech.started"
	EventSpeakingEnded   EventType = "speech.ended"

	// Dictation events
	EventTranscript      EventType = "dictation.transcript"
	EventSilence         EventType = "dictation.silence"
	EventDictationNotice EventType = "dictation.notice"

	// Avatar events
	EventMouthWeight EventType = "avatar.mouth_weight"

	// Session events
	EventSummaryReady EventType = "session.summary_ready"
	EventSessionReset EventType = "session.reset"
)

// Event represents a bus event
type Event struct {
	Type EventType
	Data map[string]any
}

// Handler is a function that handles events
type Handler func(Event)

// Bus is a simple pub/sub event bus. Publish delivers synchronously, in
// subscription order, so a "speech.started" handler always runs before the
// matching "speech.ended" handler.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for an event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeMultiple adds a handler for multiple event types
func (b *Bus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	for _, et := range eventTypes {
		b.Subscribe(et, handler)
	}
}

// Publish sends an event to all subscribed handlers, synchronously and in
// subscription order. Handlers must not block for long.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type]))
	copy(handlers, b.handlers[event.Type])
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// PublishAsync sends an event without waiting for handlers. Ordering between
// events is not guaranteed; use Publish for anything order-sensitive.
func (b *Bus) PublishAsync(event Event) {
	go b.Publish(event)
}

// Clear removes all handlers
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]Handler)
}
