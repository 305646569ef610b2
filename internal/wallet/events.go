package wallet

import (
	"sync"
	"time"
)

// EventType names an event on the shared adapter/service event surface.
type EventType string

const (
	// Adapter-level events, re-emitted from native wallet notifications.
	EventAccountsChanged EventType = "accountsChanged"
	EventChainChanged    EventType = "chainChanged"
	EventDisconnected    EventType = "disconnected"

	// Discovery lifecycle.
	EventDiscoveryStarted   EventType = "discovery_started"
	EventDiscoveryProgress  EventType = "discovery_progress"
	EventWalletFound        EventType = "wallet_found"
	EventDiscoveryCompleted EventType = "discovery_completed"
	EventDiscoveryTimeout   EventType = "discovery_timeout"
	EventDiscoveryError     EventType = "discovery_error"

	// Connection lifecycle.
	EventConnectionRequested   EventType = "connection_requested"
	EventConnectionEstablished EventType = "connection_established"
	EventConnectionFailed      EventType = "connection_failed"
	EventConnectionProgress    EventType = "connection_progress"
	EventSessionDisconnected   EventType = "session_disconnected"
	EventRecoveryAttempt       EventType = "recovery_attempt"
)

// Event is a single notification on the event surface.
type Event struct {
	Type      EventType      `json:"type"`
	WalletID  string         `json:"wallet_id,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler receives emitted events. Handlers run synchronously on the
// emitting goroutine and must not block.
type Handler func(Event)

// Emitter is the internal publish/subscribe surface events travel on.
// Multiple observers can watch a single discovery or connection round;
// subscribing returns an unsubscribe func.
type Emitter struct {
	mu     sync.RWMutex
	nextID int
	byType map[EventType]map[int]Handler
	any    map[int]Handler
}

// NewEmitter creates an empty emitter.
func NewEmitter() *Emitter {
	return &Emitter{
		byType: make(map[EventType]map[int]Handler),
		any:    make(map[int]Handler),
	}
}

// On registers a handler for one event type.
func (e *Emitter) On(t EventType, h Handler) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	if e.byType[t] == nil {
		e.byType[t] = make(map[int]Handler)
	}
	e.byType[t][id] = h

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.byType[t], id)
	}
}

// OnAny registers a handler for every event type.
func (e *Emitter) OnAny(h Handler) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.any[id] = h

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.any, id)
	}
}

// Emit delivers the event to all matching handlers.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.byType[ev.Type])+len(e.any))
	for _, h := range e.byType[ev.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range e.any {
		handlers = append(handlers, h)
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
