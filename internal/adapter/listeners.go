package adapter

import (
	"log/slog"
	"sync"
)

// EventSource is the optional notification surface of a native wallet
// handle. On returns a token identifying the registration.
type EventSource interface {
	On(event string, handler func(payload any)) (token int)
}

// ListenerRemover is implemented by handles supporting targeted removal.
type ListenerRemover interface {
	RemoveListener(event string, token int)
}

// AllListenerRemover is the blanket fallback when targeted removal is
// not available.
type AllListenerRemover interface {
	RemoveAllListeners()
}

// ListenerRegistry tracks the listeners one adapter instance registered
// on a native handle, so cleanup removes exactly those and leaves
// listeners registered by unrelated code on the same handle untouched.
type ListenerRegistry struct {
	mu     sync.Mutex
	tokens map[string][]int
}

// NewListenerRegistry creates an empty registry.
func NewListenerRegistry() *ListenerRegistry {
	return &ListenerRegistry{tokens: make(map[string][]int)}
}

// Track records a registration made on the handle.
func (r *ListenerRegistry) Track(event string, token int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[event] = append(r.tokens[event], token)
}

// Clear removes every tracked listener from the handle. Targeted
// removal is preferred; a handle exposing only RemoveAllListeners gets
// the blanket call, which also drops listeners this adapter did not
// register.
func (r *ListenerRegistry) Clear(handle any, logger *slog.Logger) {
	r.mu.Lock()
	tracked := r.tokens
	r.tokens = make(map[string][]int)
	r.mu.Unlock()

	if len(tracked) == 0 {
		return
	}

	if remover, ok := handle.(ListenerRemover); ok {
		for event, tokens := range tracked {
			for _, token := range tokens {
				remover.RemoveListener(event, token)
			}
		}
		return
	}

	if remover, ok := handle.(AllListenerRemover); ok {
		if logger != nil {
			logger.Debug("handle lacks targeted listener removal, removing all listeners")
		}
		remover.RemoveAllListeners()
	}
}
