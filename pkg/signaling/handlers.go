package signaling

import (
	"context"
	"sync"

	"github.com/HMasataka/wsrelay/pkg/errors"
)

// Handler processes one envelope addressed to the local peer
type Handler interface {
	Handle(ctx context.Context, env *Envelope) error
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(ctx context.Context, env *Envelope) error

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, env *Envelope) error {
	return f(ctx, env)
}

// HandlerRegistry routes envelopes to handlers by type
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[MessageType]Handler
}

// NewHandlerRegistry creates a new handler registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[MessageType]Handler),
	}
}

// Register sets the handler for messageType, replacing any previous one
func (r *HandlerRegistry) Register(messageType MessageType, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[messageType] = handler
}

// Unregister removes the handler for messageType
func (r *HandlerRegistry) Unregister(messageType MessageType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, messageType)
}

// Get retrieves the handler for messageType
func (r *HandlerRegistry) Get(messageType MessageType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[messageType]
	return handler, ok
}

// Handle routes env to its handler
func (r *HandlerRegistry) Handle(ctx context.Context, env *Envelope) error {
	handler, ok := r.Get(env.Type)
	if !ok {
		return errors.New(errors.ErrorTypeNotFound, "NO_HANDLER", "no handler for message type").
			WithDetails(string(env.Type))
	}
	return handler.Handle(ctx, env)
}
