package events

import (
	"context"
	"fmt"
)

// HandlerFunc adapts a function to DeliveryHandler.
type HandlerFunc func(ctx context.Context, entry OutboxEntry) error

func (f HandlerFunc) Handle(ctx context.Context, entry OutboxEntry) error {
	return f(ctx, entry)
}

// Router sends each entry to the handler registered for its type.
type Router struct {
	routes map[string]DeliveryHandler
}

func NewRouter() *Router {
	return &Router{routes: make(map[string]DeliveryHandler)}
}

// Register binds a handler to an entry type. A nil handler is ignored so optional
// mirrors can be registered unconditionally.
func (r *Router) Register(eventType string, handler DeliveryHandler) *Router {
	if handler != nil {
		r.routes[eventType] = handler
	}
	return r
}

// Handles reports whether eventType has a handler.
func (r *Router) Handles(eventType string) bool {
	_, ok := r.routes[eventType]
	return ok
}

func (r *Router) Handle(ctx context.Context, entry OutboxEntry) error {
	handler, ok := r.routes[entry.Type]
	if !ok {
		return fmt.Errorf("events: no handler for %q", entry.Type)
	}
	return handler.Handle(ctx, entry)
}
