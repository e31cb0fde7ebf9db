package xapi

import (
	"context"
	"sync"
)

// HandlerFunc handles a single Event.
type HandlerFunc func(ctx context.Context, e Event)

// Router maps event kinds to handlers.
//
// Events are handled one at a time: a handler never runs while another handler is running, so
// handlers may share state without additional locking.
type Router struct {
	mu       sync.RWMutex
	handlers map[EventKind]HandlerFunc

	// dispatchMu serializes Dispatch calls made outside of Run.
	dispatchMu sync.Mutex
}

func NewRouter() *Router {
	return &Router{
		handlers: make(map[EventKind]HandlerFunc),
	}
}

// Handle registers h for events of the given kind, replacing any previous handler.
// A nil h removes the handler.
func (r *Router) Handle(kind EventKind, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h == nil {
		delete(r.handlers, kind)
		return
	}
	r.handlers[kind] = h
}

// Dispatch calls the handler registered for e.Kind, if any, and returns after it finished.
// It reports whether a handler was found.
func (r *Router) Dispatch(ctx context.Context, e Event) bool {
	r.mu.RLock()
	h, ok := r.handlers[e.Kind]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	r.dispatchMu.Lock()
	defer r.dispatchMu.Unlock()
	h(ctx, e)

	return true
}

// Run dispatches events read from events until ctx is done or events is closed.
// It returns ctx.Err() when the context ended and nil when the channel was closed.
func (r *Router) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			r.Dispatch(ctx, e)
		}
	}
}
