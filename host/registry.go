// Package host models the registration surface the event-producing platform
// exposes to logging backends: register a named callback once at startup,
// unregister it once at shutdown, and dispatch each call event record to
// every registered backend.
package host

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/switchkit/celamqp/cel"
)

// Handler processes one call event record. Errors are handled at the
// dispatch boundary; a failing handler drops only its own event.
type Handler func(ctx context.Context, rec *cel.Record) error

// Registry dispatches call event records to registered backends. Dispatch
// runs handlers on the caller's goroutine, so a backend may be invoked
// concurrently from whatever threads the event source uses.
type Registry struct {
	backends map[string]Handler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// RegistryOption configures the Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty backend registry.
func NewRegistry(options ...RegistryOption) *Registry {
	r := &Registry{
		backends: make(map[string]Handler),
		logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// Register adds a named backend. Registering a name twice is an error.
func (r *Registry) Register(name string, handler Handler) error {
	if name == "" {
		return fmt.Errorf("host: backend name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("host: handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[name]; exists {
		return fmt.Errorf("host: backend %q is already registered", name)
	}

	r.backends[name] = handler
	r.logger.Info("backend registered", "backend", name)
	return nil
}

// Unregister removes a named backend. Unregistering an unknown name is an
// error.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[name]; !exists {
		return fmt.Errorf("host: backend %q is not registered", name)
	}

	delete(r.backends, name)
	r.logger.Info("backend unregistered", "backend", name)
	return nil
}

// Dispatch delivers one record to every registered backend. Handler failures
// are logged and the event is discarded for that backend; no error
// propagates to the event source.
func (r *Registry) Dispatch(ctx context.Context, rec *cel.Record) {
	r.mu.RLock()
	handlers := make(map[string]Handler, len(r.backends))
	for name, h := range r.backends {
		handlers[name] = h
	}
	r.mu.RUnlock()

	for name, h := range handlers {
		if err := h(ctx, rec); err != nil {
			r.logger.Error("backend failed to log event",
				"backend", name,
				"uniqueid", rec.UniqueID,
				"error", err)
		}
	}
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
