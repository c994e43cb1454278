package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultProfile is the profile resolved when a caller asks for an empty
// connection name.
const DefaultProfile = "default"

// Profile describes one named broker connection.
type Profile struct {
	URL string
}

// Registry resolves named connection profiles to live connection managers.
// Managers are created lazily and shared across callers; the registry owns
// their lifecycle.
type Registry struct {
	profiles map[string]Profile
	managers map[string]*ConnectionManager
	options  []ConnectionOption
	logger   *slog.Logger
	mu       sync.Mutex
}

// RegistryOption configures the Registry
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithConnectionOptions sets options applied to every managed connection.
func WithConnectionOptions(options ...ConnectionOption) RegistryOption {
	return func(r *Registry) {
		r.options = append(r.options, options...)
	}
}

// NewRegistry creates a registry over the given named profiles.
func NewRegistry(profiles map[string]Profile, options ...RegistryOption) (*Registry, error) {
	if len(profiles) == 0 {
		return nil, ErrNoProfiles
	}

	r := &Registry{
		profiles: profiles,
		managers: make(map[string]*ConnectionManager),
		logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(r)
	}

	r.options = append(r.options, WithLogger(r.logger))

	return r, nil
}

// Get returns the connection manager for a named profile without connecting
// it. An empty name resolves to the default profile.
func (r *Registry) Get(name string) (*ConnectionManager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.getLocked(name)
}

func (r *Registry) getLocked(name string) (*ConnectionManager, error) {
	if name == "" {
		name = DefaultProfile
	}

	if cm, ok := r.managers[name]; ok {
		return cm, nil
	}

	profile, ok := r.profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}

	cm := NewConnectionManager(name, profile.URL, r.options...)
	r.managers[name] = cm
	return cm, nil
}

// Open resolves a named profile, connects it if necessary, and returns a
// publisher bound to the live connection. Failure to connect leaves the
// registry unchanged.
func (r *Registry) Open(ctx context.Context, name string) (*EventPublisher, error) {
	r.mu.Lock()
	cm, err := r.getLocked(name)
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := cm.Connect(ctx); err != nil {
		return nil, err
	}

	conn, err := cm.GetConnection()
	if err != nil {
		return nil, err
	}

	return NewEventPublisher(conn)
}

// Close shuts down every manager the registry created.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, cm := range r.managers {
		if err := cm.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close profile %q: %w", name, err)
		}
		delete(r.managers, name)
	}

	return firstErr
}
