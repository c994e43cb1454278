// Package celamqp bridges a telephony platform's Call Event Logging stream
// to an AMQP broker. Each call event is formatted as a canonical JSON
// document and published once, fire-and-forget, to the configured exchange
// and queue.
package celamqp

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/switchkit/celamqp/cel"
	"github.com/switchkit/celamqp/config"
	"github.com/switchkit/celamqp/internal/rabbitmq"
)

// BackendName is the name the backend registers under with the host.
const BackendName = "AMQP"

// Publisher sends one message to an exchange/routing-key pair over an
// already-open broker connection.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
	Close() error
}

// ConnectionSource resolves a named connection profile to a live Publisher.
// Connection lifecycle, credentials, and reconnection belong entirely to the
// source.
type ConnectionSource interface {
	Open(ctx context.Context, name string) (Publisher, error)
}

// RegistrySource adapts the broker connection registry to ConnectionSource.
type RegistrySource struct {
	registry *rabbitmq.Registry
}

// NewRegistrySource wraps a connection registry.
func NewRegistrySource(registry *rabbitmq.Registry) *RegistrySource {
	return &RegistrySource{registry: registry}
}

// Open implements ConnectionSource.
func (s *RegistrySource) Open(ctx context.Context, name string) (Publisher, error) {
	return s.registry.Open(ctx, name)
}

// snapshot is one immutable configuration generation: the routing config and
// the publisher resolved for it. Readers take one atomic load per event;
// reload swaps the whole pair, never mutating a snapshot in place.
type snapshot struct {
	routing config.CELConfig
	pub     Publisher
}

// Backend is the CEL AMQP backend. It formats incoming call event records
// and publishes them through the currently installed snapshot.
type Backend struct {
	name      string
	path      string
	source    ConnectionSource
	formatter *cel.Formatter
	logger    *slog.Logger
	snap      atomic.Pointer[snapshot]
}

// BackendOption configures the Backend.
type BackendOption func(*Backend)

// WithBackendLogger sets the logger.
func WithBackendLogger(logger *slog.Logger) BackendOption {
	return func(b *Backend) {
		b.logger = logger
	}
}

// WithBackendName overrides the name the backend reports to the host.
func WithBackendName(name string) BackendOption {
	return func(b *Backend) {
		b.name = name
	}
}

// NewBackend creates a backend that loads its routing configuration from the
// file at path and resolves connections through source. No snapshot is
// installed until Load succeeds.
func NewBackend(path string, source ConnectionSource, options ...BackendOption) (*Backend, error) {
	if source == nil {
		return nil, fmt.Errorf("celamqp: connection source cannot be nil")
	}

	b := &Backend{
		name:   BackendName,
		path:   path,
		source: source,
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(b)
	}

	b.formatter = cel.NewFormatter(cel.WithFormatterLogger(b.logger))

	return b, nil
}

// Name returns the backend's registration name.
func (b *Backend) Name() string {
	return b.name
}

// Load parses the configuration and installs the first snapshot. If the file
// is invalid or the connection profile cannot be resolved, the backend
// declines to load and no snapshot is installed.
func (b *Backend) Load(ctx context.Context) error {
	snap, err := b.buildSnapshot(ctx)
	if err != nil {
		return err
	}

	b.snap.Store(snap)
	b.logger.Info("CEL AMQP logging enabled",
		"connection", snap.routing.Connection,
		"exchange", snap.routing.Exchange,
		"queue", snap.routing.Queue)
	return nil
}

// Reload builds a brand-new snapshot and swaps it in atomically. On any
// failure the previously active snapshot stays installed and the error is
// returned; an in-flight event never observes a half-updated pair.
func (b *Backend) Reload(ctx context.Context) error {
	snap, err := b.buildSnapshot(ctx)
	if err != nil {
		b.logger.Error("reload failed, keeping previous configuration", "error", err)
		return err
	}

	old := b.snap.Swap(snap)
	if old != nil {
		if err := old.pub.Close(); err != nil {
			b.logger.Error("failed to close previous publisher", "error", err)
		}
	}

	b.logger.Info("configuration reloaded",
		"connection", snap.routing.Connection,
		"exchange", snap.routing.Exchange,
		"queue", snap.routing.Queue)
	return nil
}

// Unload releases the active snapshot. Events arriving afterwards are
// dropped with an error.
func (b *Backend) Unload() error {
	old := b.snap.Swap(nil)
	if old == nil {
		return nil
	}
	return old.pub.Close()
}

func (b *Backend) buildSnapshot(ctx context.Context) (*snapshot, error) {
	cfg, err := config.Load(b.path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pub, err := b.source.Open(ctx, cfg.CEL.Connection)
	if err != nil {
		return nil, fmt.Errorf("celamqp: could not get AMQP connection %q: %w", cfg.CEL.Connection, err)
	}

	return &snapshot{
		routing: cfg.CEL,
		pub:     pub,
	}, nil
}

// HandleEvent formats one call event record and publishes it using the
// snapshot installed at call time. Failures drop the single event; there is
// no retry and no local buffering.
func (b *Backend) HandleEvent(ctx context.Context, rec *cel.Record) error {
	snap := b.snap.Load()
	if snap == nil {
		return fmt.Errorf("celamqp: backend is not loaded")
	}

	body, err := b.formatter.Format(rec)
	if err != nil {
		return fmt.Errorf("celamqp: failed to format event: %w", err)
	}

	if err := snap.pub.Publish(ctx, snap.routing.Exchange, snap.routing.Queue, body); err != nil {
		return fmt.Errorf("celamqp: failed to publish event: %w", err)
	}

	return nil
}

// Status reports the currently installed routing configuration.
type Status struct {
	Loaded     bool
	Connection string
	Exchange   string
	Queue      string
}

// Status returns the routing configuration of the active snapshot.
func (b *Backend) Status() Status {
	snap := b.snap.Load()
	if snap == nil {
		return Status{}
	}
	return Status{
		Loaded:     true,
		Connection: snap.routing.Connection,
		Exchange:   snap.routing.Exchange,
		Queue:      snap.routing.Queue,
	}
}
