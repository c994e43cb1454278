package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectionManager manages one broker connection with automatic reconnection.
// The event path never dials; it only borrows the already-open connection.
type ConnectionManager struct {
	profile        string
	url            string
	conn           *amqp.Connection
	mu             sync.RWMutex
	reconnectDelay time.Duration
	maxRetries     int
	logger         *slog.Logger
	notifyClose    chan *amqp.Error
	isConnected    bool
	done           chan bool
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithReconnectDelay sets the reconnection delay
func WithReconnectDelay(delay time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.reconnectDelay = delay
	}
}

// WithMaxRetries sets the maximum number of reconnection attempts
func WithMaxRetries(retries int) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.maxRetries = retries
	}
}

// NewConnectionManager creates a connection manager for one named profile.
func NewConnectionManager(profile, url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		profile:        profile,
		url:            url,
		reconnectDelay: 5 * time.Second,
		maxRetries:     -1, // infinite retries by default
		logger:         slog.Default(),
		done:           make(chan bool),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// Profile returns the profile name this manager serves.
func (cm *ConnectionManager) Profile() string {
	return cm.profile
}

// Connect establishes the initial connection
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.isConnected {
		return nil
	}

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	connChan := make(chan *amqp.Connection, 1)
	errChan := make(chan error, 1)

	go func() {
		conn, err := amqp.Dial(cm.url)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- conn
	}()

	select {
	case conn := <-connChan:
		cm.conn = conn
		cm.isConnected = true
		cm.notifyClose = make(chan *amqp.Error)
		cm.conn.NotifyClose(cm.notifyClose)

		cm.logger.Info("connected to broker",
			"profile", cm.profile,
			"url", SanitizeURL(cm.url))

		go cm.handleReconnect()

		return nil

	case err := <-errChan:
		return &ConnectionError{
			Op:        "connect",
			Profile:   cm.profile,
			URL:       SanitizeURL(cm.url),
			Err:       err,
			Timestamp: time.Now(),
			Attempts:  1,
		}

	case <-connCtx.Done():
		return &ConnectionError{
			Op:        "connect",
			Profile:   cm.profile,
			URL:       SanitizeURL(cm.url),
			Err:       ErrConnectionTimeout,
			Timestamp: time.Now(),
			Attempts:  1,
		}
	}
}

// GetConnection returns the current connection
func (cm *ConnectionManager) GetConnection() (*amqp.Connection, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.isConnected || cm.conn == nil {
		return nil, ErrConnectionNotReady
	}

	if cm.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}

	return cm.conn, nil
}

// IsConnected returns the connection status
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isConnected
}

// Close closes the connection
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if !cm.isConnected {
		return nil
	}

	close(cm.done)
	cm.isConnected = false

	if cm.conn != nil {
		err := cm.conn.Close()
		cm.conn = nil
		return err
	}

	return nil
}

// handleReconnect monitors the connection and reconnects if necessary
func (cm *ConnectionManager) handleReconnect() {
	for {
		select {
		case err := <-cm.notifyClose:
			if err != nil {
				cm.logger.Error("connection closed", "profile", cm.profile, "error", err)
			}

			cm.mu.Lock()
			cm.isConnected = false
			cm.conn = nil
			cm.mu.Unlock()

			cm.reconnect()

		case <-cm.done:
			cm.logger.Info("connection manager shutting down", "profile", cm.profile)
			return
		}
	}
}

// reconnect attempts to reconnect to the broker
func (cm *ConnectionManager) reconnect() {
	retries := 0
	startTime := time.Now()

	for {
		select {
		case <-cm.done:
			return
		default:
		}

		if cm.maxRetries > 0 && retries >= cm.maxRetries {
			cm.logger.Error("max reconnection attempts reached",
				"profile", cm.profile,
				"attempts", retries,
				"duration", time.Since(startTime))
			return
		}

		cm.logger.Info("attempting to reconnect",
			"profile", cm.profile,
			"attempt", retries+1,
			"maxRetries", cm.maxRetries)

		delay := cm.calculateBackoff(retries)

		if retries > 0 {
			select {
			case <-time.After(delay):
			case <-cm.done:
				return
			}
		}

		connCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		connChan := make(chan *amqp.Connection, 1)
		errChan := make(chan error, 1)

		go func() {
			conn, err := amqp.Dial(cm.url)
			if err != nil {
				errChan <- err
				return
			}
			connChan <- conn
		}()

		select {
		case conn := <-connChan:
			cancel()

			cm.mu.Lock()
			cm.conn = conn
			cm.isConnected = true
			cm.notifyClose = make(chan *amqp.Error)
			cm.conn.NotifyClose(cm.notifyClose)
			cm.mu.Unlock()

			cm.logger.Info("successfully reconnected to broker",
				"profile", cm.profile,
				"attempts", retries+1,
				"duration", time.Since(startTime))

			return

		case err := <-errChan:
			cancel()
			cm.logger.Error("reconnection failed",
				"profile", cm.profile,
				"error", err,
				"attempt", retries+1,
				"nextRetryIn", delay)
			retries++

		case <-connCtx.Done():
			cancel()
			cm.logger.Error("reconnection timeout",
				"profile", cm.profile,
				"attempt", retries+1)
			retries++

		case <-cm.done:
			cancel()
			return
		}
	}
}

// calculateBackoff calculates the backoff duration with jitter
func (cm *ConnectionManager) calculateBackoff(attempt int) time.Duration {
	base := cm.reconnectDelay
	if base == 0 {
		base = 5 * time.Second
	}

	// Cap at 5 minutes
	maxDelay := 5 * time.Minute

	delay := base * time.Duration(1<<uint(attempt))
	if delay > maxDelay {
		delay = maxDelay
	}

	// Add jitter (±25%)
	jitter := time.Duration(float64(delay) * 0.25)
	delay = delay - jitter/2 + time.Duration(time.Now().UnixNano()%int64(jitter))

	return delay
}
