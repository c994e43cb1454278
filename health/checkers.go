package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/switchkit/celamqp/internal/rabbitmq"
)

// AMQPChecker checks the health of one broker connection profile.
type AMQPChecker struct {
	connManager *rabbitmq.ConnectionManager
	logger      *slog.Logger
}

// NewAMQPChecker creates a health checker over a connection manager.
func NewAMQPChecker(connManager *rabbitmq.ConnectionManager, logger *slog.Logger) *AMQPChecker {
	return &AMQPChecker{
		connManager: connManager,
		logger:      logger,
	}
}

func (c *AMQPChecker) Name() string {
	return fmt.Sprintf("amqp_%s", c.connManager.Profile())
}

func (c *AMQPChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	conn, err := c.connManager.GetConnection()
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Failed to get connection"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	if conn.IsClosed() {
		result.Status = StatusUnhealthy
		result.Message = "Connection is closed"
		result.Duration = time.Since(start)
		return result
	}

	// Try to create a channel to test the connection
	ch, err := conn.Channel()
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Failed to create channel"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	defer ch.Close()

	// Perform a simple passive operation
	err = ch.ExchangeDeclarePassive(
		"amq.direct", // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		result.Status = StatusDegraded
		result.Message = "Exchange check failed"
		result.Error = err.Error()
	} else {
		result.Status = StatusHealthy
		result.Message = "Connection is healthy"
	}

	result.Duration = time.Since(start)
	result.Details["profile"] = c.connManager.Profile()
	result.Details["connection_open"] = !conn.IsClosed()
	result.Details["response_time_ms"] = result.Duration.Milliseconds()

	return result
}

// BackendChecker reports whether a logging backend has an active
// configuration generation installed.
type BackendChecker struct {
	name   string
	loaded func() bool
}

// NewBackendChecker creates a checker over a backend's loaded state.
func NewBackendChecker(name string, loaded func() bool) *BackendChecker {
	return &BackendChecker{
		name:   name,
		loaded: loaded,
	}
}

func (c *BackendChecker) Name() string {
	return fmt.Sprintf("backend_%s", c.name)
}

func (c *BackendChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	if c.loaded() {
		result.Status = StatusHealthy
		result.Message = "Backend is loaded"
	} else {
		result.Status = StatusUnhealthy
		result.Message = "Backend has no active configuration"
	}

	result.Duration = time.Since(start)
	return result
}
