// Package health provides the connection health checks behind the bridge's
// status surface.
package health

import (
	"context"
	"time"
)

// Status represents the health of a checked component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of a single health check.
type CheckResult struct {
	Name      string
	Status    Status
	Message   string
	Error     string
	Duration  time.Duration
	Timestamp time.Time
	Details   map[string]interface{}
}

// Checker performs a health check against one component.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}
