package health

import (
	"context"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
	CheckTypeExec CheckType = "exec"
)

// StatusHealthy is the status an application must report in its health payload
const StatusHealthy = "healthy"

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType
}

// CheckerFunc adapts a function to the Checker interface
type CheckerFunc func(ctx context.Context) Result

func (f CheckerFunc) Check(ctx context.Context) Result {
	return f(ctx)
}

func (f CheckerFunc) Type() CheckType {
	return CheckTypeExec
}

func failed(start time.Time, msg string) Result {
	return Result{
		Healthy:   false,
		Message:   msg,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
