package autoscaler

import (
	"errors"
	"fmt"
)

// Sentinel errors for scaling operations
var (
	// ErrUnknownPool indicates the action targets a pool kind that is not managed
	ErrUnknownPool = errors.New("unknown pool kind")

	// ErrPoolStopped indicates the pool no longer accepts work or resizes
	ErrPoolStopped = errors.New("worker pool is stopped")

	// ErrMissingTargetSize indicates a scaling action without a target_size parameter
	ErrMissingTargetSize = errors.New("scaling action has no target size")

	// ErrQueueFull indicates the pool's task backlog is full
	ErrQueueFull = errors.New("task queue is full")
)

// ScalingError wraps a failed scaling operation with its context
type ScalingError struct {
	Pool      string
	Operation string
	Cause     error
}

// Error implements the error interface
func (e *ScalingError) Error() string {
	return fmt.Sprintf("scaling %s pool %q failed: %v", e.Operation, e.Pool, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As
func (e *ScalingError) Unwrap() error {
	return e.Cause
}

// NewScalingError creates a ScalingError with context
func NewScalingError(pool, operation string, cause error) *ScalingError {
	return &ScalingError{Pool: pool, Operation: operation, Cause: cause}
}
