package recovery

import (
	"errors"
	"time"
)

// ErrorKind classifies a reported failure for strategy dispatch.
type ErrorKind string

// Known error kinds. Unknown kinds are recorded but have no strategy.
const (
	KindTimeout            ErrorKind = "timeout"
	KindResourceExhaustion ErrorKind = "resource_exhaustion"
	KindConnectionFailure  ErrorKind = "connection_failure"
	KindProcessingOverload ErrorKind = "processing_overload"
	KindDataCorruption     ErrorKind = "data_corruption"
)

// Recovery refusal reasons surfaced in RecoveryResult.Reason
const (
	ReasonBreakerOpen    = "circuit_breaker_open"
	ReasonNoStrategy     = "no_strategy"
	ReasonRecoveryFailed = "recovery_failed"
	ReasonRecovered      = "recovered"
)

// ErrManualInterventionRequired indicates a failure class that cannot be
// repaired automatically.
var ErrManualInterventionRequired = errors.New("manual intervention required")

// ErrorEvent is one recorded failure.
type ErrorEvent struct {
	Kind      ErrorKind `json:"kind"`
	Component string    `json:"component"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
