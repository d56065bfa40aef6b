package recovery

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// BreakerState is the lifecycle state of one circuit breaker.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// breakerKey identifies a breaker by the failing component and error kind.
type breakerKey struct {
	component string
	kind      ErrorKind
}

// breaker holds the mutable state for one key. Guarded by the registry lock.
type breaker struct {
	state    BreakerState
	failures int
	openedAt time.Time
}

// BreakerSnapshot is a read-only view of one breaker for stats and metrics.
type BreakerSnapshot struct {
	Component string       `json:"component"`
	Kind      ErrorKind    `json:"kind"`
	State     BreakerState `json:"state"`
	Failures  int          `json:"failures"`
	OpenedAt  time.Time    `json:"opened_at,omitempty"`
}

// TransitionListener observes breaker state changes.
type TransitionListener func(component string, kind ErrorKind, from, to BreakerState)

// BreakerRegistry owns every breaker. State transitions for a key are
// serialized by the registry lock: the first writer opens a breaker,
// subsequent writers observe it already open.
type BreakerRegistry struct {
	mu        sync.Mutex
	breakers  map[breakerKey]*breaker
	threshold int
	timeout   time.Duration
	listener  TransitionListener

	logger *zap.Logger
}

// NewBreakerRegistry creates an empty registry. Breakers open after
// threshold consecutive recorded failures and admit a trial call once
// timeout has elapsed.
func NewBreakerRegistry(threshold int, timeout time.Duration, logger *zap.Logger) *BreakerRegistry {
	return &BreakerRegistry{
		breakers:  make(map[breakerKey]*breaker),
		threshold: threshold,
		timeout:   timeout,
		logger:    logger.Named("breakers"),
	}
}

// OnTransition registers a listener invoked after every state change. The
// listener runs outside the registry lock and may call back into it.
func (r *BreakerRegistry) OnTransition(fn TransitionListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = fn
}

// RecordFailure increments the failure count for (component, kind) and opens
// the breaker when the count reaches the threshold while closed. A failure
// recorded while half-open reopens immediately: the trial call failed. It
// reports whether this call opened the breaker.
func (r *BreakerRegistry) RecordFailure(component string, kind ErrorKind) bool {
	r.mu.Lock()

	b := r.getLocked(component, kind)
	b.failures++
	opened := false
	var from BreakerState
	switch {
	case b.state == StateHalfOpen,
		b.state == StateClosed && b.failures >= r.threshold:
		from = r.transitionLocked(component, kind, b, StateOpen)
		b.openedAt = time.Now()
		opened = true
	}
	listener := r.listener
	r.mu.Unlock()

	if opened && listener != nil {
		listener(component, kind, from, StateOpen)
	}
	return opened
}

// IsOpen reports whether calls for (component, kind) should be refused.
// An open breaker past its timeout moves to half-open and admits the caller
// as a trial.
func (r *BreakerRegistry) IsOpen(component string, kind ErrorKind) bool {
	r.mu.Lock()

	b, ok := r.breakers[breakerKey{component, kind}]
	if !ok || b.state == StateClosed || b.state == StateHalfOpen {
		r.mu.Unlock()
		return false
	}
	if time.Since(b.openedAt) > r.timeout {
		from := r.transitionLocked(component, kind, b, StateHalfOpen)
		listener := r.listener
		r.mu.Unlock()
		if listener != nil {
			listener(component, kind, from, StateHalfOpen)
		}
		return false
	}
	r.mu.Unlock()
	return true
}

// Reset closes the breaker and clears its failure count. Called after a
// successful recovery; breakers never close by timeout alone.
func (r *BreakerRegistry) Reset(component string, kind ErrorKind) {
	r.mu.Lock()

	b, ok := r.breakers[breakerKey{component, kind}]
	if !ok {
		r.mu.Unlock()
		return
	}
	b.failures = 0
	if b.state == StateClosed {
		r.mu.Unlock()
		return
	}
	from := r.transitionLocked(component, kind, b, StateClosed)
	listener := r.listener
	r.mu.Unlock()

	if listener != nil {
		listener(component, kind, from, StateClosed)
	}
}

// OpenCount returns the number of breakers currently open.
func (r *BreakerRegistry) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, b := range r.breakers {
		if b.state == StateOpen {
			count++
		}
	}
	return count
}

// Snapshot returns a copy of every breaker's state.
func (r *BreakerRegistry) Snapshot() []BreakerSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]BreakerSnapshot, 0, len(r.breakers))
	for key, b := range r.breakers {
		out = append(out, BreakerSnapshot{
			Component: key.component,
			Kind:      key.kind,
			State:     b.state,
			Failures:  b.failures,
			OpenedAt:  b.openedAt,
		})
	}
	return out
}

func (r *BreakerRegistry) getLocked(component string, kind ErrorKind) *breaker {
	key := breakerKey{component, kind}
	b, ok := r.breakers[key]
	if !ok {
		b = &breaker{state: StateClosed}
		r.breakers[key] = b
	}
	return b
}

// transitionLocked changes the breaker state and returns the previous one.
// The caller invokes the listener after releasing the registry lock so
// listeners may write to storage or call back into the registry.
func (r *BreakerRegistry) transitionLocked(component string, kind ErrorKind, b *breaker, to BreakerState) BreakerState {
	from := b.state
	b.state = to

	r.logger.Info("Circuit breaker state changed",
		zap.String("component", component),
		zap.String("error_kind", string(kind)),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("failures", b.failures))

	return from
}
