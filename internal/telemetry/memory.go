package telemetry

import (
	"context"
	"sync"
)

// MemoryStorage is a bounded in-memory EventStorage. All control-loop state
// is in-process and non-persisted; a restart loses event history.
type MemoryStorage struct {
	mu     sync.RWMutex
	events []Event
	limit  int
}

// NewMemoryStorage creates storage retaining the most recent limit events.
func NewMemoryStorage(limit int) *MemoryStorage {
	return &MemoryStorage{
		events: make([]Event, 0, limit),
		limit:  limit,
	}
}

// StoreEvent appends the event, evicting the oldest when full.
func (m *MemoryStorage) StoreEvent(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, event)
	if len(m.events) > m.limit {
		m.events = m.events[len(m.events)-m.limit:]
	}
	return nil
}

// GetEvents returns stored events matching the filter, oldest first.
func (m *MemoryStorage) GetEvents(ctx context.Context, filter EventFilter) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Event
	for _, ev := range m.events {
		if !matches(ev, filter) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func matches(ev Event, f EventFilter) bool {
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if f.Component != "" && ev.Component != f.Component {
		return false
	}
	if f.Severity != "" && ev.Severity != f.Severity {
		return false
	}
	if !f.StartTime.IsZero() && ev.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && ev.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}
