package presence

import (
	"context"
	"sync"
)

// MemoryRegistry is a process-local Registry used by tests and by
// single-process deployments that run without Redis.
type MemoryRegistry struct {
	mu       sync.RWMutex
	records  map[string]string // participant key -> connRef
	assigned map[string]string // driverID -> riderID
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		records:  make(map[string]string),
		assigned: make(map[string]string),
	}
}

func (m *MemoryRegistry) Register(ctx context.Context, id string, kind Kind, connRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[participantKey(kind, id)] = connRef
	return nil
}

func (m *MemoryRegistry) Lookup(ctx context.Context, id string, kind Kind) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.records[participantKey(kind, id)]
	if !ok {
		return "", ErrNotRegistered
	}
	return v, nil
}

func (m *MemoryRegistry) Deregister(ctx context.Context, connRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, v := range m.records {
		if v == connRef {
			delete(m.records, key)
		}
	}
	return nil
}

func (m *MemoryRegistry) Assign(ctx context.Context, driverID, riderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assigned[driverID] = riderID
	return nil
}

func (m *MemoryRegistry) AssignedRider(ctx context.Context, driverID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.assigned[driverID]
	if !ok {
		return "", ErrNotRegistered
	}
	return v, nil
}
