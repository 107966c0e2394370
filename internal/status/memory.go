package status

import (
	"context"
	"sync"

	"alerteval/internal/domain"
)

// Memory keeps the latest status per identity in process memory.
type Memory struct {
	mu       sync.RWMutex
	statuses map[uint64]domain.Status
}

// NewMemory creates in-memory status writer.
func NewMemory() *Memory {
	return &Memory{statuses: make(map[uint64]domain.Status)}
}

// Write stores statuses, keeping the newest per identity.
func (m *Memory) Write(_ context.Context, statuses []domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range statuses {
		if prev, ok := m.statuses[st.AlertHash]; ok && prev.TimestampSec > st.TimestampSec {
			continue
		}
		m.statuses[st.AlertHash] = st
	}
	return nil
}

// Get returns stored status or ErrNotFound.
func (m *Memory) Get(_ context.Context, alertHash uint64) (domain.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.statuses[alertHash]
	if !ok {
		return domain.Status{}, ErrNotFound
	}
	return st, nil
}

// Len returns number of stored statuses.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses)
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
