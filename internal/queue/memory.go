package queue

import (
	"context"
	"sync"

	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
)

// MemoryBackend keeps records in process memory. Its lifetime is the
// lifetime of the value; nothing is persisted.
type MemoryBackend struct {
	mu      sync.Mutex
	records []domain.LinkRecord
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Load returns a copy of the stored records.
func (m *MemoryBackend) Load(_ context.Context) ([]domain.LinkRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneAll(m.records), nil
}

// Update runs fn under the backend lock.
func (m *MemoryBackend) Update(_ context.Context, fn func([]domain.LinkRecord) ([]domain.LinkRecord, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := fn(cloneAll(m.records))
	if err != nil {
		return err
	}
	m.records = cloneAll(next)
	return nil
}
