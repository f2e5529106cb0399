package progress

import (
	"context"
	"sync"

	"github.com/jonesrussell/north-cloud/likechat/internal/domain"
)

// MemoryBackend keeps records in a map. Contents live as long as the value.
type MemoryBackend struct {
	mu      sync.Mutex
	records map[int64]domain.UserProgress
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[int64]domain.UserProgress)}
}

// Update implements Backend.
func (b *MemoryBackend) Update(
	_ context.Context,
	userID int64,
	init domain.UserProgress,
	fn func(p *domain.UserProgress) bool,
) (domain.UserProgress, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.records[userID]
	if !ok {
		current = init
	}
	next := current.Clone()
	if fn(&next) || !ok {
		b.records[userID] = next.Clone()
	}
	return next, nil
}

// Delete implements Backend.
func (b *MemoryBackend) Delete(_ context.Context, userID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.records, userID)
	return nil
}
