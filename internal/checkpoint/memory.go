package checkpoint

import (
	"context"
	"sync"

	"github.com/SteelMorgan/journal-ingest/internal/domain"
)

// MemoryPersister keeps checkpoints in process memory only.
// Used by full-history batch runs that must not resume.
type MemoryPersister struct {
	mu  sync.Mutex
	cps domain.Checkpoints
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{cps: domain.Checkpoints{}}
}

func (m *MemoryPersister) Load(ctx context.Context) (domain.Checkpoints, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cps.Clone(), nil
}

func (m *MemoryPersister) Merge(ctx context.Context, updates domain.Checkpoints) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mergeMax(m.cps, updates)
	return nil
}

func (m *MemoryPersister) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cps = domain.Checkpoints{}
	return nil
}

func (m *MemoryPersister) Close() error { return nil }
