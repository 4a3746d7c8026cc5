package checkpoint

import (
	"context"
	"fmt"
	"sync"

	"github.com/SteelMorgan/journal-ingest/internal/domain"
	"github.com/rs/zerolog/log"
)

// Store owns the checkpoint map. Workers only read it; the dispatcher
// commits to it after events were delivered.
type Store struct {
	mu        sync.Mutex
	persister Persister
	current   domain.Checkpoints
	loaded    bool
}

// NewStore creates a store backed by persister
func NewStore(persister Persister) *Store {
	return &Store{
		persister: persister,
		current:   domain.Checkpoints{},
	}
}

// Load reads the persisted map once. A corrupt or unreadable store yields an
// empty map so every file is rescanned from zero.
func (s *Store) Load(ctx context.Context) domain.Checkpoints {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return s.current.Clone()
	}

	cps, err := s.persister.Load(ctx)
	if err != nil {
		log.Warn().
			Err(err).
			Msg("Checkpoint store unreadable, starting from zero for all files")
		cps = domain.Checkpoints{}
	}
	s.current = cps
	s.loaded = true

	log.Info().
		Int("files", len(cps)).
		Msg("Checkpoints loaded")

	return s.current.Clone()
}

// Get returns the committed line index for a file
func (s *Store) Get(name string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, ok := s.current[name]
	return line, ok
}

// Commit records progress for one file
func (s *Store) Commit(ctx context.Context, name string, line int64) error {
	return s.Merge(ctx, domain.Checkpoints{name: line})
}

// Merge records progress for several files. Files not named keep their
// previous value and no value ever regresses.
func (s *Store) Merge(ctx context.Context, updates domain.Checkpoints) error {
	if len(updates) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current.Clone()
	advanced := mergeMax(next, updates)
	if len(advanced) == 0 {
		return nil
	}

	if err := s.persister.Merge(ctx, advanced); err != nil {
		return fmt.Errorf("failed to persist checkpoints: %w", err)
	}
	s.current = next

	log.Debug().
		Int("files", len(advanced)).
		Msg("Checkpoints committed")

	return nil
}

// Snapshot returns a copy of the committed map
func (s *Store) Snapshot() domain.Checkpoints {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Clear drops every checkpoint. Only a user-triggered full rescan calls it.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persister.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	s.current = domain.Checkpoints{}

	log.Info().Msg("Checkpoints cleared")
	return nil
}

// Close closes the underlying persister
func (s *Store) Close() error {
	return s.persister.Close()
}
