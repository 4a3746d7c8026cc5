package checkpoint

import (
	"context"

	"github.com/SteelMorgan/journal-ingest/internal/domain"
)

// Persister stores the checkpoint map durably.
// Implementations: JSON file (default), BoltDB, in-memory (batch mode).
type Persister interface {
	// Load returns the persisted map. A corrupt store returns an error
	// together with an empty, usable map.
	Load(ctx context.Context) (domain.Checkpoints, error)

	// Merge applies updates with read-modify-write. Entries not named in
	// updates are left untouched; an update never lowers a stored value.
	Merge(ctx context.Context, updates domain.Checkpoints) error

	// Clear removes every entry
	Clear(ctx context.Context) error

	// Close releases resources
	Close() error
}

// mergeMax folds updates into dst keeping the highest value per file.
// It returns the entries that actually advanced.
func mergeMax(dst, updates domain.Checkpoints) domain.Checkpoints {
	advanced := make(domain.Checkpoints)
	for name, line := range updates {
		if line < 0 {
			continue
		}
		if cur, ok := dst[name]; ok && cur >= line {
			continue
		}
		dst[name] = line
		advanced[name] = line
	}
	return advanced
}
