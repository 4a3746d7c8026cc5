package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/SteelMorgan/journal-ingest/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

// JSONFilePersister keeps checkpoints in a single JSON object
// {"<filename>": <line>, ...}
type JSONFilePersister struct {
	mu   sync.Mutex
	path string
}

// NewJSONFilePersister creates a persister writing to path. The parent
// directory is created if missing.
func NewJSONFilePersister(path string) (*JSONFilePersister, error) {
	if path == "" {
		return nil, errors.New("checkpoint: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), defaultDirMode); err != nil {
		return nil, fmt.Errorf("checkpoint: mkdir: %w", err)
	}

	log.Info().
		Str("path", path).
		Msg("JSON checkpoint store initialized")

	return &JSONFilePersister{path: path}, nil
}

// Load reads the checkpoint file. Absent file is an empty map without error.
func (p *JSONFilePersister) Load(ctx context.Context) (domain.Checkpoints, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.read()
}

// Merge performs read-modify-write of the checkpoint file
func (p *JSONFilePersister) Merge(ctx context.Context, updates domain.Checkpoints) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	current, err := p.read()
	if err != nil {
		log.Warn().Err(err).Str("path", p.path).Msg("Checkpoint file unreadable, rewriting from scratch")
	}
	if len(mergeMax(current, updates)) == 0 {
		return nil
	}
	return p.write(current)
}

// Clear replaces the file with an empty object
func (p *JSONFilePersister) Clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.write(domain.Checkpoints{})
}

// Close is a no-op; every write is already durable
func (p *JSONFilePersister) Close() error {
	return nil
}

func (p *JSONFilePersister) read() (domain.Checkpoints, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Checkpoints{}, nil
		}
		return domain.Checkpoints{}, fmt.Errorf("checkpoint: read: %w", err)
	}

	var cps domain.Checkpoints
	if err := json.Unmarshal(data, &cps); err != nil {
		return domain.Checkpoints{}, fmt.Errorf("checkpoint: corrupt file %s: %w", p.path, err)
	}
	if cps == nil {
		cps = domain.Checkpoints{}
	}
	return cps, nil
}

// write replaces the file atomically: tmp file, fsync, rename
func (p *JSONFilePersister) write(cps domain.Checkpoints) error {
	payload, err := json.MarshalIndent(cps, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: marshal: %w", err)
	}

	tmp := p.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, defaultFileMode)
	if err != nil {
		return fmt.Errorf("checkpoint: open tmp: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("checkpoint: write tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("checkpoint: sync tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("checkpoint: close tmp: %w", err)
	}
	if err := os.Rename(tmp, p.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}
