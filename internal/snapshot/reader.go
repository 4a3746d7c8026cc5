package snapshot

import (
	"bytes"
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
	StatusFile   = "Status.json"
	NavRouteFile = "NavRoute.json"
)

// Phase is the reader state
type Phase int

const (
	Idle Phase = iota
	Reading
)

func (p Phase) String() string {
	if p == Reading {
		return "reading"
	}
	return "idle"
}

// Outcome is the result of one read
type Outcome int

const (
	// Applied: a new document was published
	Applied Outcome = iota
	// Skipped: the file was unreadable or caught mid-write. The previous
	// value stays in place.
	Skipped
	// Unchanged: the file holds the bytes that were last applied
	Unchanged
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Skipped:
		return "skipped"
	case Unchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

var errEmptyDocument = errors.New("empty document")

// Publisher receives applied snapshots
type Publisher interface {
	Publish(ctx context.Context, msg domain.Message)
}

// decodeFunc parses a document into its payload
type decodeFunc func(data []byte) (interface{}, error)

// Reader re-reads one whole-file snapshot on every change notification
type Reader struct {
	kind   domain.SnapshotKind
	path   string
	decode decodeFunc
	pub    Publisher

	serial sync.Mutex // held for a whole read

	mu      sync.Mutex
	phase   Phase
	applied []byte
	value   interface{}
	last    Outcome
}

// NewStatusReader reads Status.json in dir
func NewStatusReader(dir string, pub Publisher) *Reader {
	return &Reader{
		kind: domain.SnapshotStatus,
		path: filepath.Join(dir, StatusFile),
		pub:  pub,
		decode: func(data []byte) (interface{}, error) {
			var st domain.Status
			if err := json.Unmarshal(data, &st); err != nil {
				return nil, err
			}
			return st, nil
		},
	}
}

// NewNavRouteReader reads NavRoute.json in dir
func NewNavRouteReader(dir string, pub Publisher) *Reader {
	return &Reader{
		kind: domain.SnapshotNavRoute,
		path: filepath.Join(dir, NavRouteFile),
		pub:  pub,
		decode: func(data []byte) (interface{}, error) {
			var route domain.NavRoute
			if err := json.Unmarshal(data, &route); err != nil {
				return nil, err
			}
			return route, nil
		},
	}
}

// Name returns the snapshot filename
func (r *Reader) Name() string {
	return filepath.Base(r.path)
}

// Kind returns the snapshot kind
func (r *Reader) Kind() domain.SnapshotKind {
	return r.kind
}

// Phase returns the current state
func (r *Reader) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Current returns the last applied document, or nil
func (r *Reader) Current() interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

// LastOutcome returns the outcome of the most recent read
func (r *Reader) LastOutcome() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// OnChange reads the file and publishes it when its content differs from
// the last applied document. Status.json can change more than once within
// one document timestamp. Concurrent calls are serialized.
func (r *Reader) OnChange(ctx context.Context) Outcome {
	r.serial.Lock()
	defer r.serial.Unlock()

	r.mu.Lock()
	r.phase = Reading
	r.mu.Unlock()

	outcome, value, data, err := r.read()

	r.mu.Lock()
	r.last = outcome
	if outcome == Applied {
		r.applied = data
		r.value = value
	}
	r.phase = Idle
	r.mu.Unlock()

	switch outcome {
	case Skipped:
		log.Debug().Str("file", r.Name()).Err(err).Msg("Snapshot read skipped")
	case Applied:
		r.pub.Publish(ctx, domain.SnapshotMessage("", r.kind, value))
	}
	return outcome
}

func (r *Reader) read() (Outcome, interface{}, []byte, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return Skipped, nil, nil, fmt.Errorf("failed to read %s: %w", r.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Skipped, nil, nil, errEmptyDocument
	}

	r.mu.Lock()
	same := r.value != nil && bytes.Equal(data, r.applied)
	r.mu.Unlock()
	if same {
		return Unchanged, nil, data, nil
	}

	value, err := r.decode(data)
	if err != nil {
		return Skipped, nil, nil, fmt.Errorf("failed to parse %s: %w", r.path, err)
	}
	return Applied, value, data, nil
}

// Set routes change notifications to readers by filename
type Set struct {
	readers map[string]*Reader
}

// NewSet creates the Status and NavRoute readers for dir
func NewSet(dir string, pub Publisher) *Set {
	s := &Set{readers: make(map[string]*Reader)}
	for _, r := range []*Reader{NewStatusReader(dir, pub), NewNavRouteReader(dir, pub)} {
		s.readers[r.Name()] = r
	}
	return s
}

// Names returns the watched filenames
func (s *Set) Names() []string {
	return []string{StatusFile, NavRouteFile}
}

// Reader returns the reader for a filename
func (s *Set) Reader(name string) (*Reader, bool) {
	r, ok := s.readers[name]
	return r, ok
}

// Handle reads the named snapshot. Unknown names are ignored.
func (s *Set) Handle(ctx context.Context, name string) {
	if r, ok := s.readers[name]; ok {
		r.OnChange(ctx)
	}
}

// ReadAll reads every snapshot once. Missing files are skipped.
func (s *Set) ReadAll(ctx context.Context) {
	for _, name := range s.Names() {
		s.Handle(ctx, name)
	}
}
