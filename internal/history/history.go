package history

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/SteelMorgan/journal-ingest/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSize   = 1000
	DefaultWindow = time.Minute
)

const (
	SourceJournal  = "journal"
	SourceBackfill = "backfill"
)

// Entry is one visited system
type Entry struct {
	StarSystem    string          `json:"star_system" msgpack:"star_system"`
	SystemAddress *int64          `json:"system_address,omitempty" msgpack:"system_address,omitempty"`
	StarPos       *domain.StarPos `json:"star_pos,omitempty" msgpack:"star_pos,omitempty"`
	Timestamp     time.Time       `json:"timestamp" msgpack:"timestamp"`
	Source        string          `json:"source" msgpack:"source"`
}

// History is a bounded travel log fed by location events and merged with
// an external backfill source.
//
// Duplicates are detected by system name plus timestamp truncated to the
// window. This is approximate: two records of the same visit whose clocks
// disagree across a window boundary are both kept.
type History struct {
	size   int
	window time.Duration

	mu      sync.RWMutex
	entries []Entry // Oldest first
	keys    map[string]struct{}
}

// New creates a history holding at most size entries
func New(size int, window time.Duration) *History {
	if size <= 0 {
		size = DefaultSize
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &History{
		size:   size,
		window: window,
		keys:   make(map[string]struct{}),
	}
}

func (h *History) key(system string, ts time.Time) string {
	return fmt.Sprintf("%s|%d", system, ts.Truncate(h.window).Unix())
}

// Deliver records location events. Other messages are ignored.
func (h *History) Deliver(_ context.Context, msg domain.Message) error {
	if msg.Kind != domain.MessageEvent || msg.Event == nil {
		return nil
	}
	loc, ok := msg.Event.Payload.(domain.Location)
	if !ok {
		return nil
	}
	h.Add(Entry{
		StarSystem:    loc.StarSystem,
		SystemAddress: loc.SystemAddress,
		StarPos:       loc.StarPos,
		Timestamp:     msg.Event.Timestamp,
		Source:        SourceJournal,
	})
	return nil
}

// Add records one entry unless an entry with the same key exists.
// It reports whether the entry was added.
func (h *History) Add(e Entry) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.insert(e) {
		return false
	}
	h.settle()
	return true
}

// MergeBackfill merges entries from an external source and returns how many
// were new
func (h *History) MergeBackfill(entries []Entry) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	added := 0
	for _, e := range entries {
		if e.StarSystem == "" {
			continue
		}
		if e.Source == "" {
			e.Source = SourceBackfill
		}
		if h.insert(e) {
			added++
		}
	}
	if added > 0 {
		h.settle()
	}

	log.Info().
		Int("received", len(entries)).
		Int("added", added).
		Msg("History backfill merged")
	return added
}

func (h *History) insert(e Entry) bool {
	k := h.key(e.StarSystem, e.Timestamp)
	if _, dup := h.keys[k]; dup {
		return false
	}
	h.keys[k] = struct{}{}
	h.entries = append(h.entries, e)
	return true
}

// settle restores time order and drops the oldest entries beyond size
func (h *History) settle() {
	sort.SliceStable(h.entries, func(i, j int) bool {
		return h.entries[i].Timestamp.Before(h.entries[j].Timestamp)
	})
	if over := len(h.entries) - h.size; over > 0 {
		for _, e := range h.entries[:over] {
			delete(h.keys, h.key(e.StarSystem, e.Timestamp))
		}
		h.entries = append([]Entry(nil), h.entries[over:]...)
	}
}

// Entries returns the history newest first
func (h *History) Entries() []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Entry, len(h.entries))
	for i, e := range h.entries {
		out[len(h.entries)-1-i] = e
	}
	return out
}

// Len returns the number of entries
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
