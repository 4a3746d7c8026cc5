package discovery

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/SteelMorgan/journal-ingest/internal/domain"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// NotificationKind tells what changed in the journal directory
type NotificationKind int

const (
	// Rotated: a journal newer than the current one appeared
	Rotated NotificationKind = iota
	// Grown: the current journal changed size
	Grown
	// SnapshotChanged: a watched snapshot file was rewritten
	SnapshotChanged
)

func (k NotificationKind) String() string {
	switch k {
	case Rotated:
		return "rotated"
	case Grown:
		return "grown"
	case SnapshotChanged:
		return "snapshot_changed"
	default:
		return "unknown"
	}
}

// Notification is emitted by Watcher
type Notification struct {
	Kind     NotificationKind
	File     domain.LogFile  // New current journal (Rotated) or the grown journal
	Previous *domain.LogFile // Superseded journal (Rotated only)
	Snapshot string          // Snapshot file name (SnapshotChanged only)
}

type fileStamp struct {
	size    int64
	modTime time.Time
}

// Watcher observes a journal directory. fsnotify events trigger an immediate
// rescan; a poll ticker rescans regardless because the game does not always
// flush in a way that produces write notifications.
type Watcher struct {
	dir           string
	pollInterval  time.Duration
	snapshotNames []string

	mu        sync.Mutex
	current   *domain.LogFile
	snapshots map[string]fileStamp
	dirFailed bool

	out chan Notification
}

// NewWatcher creates a watcher for dir. snapshotNames are whole-file
// snapshot files (e.g. Status.json) reported via SnapshotChanged.
func NewWatcher(dir string, pollInterval time.Duration, snapshotNames ...string) *Watcher {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Watcher{
		dir:           dir,
		pollInterval:  pollInterval,
		snapshotNames: snapshotNames,
		snapshots:     make(map[string]fileStamp),
		out:           make(chan Notification, 64),
	}
}

// Notifications returns the channel notifications are delivered on
func (w *Watcher) Notifications() <-chan Notification {
	return w.out
}

// Init lists the directory and records the current journal without emitting
// notifications. It returns ErrJournalDirMissing for a misconfigured path.
func (w *Watcher) Init() ([]domain.LogFile, error) {
	files, err := ListJournals(w.dir)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if latest, ok := Latest(files); ok {
		w.current = &latest
	}
	for _, name := range w.snapshotNames {
		if st, ok := stampOf(filepath.Join(w.dir, name)); ok {
			w.snapshots[name] = st
		}
	}

	return files, nil
}

// Current returns the journal the watcher considers current
func (w *Watcher) Current() (domain.LogFile, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return domain.LogFile{}, false
	}
	return *w.current, true
}

// Run watches until ctx is cancelled. Call Init first.
func (w *Watcher) Run(ctx context.Context) error {
	if err := checkDir(w.dir); err != nil {
		return err
	}

	log.Info().
		Str("dir", w.dir).
		Dur("poll_interval", w.pollInterval).
		Msg("Starting journal directory watcher")

	var events <-chan fsnotify.Event
	var errs <-chan error

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("fsnotify unavailable, relying on polling")
	} else {
		defer fsw.Close()
		if err := fsw.Add(w.dir); err != nil {
			log.Warn().Err(err).Str("dir", w.dir).Msg("Cannot watch directory, relying on polling")
		} else {
			events = fsw.Events
			errs = fsw.Errors
		}
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Rename) {
				w.rescan(ctx)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warn().Err(err).Msg("Watcher error")
		case <-ticker.C:
			w.rescan(ctx)
		}
	}
}

// rescan compares the directory with the last known state and emits the
// differences
func (w *Watcher) rescan(ctx context.Context) {
	files, err := ListJournals(w.dir)

	var pending []Notification

	w.mu.Lock()
	if err != nil {
		if !w.dirFailed {
			log.Warn().Err(err).Str("dir", w.dir).Msg("Journal directory unreadable, will retry")
		}
		w.dirFailed = true
		w.mu.Unlock()
		return
	}
	w.dirFailed = false

	if latest, ok := Latest(files); ok {
		switch {
		case w.current != nil && w.current.Name == latest.Name:
			if latest.Size != w.current.Size || !latest.ModTime.Equal(w.current.ModTime) {
				cur := latest
				w.current = &cur
				pending = append(pending, Notification{Kind: Grown, File: latest})
			}
		case w.current == nil || w.current.Before(latest):
			var prev *domain.LogFile
			if w.current != nil {
				p := *w.current
				prev = &p
			}
			cur := latest
			w.current = &cur
			pending = append(pending, Notification{Kind: Rotated, File: latest, Previous: prev})
		}
	}

	for _, name := range w.snapshotNames {
		st, ok := stampOf(filepath.Join(w.dir, name))
		if !ok {
			continue
		}
		if prev, seen := w.snapshots[name]; seen && prev.size == st.size && prev.modTime.Equal(st.modTime) {
			continue
		}
		w.snapshots[name] = st
		pending = append(pending, Notification{Kind: SnapshotChanged, Snapshot: name})
	}
	w.mu.Unlock()

	for _, n := range pending {
		log.Debug().
			Str("kind", n.Kind.String()).
			Str("file", n.File.Name).
			Str("snapshot", n.Snapshot).
			Msg("Journal directory change")

		select {
		case w.out <- n:
		case <-ctx.Done():
			return
		}
	}
}

func stampOf(path string) (fileStamp, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, false
	}
	return fileStamp{size: info.Size(), modTime: info.ModTime()}, true
}
