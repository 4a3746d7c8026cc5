package discovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestListJournalsOrdersByEmbeddedTimestamp(t *testing.T) {
	dir := t.TempDir()
	// Written newest first so mtime order disagrees with name order
	writeFile(t, filepath.Join(dir, "Journal.2024-03-01T100000.01.log"), "")
	writeFile(t, filepath.Join(dir, "Journal.2024-01-01T100000.01.log"), "")
	writeFile(t, filepath.Join(dir, "Journal.2024-02-01T100000.02.log"), "")
	writeFile(t, filepath.Join(dir, "Journal.2024-02-01T100000.01.log"), "")
	writeFile(t, filepath.Join(dir, "Status.json"), "{}")

	files, err := ListJournals(dir)
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{
		"Journal.2024-01-01T100000.01.log",
		"Journal.2024-02-01T100000.01.log",
		"Journal.2024-02-01T100000.02.log",
		"Journal.2024-03-01T100000.01.log",
	}, names)

	latest, ok := Latest(files)
	require.True(t, ok)
	assert.Equal(t, "Journal.2024-03-01T100000.01.log", latest.Name)
}

func TestListJournalsMissingDirectory(t *testing.T) {
	_, err := ListJournals(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrJournalDirMissing))

	// An empty directory is not an error
	files, err := ListJournals(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func nextNotification(t *testing.T, w *Watcher, kind NotificationKind) Notification {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case n := <-w.Notifications():
			if n.Kind == kind {
				return n
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s notification", kind)
		}
	}
}

func TestWatcherDetectsRotation(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "Journal.2024-01-01T100000.01.log")
	writeFile(t, older, `{"event":"Fileheader"}`+"\n")

	w := NewWatcher(dir, 20*time.Millisecond)
	files, err := w.Init()
	require.NoError(t, err)
	require.Len(t, files, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	newer := filepath.Join(dir, "Journal.2024-01-02T100000.01.log")
	writeFile(t, newer, "")

	n := nextNotification(t, w, Rotated)
	assert.Equal(t, "Journal.2024-01-02T100000.01.log", n.File.Name)
	require.NotNil(t, n.Previous)
	assert.Equal(t, "Journal.2024-01-01T100000.01.log", n.Previous.Name)

	cur, ok := w.Current()
	require.True(t, ok)
	assert.Equal(t, n.File.Name, cur.Name)
}

func TestWatcherDetectsGrowthAndSnapshots(t *testing.T) {
	dir := t.TempDir()
	journal := filepath.Join(dir, "Journal.2024-01-01T100000.01.log")
	writeFile(t, journal, `{"event":"Fileheader"}`+"\n")

	w := NewWatcher(dir, 20*time.Millisecond, "Status.json")
	_, err := w.Init()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	f, err := os.OpenFile(journal, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"event":"Music"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	n := nextNotification(t, w, Grown)
	assert.Equal(t, "Journal.2024-01-01T100000.01.log", n.File.Name)

	writeFile(t, filepath.Join(dir, "Status.json"), `{"event":"Status"}`)
	n = nextNotification(t, w, SnapshotChanged)
	assert.Equal(t, "Status.json", n.Snapshot)
}

func TestWatcherAppendIsNotRotation(t *testing.T) {
	dir := t.TempDir()
	journal := filepath.Join(dir, "Journal.2024-01-01T100000.01.log")
	writeFile(t, journal, `{"event":"Fileheader"}`+"\n")

	w := NewWatcher(dir, 20*time.Millisecond)
	_, err := w.Init()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	for i := 0; i < 3; i++ {
		f, err := os.OpenFile(journal, os.O_APPEND|os.O_WRONLY, 0644)
		require.NoError(t, err)
		_, err = f.WriteString(`{"event":"Music"}` + "\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		select {
		case n := <-w.Notifications():
			assert.Equal(t, Grown, n.Kind, "append %d reported as %s", i, n.Kind)
			assert.Nil(t, n.Previous)
		case <-time.After(5 * time.Second):
			t.Fatalf("no notification for append %d", i)
		}
		// Drain any duplicate fsnotify/poll notification for the same write
		time.Sleep(60 * time.Millisecond)
	drain:
		for {
			select {
			case n := <-w.Notifications():
				assert.Equal(t, Grown, n.Kind)
			default:
				break drain
			}
		}
	}
}

func TestWatcherRunRejectsMissingDirectory(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing"), 20*time.Millisecond)
	_, err := w.Init()
	assert.ErrorIs(t, err, ErrJournalDirMissing)
	assert.ErrorIs(t, w.Run(context.Background()), ErrJournalDirMissing)
}
