package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SteelMorgan/journal-ingest/internal/checkpoint"
	"github.com/SteelMorgan/journal-ingest/internal/dispatch"
	"github.com/SteelMorgan/journal-ingest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	journalA = "Journal.2024-03-01T100000.01.log"
	journalB = "Journal.2024-03-02T100000.01.log"
)

type recorder struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (r *recorder) Deliver(_ context.Context, msg domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

// jumps returns "file:line:system" for every location event received
func (r *recorder) jumps() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs {
		if m.Kind != domain.MessageEvent {
			continue
		}
		if loc, ok := m.Event.Payload.(domain.Location); ok {
			out = append(out, fmt.Sprintf("%s:%d:%s", m.Event.File, m.Event.Line, loc.StarSystem))
		}
	}
	return out
}

func (r *recorder) systems() []string {
	var out []string
	for _, j := range r.jumps() {
		out = append(out, j[strings.LastIndex(j, ":")+1:])
	}
	return out
}

func (r *recorder) scans() []domain.BodyScanned {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.BodyScanned
	for _, m := range r.msgs {
		if m.Kind != domain.MessageEvent {
			continue
		}
		if scan, ok := m.Event.Payload.(domain.BodyScanned); ok {
			out = append(out, scan)
		}
	}
	return out
}

func jumpLine(system string) string {
	return fmt.Sprintf(`{"timestamp":"2024-03-01T10:00:00Z","event":"FSDJump","StarSystem":"%s"}`, system)
}

func appendLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(strings.Join(lines, "\n") + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

type harness struct {
	svc   *IngestService
	disp  *dispatch.Dispatcher
	store *checkpoint.Store
	rec   *recorder
	stop  func()
}

func newHarness(t *testing.T, dir string, persister checkpoint.Persister, configure func(*IngestService)) *harness {
	t.Helper()
	store := checkpoint.NewStore(persister)
	disp := dispatch.New(store)
	rec := &recorder{}
	disp.Subscribe(rec)

	svc, err := NewIngestService(Options{
		JournalDir:       dir,
		PollInterval:     20 * time.Millisecond,
		ProgressInterval: 100,
	}, store, disp)
	require.NoError(t, err)
	if configure != nil {
		configure(svc)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(ctx) }()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			select {
			case err := <-errCh:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Error("service did not stop")
			}
		})
	}
	t.Cleanup(stop)
	return &harness{svc: svc, disp: disp, store: store, rec: rec, stop: stop}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond, msg)
}

func TestBacklogThenLiveTail(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, journalA)
	appendLines(t, pathA, jumpLine("Sol"), jumpLine("Achenar"))

	h := newHarness(t, dir, checkpoint.NewMemoryPersister(), nil)
	eventually(t, h.svc.Tailing, "live tail never started")
	eventually(t, func() bool { return len(h.rec.systems()) == 2 }, "backlog events missing")

	appendLines(t, pathA, jumpLine("Sirius"))
	eventually(t, func() bool { return len(h.rec.systems()) == 3 }, "appended line not tailed")

	assert.Equal(t, []string{"Sol", "Achenar", "Sirius"}, h.rec.systems())
	eventually(t, func() bool { return h.svc.Checkpoints()[journalA] == 3 }, "checkpoint not committed")
}

func TestRotationStartsNewFileAndFreezesOld(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, journalA)
	pathB := filepath.Join(dir, journalB)
	appendLines(t, pathA, jumpLine("A1"), jumpLine("A2"))

	h := newHarness(t, dir, checkpoint.NewMemoryPersister(), nil)
	eventually(t, h.svc.Tailing, "live tail never started")
	eventually(t, func() bool { return h.svc.Checkpoints()[journalA] == 2 }, "A not processed")

	appendLines(t, pathB, jumpLine("B1"))
	eventually(t, func() bool { return h.svc.Checkpoints()[journalB] == 1 }, "B not picked up")
	assert.Contains(t, h.rec.jumps(), journalB+":0:B1")

	// The superseded file is no longer tailed
	appendLines(t, pathA, jumpLine("A3"))
	appendLines(t, pathB, jumpLine("B2"))
	eventually(t, func() bool { return h.svc.Checkpoints()[journalB] == 2 }, "B growth not tailed")
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int64(2), h.svc.Checkpoints()[journalA])
	assert.NotContains(t, h.rec.systems(), "A3")
	assert.Equal(t, []string{"A1", "A2", "B1", "B2"}, h.rec.systems())
}

func TestLiveTailKeepsLocationContext(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, journalA)
	appendLines(t, pathA,
		`{"timestamp":"2024-03-01T10:00:00Z","event":"FSDJump","StarSystem":"Sol","SystemAddress":10477373803,"StarPos":[0,0,0]}`)

	h := newHarness(t, dir, checkpoint.NewMemoryPersister(), nil)
	eventually(t, h.svc.Tailing, "live tail never started")
	eventually(t, func() bool { return h.svc.Checkpoints()[journalA] == 1 }, "backlog not committed")

	appendLines(t, pathA, `{"timestamp":"2024-03-01T10:01:00Z","event":"Scan","BodyName":"Earth","SystemAddress":10477373803}`)
	eventually(t, func() bool { return len(h.rec.scans()) == 1 }, "scan not tailed")

	// A later step still sees the same system
	appendLines(t, pathA, `{"timestamp":"2024-03-01T10:02:00Z","event":"Scan","BodyName":"Moon","SystemAddress":10477373803}`)
	eventually(t, func() bool { return len(h.rec.scans()) == 2 }, "second scan not tailed")

	for _, scan := range h.rec.scans() {
		assert.Equal(t, "Sol", scan.StarSystem, scan.BodyName)
		require.NotNil(t, scan.StarPos, scan.BodyName)
		assert.Equal(t, domain.StarPos{0, 0, 0}, *scan.StarPos)
	}
}

func TestAppendsAreNotRotations(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, journalA)
	appendLines(t, pathA, jumpLine("A1"))

	h := newHarness(t, dir, checkpoint.NewMemoryPersister(), nil)
	eventually(t, h.svc.Tailing, "live tail never started")
	eventually(t, func() bool { return h.svc.Checkpoints()[journalA] == 1 }, "A not processed")

	for i := 2; i <= 4; i++ {
		appendLines(t, pathA, jumpLine(fmt.Sprintf("A%d", i)))
		want := int64(i)
		eventually(t, func() bool { return h.svc.Checkpoints()[journalA] == want }, "append not tailed")
	}
	assert.Zero(t, h.svc.Rotations())

	appendLines(t, filepath.Join(dir, journalB), jumpLine("B1"))
	eventually(t, func() bool { return h.svc.Checkpoints()[journalB] == 1 }, "B not picked up")
	assert.Equal(t, int64(1), h.svc.Rotations())
	assert.Equal(t, []string{"A1", "A2", "A3", "A4", "B1"}, h.rec.systems())
}

func TestRescanIsCoalesced(t *testing.T) {
	dir := t.TempDir()
	appendLines(t, filepath.Join(dir, journalA), jumpLine("Sol"))

	var runs atomic.Int32
	release := make(chan struct{})
	h := newHarness(t, dir, checkpoint.NewMemoryPersister(), func(s *IngestService) {
		s.beforeBacklog = func() {
			if runs.Add(1) > 1 {
				<-release
			}
		}
	})
	eventually(t, h.svc.Tailing, "live tail never started")

	assert.True(t, h.svc.Rescan(false))
	assert.False(t, h.svc.Rescan(true))
	started, err := h.svc.ScanAll(context.Background())
	assert.NoError(t, err)
	assert.False(t, started)
	assert.True(t, h.svc.Scanning())

	close(release)
	eventually(t, func() bool { return !h.svc.Scanning() }, "rescan never finished")

	assert.Equal(t, int32(2), runs.Load())
	// Not cleared, so nothing was delivered twice
	assert.Equal(t, []string{"Sol"}, h.rec.systems())
	assert.Equal(t, int64(1), h.svc.Checkpoints()[journalA])
}

func TestRescanWithClearRedelivers(t *testing.T) {
	dir := t.TempDir()
	appendLines(t, filepath.Join(dir, journalA), jumpLine("Sol"), jumpLine("Achenar"))

	h := newHarness(t, dir, checkpoint.NewMemoryPersister(), nil)
	eventually(t, h.svc.Tailing, "live tail never started")
	eventually(t, func() bool { return len(h.rec.systems()) == 2 }, "backlog events missing")

	require.True(t, h.svc.Rescan(true))
	eventually(t, func() bool { return len(h.rec.systems()) == 4 }, "cleared rescan did not redeliver")
	eventually(t, func() bool { return !h.svc.Scanning() }, "rescan never finished")
	assert.Equal(t, int64(2), h.svc.Checkpoints()[journalA])
}

func TestResumeAfterRestart(t *testing.T) {
	dir := t.TempDir()
	cpPath := filepath.Join(t.TempDir(), "checkpoints.json")
	pathA := filepath.Join(dir, journalA)

	var first []string
	for i := 1; i <= 10; i++ {
		first = append(first, jumpLine(fmt.Sprintf("S%d", i)))
	}
	appendLines(t, pathA, first...)

	p1, err := checkpoint.NewJSONFilePersister(cpPath)
	require.NoError(t, err)
	h1 := newHarness(t, dir, p1, nil)
	eventually(t, func() bool { return h1.svc.Checkpoints()[journalA] == 10 }, "first run did not commit")
	h1.stop()

	var second, want []string
	for i := 11; i <= 15; i++ {
		name := fmt.Sprintf("S%d", i)
		second = append(second, jumpLine(name))
		want = append(want, name)
	}
	appendLines(t, pathA, second...)

	p2, err := checkpoint.NewJSONFilePersister(cpPath)
	require.NoError(t, err)
	h2 := newHarness(t, dir, p2, nil)
	eventually(t, func() bool { return h2.svc.Checkpoints()[journalA] == 15 }, "second run did not commit")
	eventually(t, h2.svc.Tailing, "live tail never started")

	assert.Equal(t, want, h2.rec.systems())
}

func TestMissingDirectoryIsConfigError(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "journal")

	h := newHarness(t, dir, checkpoint.NewMemoryPersister(), nil)
	eventually(t, func() bool { return h.disp.LastValues().ConfigError != nil }, "config error not reported")
	assert.False(t, h.svc.Tailing())

	// Fixing the path and retrying succeeds
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, h.svc.StartLiveTail(context.Background()))
	assert.True(t, h.svc.Tailing())
	assert.Nil(t, h.disp.LastValues().ConfigError)

	appendLines(t, filepath.Join(dir, journalA), jumpLine("Sol"))
	eventually(t, func() bool { return len(h.rec.systems()) == 1 }, "first journal not tailed")
}

func TestSnapshotFilesPublished(t *testing.T) {
	dir := t.TempDir()
	appendLines(t, filepath.Join(dir, journalA), jumpLine("Sol"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Status.json"),
		[]byte(`{"timestamp":"2024-03-01T10:00:00Z","event":"Status","Flags":1}`), 0644))

	h := newHarness(t, dir, checkpoint.NewMemoryPersister(), nil)
	eventually(t, func() bool {
		_, ok := h.disp.LastValues().Snapshots[domain.SnapshotStatus]
		return ok
	}, "status snapshot not published")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Status.json"),
		[]byte(`{"timestamp":"2024-03-01T10:00:09Z","event":"Status","Flags":16842765}`), 0644))
	eventually(t, func() bool {
		snap := h.disp.LastValues().Snapshots[domain.SnapshotStatus]
		st, ok := snap.Data.(domain.Status)
		return ok && st.Flags == 16842765
	}, "status change not published")
}

func TestNewIngestServiceValidates(t *testing.T) {
	_, err := NewIngestService(Options{}, nil, nil)
	assert.Error(t, err)
}

func TestCommandsBeforeRun(t *testing.T) {
	store := checkpoint.NewStore(checkpoint.NewMemoryPersister())
	svc, err := NewIngestService(Options{JournalDir: t.TempDir()}, store, dispatch.New(store))
	require.NoError(t, err)

	assert.ErrorIs(t, svc.StartLiveTail(context.Background()), ErrNotRunning)
	assert.False(t, svc.Rescan(false))
}
