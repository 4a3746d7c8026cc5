package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SteelMorgan/journal-ingest/internal/checkpoint"
	"github.com/SteelMorgan/journal-ingest/internal/discovery"
	"github.com/SteelMorgan/journal-ingest/internal/dispatch"
	"github.com/SteelMorgan/journal-ingest/internal/domain"
	"github.com/SteelMorgan/journal-ingest/internal/journal"
	"github.com/SteelMorgan/journal-ingest/internal/snapshot"
	"github.com/SteelMorgan/journal-ingest/internal/worker"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrNotRunning is returned by commands issued before Run
var ErrNotRunning = errors.New("service not running")

// Options configures the ingest service
type Options struct {
	JournalDir       string
	PollInterval     time.Duration
	ProgressInterval int
}

// IngestService runs the startup backlog, then tails the current journal.
// Backlog runs and live tail steps never overlap: a backlog holds tailMu for
// its whole run and live steps are skipped while the scanning flag is set.
type IngestService struct {
	opts      Options
	store     *checkpoint.Store
	disp      *dispatch.Dispatcher
	worker    *worker.Worker
	watcher   *discovery.Watcher
	snapshots *snapshot.Set

	scanning  atomic.Bool
	tailing   atomic.Bool
	rotations atomic.Int64
	tailMu   sync.Mutex
	kick     chan struct{}

	// carried is the context of the live session, handed from each batch to
	// the next. Guarded by tailMu.
	carried *journal.State

	mu       sync.Mutex
	ctx      context.Context
	group    *errgroup.Group
	current  *domain.LogFile
	draining map[string]domain.LogFile
	live     map[string]domain.Watermark

	background sync.WaitGroup

	// beforeBacklog is called at the start of every backlog run. Tests only.
	beforeBacklog func()
}

// NewIngestService creates the service
func NewIngestService(opts Options, store *checkpoint.Store, disp *dispatch.Dispatcher) (*IngestService, error) {
	if store == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if disp == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	snapshots := snapshot.NewSet(opts.JournalDir, disp)
	return &IngestService{
		opts:      opts,
		store:     store,
		disp:      disp,
		worker:    worker.New(worker.WithProgressInterval(opts.ProgressInterval)),
		watcher:   discovery.NewWatcher(opts.JournalDir, opts.PollInterval, snapshots.Names()...),
		snapshots: snapshots,
		kick:      make(chan struct{}, 1),
		carried:   &journal.State{},
		draining:  make(map[string]domain.LogFile),
		live:      make(map[string]domain.Watermark),
	}, nil
}

// Run loads checkpoints, processes the backlog, starts live tailing and
// blocks until ctx is cancelled
func (s *IngestService) Run(ctx context.Context) error {
	log.Info().Str("journal_dir", s.opts.JournalDir).Msg("Ingest service starting...")

	g, gctx := errgroup.WithContext(ctx)
	s.mu.Lock()
	s.ctx = gctx
	s.group = g
	s.mu.Unlock()

	s.store.Load(gctx)

	g.Go(func() error { return s.tailLoop(gctx) })
	g.Go(func() error { return s.notificationLoop(gctx) })
	g.Go(func() error {
		if _, err := s.ScanAll(gctx); err != nil {
			if errors.Is(err, discovery.ErrJournalDirMissing) {
				// Already reported; waits for a StartLiveTail command
				return nil
			}
			log.Warn().Err(err).Msg("Startup backlog failed, continuing with live tail")
		}
		if err := s.StartLiveTail(gctx); err != nil && !errors.Is(err, discovery.ErrJournalDirMissing) {
			return err
		}
		return nil
	})

	err := g.Wait()
	s.background.Wait()

	log.Info().Msg("Ingest service stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Scanning reports whether a backlog run is in progress
func (s *IngestService) Scanning() bool {
	return s.scanning.Load()
}

// Rotations returns how many journal rotations the live tail has followed
func (s *IngestService) Rotations() int64 {
	return s.rotations.Load()
}

// Tailing reports whether live tailing is active
func (s *IngestService) Tailing() bool {
	return s.tailing.Load()
}

// Checkpoints returns the committed checkpoints
func (s *IngestService) Checkpoints() domain.Checkpoints {
	return s.store.Snapshot()
}

// StartLiveTail starts watching the journal directory. It is a no-op when
// tailing already runs. A missing directory is reported to subscribers as a
// config error and returned.
func (s *IngestService) StartLiveTail(ctx context.Context) error {
	s.mu.Lock()
	group := s.group
	runCtx := s.ctx
	s.mu.Unlock()
	if group == nil {
		return ErrNotRunning
	}

	if !s.tailing.CompareAndSwap(false, true) {
		return nil
	}

	if _, err := s.watcher.Init(); err != nil {
		s.tailing.Store(false)
		log.Error().Err(err).Str("dir", s.opts.JournalDir).Msg("Cannot start live tail")
		s.disp.ReportConfigError(ctx, err)
		return err
	}
	s.disp.ClearConfigError()

	if cur, ok := s.watcher.Current(); ok {
		s.setCurrent(cur)
	}
	s.snapshots.ReadAll(ctx)

	group.Go(func() error {
		err := s.watcher.Run(runCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Journal watcher stopped")
			s.disp.ReportConfigError(runCtx, err)
			s.tailing.Store(false)
		}
		return nil
	})

	log.Info().Msg("Live tail started")
	s.trigger()
	return nil
}

// ScanAll runs a backlog over every journal from its checkpoint and waits
// for it. started is false when another backlog was already running.
func (s *IngestService) ScanAll(ctx context.Context) (started bool, err error) {
	if !s.scanning.CompareAndSwap(false, true) {
		log.Info().Msg("Backlog scan already running, ignoring trigger")
		return false, nil
	}
	defer s.finishBacklog()
	return true, s.backlog(ctx, false)
}

// Rescan starts a backlog in the background, clearing every checkpoint
// first when clear is set. Duplicate triggers while one runs are coalesced
// and return false.
func (s *IngestService) Rescan(clear bool) bool {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return false
	}

	if !s.scanning.CompareAndSwap(false, true) {
		log.Info().Bool("clear", clear).Msg("Backlog scan already running, ignoring trigger")
		return false
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer s.finishBacklog()
		if err := s.backlog(ctx, clear); err != nil {
			log.Error().Err(err).Bool("clear", clear).Msg("Rescan failed")
		}
	}()
	return true
}

func (s *IngestService) finishBacklog() {
	s.scanning.Store(false)
	// Live steps skipped during the run catch up now
	s.trigger()
}

// backlog runs one batch over all journals. The scanning flag must be held.
func (s *IngestService) backlog(ctx context.Context, clear bool) error {
	s.tailMu.Lock()
	defer s.tailMu.Unlock()

	if s.beforeBacklog != nil {
		s.beforeBacklog()
	}

	st := s.carried.Clone()
	if clear {
		st = &journal.State{}
		if err := s.store.Clear(ctx); err != nil {
			return err
		}
		s.mu.Lock()
		s.live = make(map[string]domain.Watermark)
		s.mu.Unlock()
	}

	files, err := discovery.ListJournals(s.opts.JournalDir)
	if err != nil {
		log.Error().Err(err).Str("dir", s.opts.JournalDir).Msg("Cannot list journals")
		s.disp.ReportConfigError(ctx, err)
		return err
	}

	cps := s.store.Snapshot()
	items := make([]worker.Item, 0, len(files))
	for _, f := range files {
		items = append(items, worker.Item{
			File:   f,
			From:   domain.Watermark{Line: cps[f.Name]},
			ByLine: true,
		})
	}

	log.Info().
		Int("files", len(files)).
		Bool("clear", clear).
		Msg("Starting backlog scan")

	done, err := s.disp.Consume(ctx, s.worker.Start(ctx, worker.Batch{
		Items:     items,
		Commander: true,
		History:   files,
		State:     st,
	}))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		// Fall back to the committed checkpoints on the next live step
		s.live = make(map[string]domain.Watermark)
		return fmt.Errorf("backlog failed: %w", err)
	}
	for name, wm := range done.Watermarks {
		s.live[name] = wm
	}
	s.carried = st
	if latest, ok := discovery.Latest(files); ok && s.current == nil {
		s.current = &latest
	}

	log.Info().
		Int("files", len(done.Checkpoints)).
		Int("events", done.Events).
		Msg("Backlog scan complete")
	return nil
}

func (s *IngestService) trigger() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *IngestService) setCurrent(f domain.LogFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.Name != f.Name && s.current.Before(f) {
		// Lines appended to the old journal since the last step still count
		s.draining[s.current.Name] = *s.current
	}
	cur := f
	s.current = &cur
}

func (s *IngestService) notificationLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-s.watcher.Notifications():
			switch n.Kind {
			case discovery.Rotated:
				log.Info().
					Str("file", n.File.Name).
					Int64("rotations", s.rotations.Add(1)).
					Msg("Journal rotated")
				s.setCurrent(n.File)
				s.trigger()
			case discovery.Grown:
				s.trigger()
			case discovery.SnapshotChanged:
				s.snapshots.Handle(ctx, n.Snapshot)
			}
		}
	}
}

func (s *IngestService) tailLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.kick:
			if !s.tailing.Load() || s.scanning.Load() {
				continue
			}
			s.tailStep(ctx)
		}
	}
}

// tailStep reads what was appended to the current journal and drains
// superseded journals one last time
func (s *IngestService) tailStep(ctx context.Context) {
	s.tailMu.Lock()
	defer s.tailMu.Unlock()

	items := s.tailItems()
	if len(items) == 0 {
		return
	}

	st := s.carried.Clone()
	done, err := s.disp.Consume(ctx, s.worker.Start(ctx, worker.Batch{Items: items, State: st}))
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("Live tail step failed")
		}
		return
	}

	s.carried = st

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, wm := range done.Watermarks {
		s.live[name] = wm
		delete(s.draining, name)
	}
}

func (s *IngestService) tailItems() []worker.Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	files := make([]domain.LogFile, 0, len(s.draining)+1)
	for _, f := range s.draining {
		files = append(files, f)
	}
	if s.current != nil {
		files = append(files, *s.current)
	}

	items := make([]worker.Item, 0, len(files))
	for _, f := range files {
		item := worker.Item{File: f}
		if wm, ok := s.live[f.Name]; ok {
			item.From = wm
		} else if line, ok := s.store.Get(f.Name); ok {
			item.From = domain.Watermark{Line: line}
			item.ByLine = true
		}
		items = append(items, item)
	}
	return items
}
