package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/SteelMorgan/journal-ingest/internal/domain"
	"github.com/rs/zerolog/log"
)

// Sink is a dispatcher subscriber that batches events into an Inserter.
// It flushes when the batch is full, when a batch reports done, and on a
// timer.
type Sink struct {
	inserter Inserter
	cfg      BatchConfig

	mu        sync.Mutex
	batch     []Row
	lastFlush time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSink creates a sink
func NewSink(inserter Inserter, cfg BatchConfig) *Sink {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultBatchConfig().MaxSize
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultBatchConfig().FlushTimeout
	}
	return &Sink{
		inserter:  inserter,
		cfg:       cfg,
		batch:     make([]Row, 0, cfg.MaxSize),
		lastFlush: time.Now(),
		stopCh:    make(chan struct{}),
	}
}

// Start runs the flush timer
func (s *Sink) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(time.Duration(s.cfg.FlushTimeout) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				if err := s.flushIfStale(ctx); err != nil {
					log.Warn().Err(err).Msg("Timed relay flush failed")
				}
			}
		}
	}()
}

// Deliver converts event messages to rows. done triggers a flush.
func (s *Sink) Deliver(ctx context.Context, msg domain.Message) error {
	switch msg.Kind {
	case domain.MessageEvent:
		if msg.Event == nil {
			return nil
		}
		row, err := toRow(*msg.Event)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.batch = append(s.batch, row)
		full := len(s.batch) >= s.cfg.MaxSize
		s.mu.Unlock()
		if full {
			return s.Flush(ctx)
		}
	case domain.MessageDone:
		return s.Flush(ctx)
	}
	return nil
}

// Flush writes all pending rows. Rows stay pending when the insert fails.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.batch) == 0 {
		s.mu.Unlock()
		return nil
	}
	// Snapshot the batch so Deliver can keep appending during the insert
	snapshot := make([]Row, len(s.batch))
	copy(snapshot, s.batch)
	s.batch = s.batch[:0]
	s.mu.Unlock()

	if err := s.inserter.Insert(ctx, snapshot); err != nil {
		s.mu.Lock()
		s.batch = append(snapshot, s.batch...)
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.lastFlush = time.Now()
	s.mu.Unlock()
	return nil
}

func (s *Sink) flushIfStale(ctx context.Context) error {
	s.mu.Lock()
	stale := time.Since(s.lastFlush).Milliseconds() >= s.cfg.FlushTimeout
	s.mu.Unlock()
	if !stale {
		return nil
	}
	return s.Flush(ctx)
}

// Pending returns the number of rows waiting to be written
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batch)
}

// Close stops the timer and flushes pending rows
func (s *Sink) Close() error {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Flush(ctx)
}

func toRow(ev domain.Event) (Row, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return Row{}, err
	}
	row := Row{
		EventTime: ev.Timestamp,
		Kind:      string(ev.Kind),
		File:      ev.File,
		Line:      ev.Line,
		Payload:   string(payload),
	}

	switch p := ev.Payload.(type) {
	case domain.Location:
		row.StarSystem = p.StarSystem
		row.SystemAddress = deref(p.SystemAddress)
		row.BodyName = p.Body
	case domain.BodyScanned:
		row.StarSystem = p.StarSystem
		row.SystemAddress = deref(p.SystemAddress)
		row.BodyName = p.BodyName
	case domain.SystemScanned:
		row.StarSystem = p.SystemName
		row.SystemAddress = deref(p.SystemAddress)
	case domain.BodySignals:
		row.SystemAddress = deref(p.SystemAddress)
		row.BodyName = p.BodyName
	case domain.Docked:
		row.StarSystem = p.StarSystem
		row.SystemAddress = deref(p.SystemAddress)
	}
	row.RecordHash = calculateRowHash(row)
	return row, nil
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
