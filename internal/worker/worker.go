package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/SteelMorgan/journal-ingest/internal/domain"
	"github.com/SteelMorgan/journal-ingest/internal/journal"
	"github.com/SteelMorgan/journal-ingest/internal/tail"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultProgressInterval is the number of lines between progress messages
const DefaultProgressInterval = 500

// streamBuffer is the capacity of the message channel
const streamBuffer = 256

// ErrWorkerCrashed is reported when a batch goroutine panics
var ErrWorkerCrashed = errors.New("worker crashed")

// Item is one file to read within a batch
type Item struct {
	File domain.LogFile
	From domain.Watermark
	// ByLine marks From.Offset as unknown. The offset is derived from
	// From.Line before reading.
	ByLine bool
}

// Batch is a unit of tailing work
type Batch struct {
	Items []Item
	// Commander requests a commander snapshot built from History once all
	// items are processed.
	Commander bool
	History   []domain.LogFile
	// State seeds the carried context and receives its final value. The
	// caller must not touch it until the stream is closed. Nil starts empty.
	State *journal.State
}

// Worker runs batches off the caller's goroutine
type Worker struct {
	progressInterval int

	// beforeLine is called before each line is classified. Tests only.
	beforeLine func(file string, index int64)
}

// Option configures a Worker
type Option func(*Worker)

// WithProgressInterval sets the number of lines between progress messages
func WithProgressInterval(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.progressInterval = n
		}
	}
}

// New creates a worker
func New(opts ...Option) *Worker {
	w := &Worker{progressInterval: DefaultProgressInterval}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs the batch in its own goroutine and returns the message stream.
// The stream ends with exactly one terminal message: done on success, or a
// fatal error when the batch crashed. The channel is closed afterwards.
// Cancelling ctx stops the batch without a terminal message.
func (w *Worker) Start(ctx context.Context, b Batch) <-chan domain.Message {
	out := make(chan domain.Message, streamBuffer)
	r := &run{
		worker: w,
		id:     uuid.NewString(),
		out:    out,
		ctx:    ctx,
	}
	go r.execute(b)
	return out
}

type run struct {
	worker *Worker
	id     string
	out    chan<- domain.Message
	ctx    context.Context
}

// send delivers a message unless the batch was cancelled
func (r *run) send(msg domain.Message) bool {
	msg.BatchID = r.id
	if r.ctx.Err() != nil {
		return false
	}
	select {
	case r.out <- msg:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *run) execute(b Batch) {
	defer close(r.out)

	ctx, span := otel.Tracer("journal-ingest/worker").Start(r.ctx, "worker.batch")
	defer span.End()
	span.SetAttributes(
		attribute.String("batch.id", r.id),
		attribute.Int("batch.files", len(b.Items)),
	)
	r.ctx = ctx

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("%w: %v", ErrWorkerCrashed, p)
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic")
			log.Error().
				Str("batch_id", r.id).
				Interface("panic", p).
				Msg("Batch worker crashed, nothing will be committed")
			r.send(domain.Message{
				Kind:  domain.MessageError,
				Error: &domain.ErrorInfo{Message: err.Error(), Fatal: true},
			})
		}
	}()

	done, ok := r.process(b)
	if !ok {
		log.Debug().Str("batch_id", r.id).Msg("Batch cancelled")
		return
	}
	span.SetAttributes(attribute.Int("batch.events", done.Events))
	r.send(domain.Message{Kind: domain.MessageDone, Done: done})
}

func (r *run) process(b Batch) (*domain.Done, bool) {
	items := make([]Item, len(b.Items))
	copy(items, b.Items)
	// Oldest first so carried state ends on the latest values
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].File.Before(items[j].File)
	})

	done := &domain.Done{
		Checkpoints: make(domain.Checkpoints, len(items)),
		Watermarks:  make(map[string]domain.Watermark, len(items)),
	}
	classifier := journal.ResumeClassifier(b.State)

	for i, item := range items {
		end, events, err := r.processFile(classifier, item, i, len(items))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, false
			}
			log.Warn().
				Str("batch_id", r.id).
				Str("file", item.File.Name).
				Err(err).
				Msg("Failed to read journal file, skipping")
			if !r.send(domain.Message{
				Kind:  domain.MessageError,
				Error: &domain.ErrorInfo{File: item.File.Name, Message: err.Error()},
			}) {
				return nil, false
			}
			continue
		}
		done.Checkpoints[item.File.Name] = end.Line
		done.Watermarks[item.File.Name] = end
		done.Events += events
	}

	if b.Commander {
		if snap := journal.ScanCommander(b.History); snap != nil {
			if !r.send(domain.SnapshotMessage(r.id, domain.SnapshotCommander, *snap)) {
				return nil, false
			}
		}
	}

	log.Info().
		Str("batch_id", r.id).
		Int("files", len(items)).
		Int("events", done.Events).
		Int("malformed", classifier.Malformed).
		Msg("Batch processed")
	return done, true
}

// processFile reads one file to its current end and streams its events
func (r *run) processFile(c *journal.Classifier, item Item, index, total int) (domain.Watermark, int, error) {
	from := item.From
	if item.ByLine {
		wm, err := tail.OffsetForLine(item.File.Path, item.From.Line)
		if err != nil {
			return from, 0, err
		}
		from = wm
	}

	res, err := tail.ReadFrom(item.File.Path, from)
	if err != nil {
		return from, 0, err
	}

	progress := func(current int64) bool {
		return r.send(domain.Message{
			Kind: domain.MessageProgress,
			Progress: &domain.Progress{
				File:        item.File.Name,
				CurrentLine: current,
				TotalLines:  res.End.Line,
				FileIndex:   index,
				TotalFiles:  total,
			},
		})
	}

	events := 0
	interval := int64(r.worker.progressInterval)
	for i, text := range res.Lines {
		lineIndex := res.Start.Line + int64(i)
		if r.worker.beforeLine != nil {
			r.worker.beforeLine(item.File.Name, lineIndex)
		}
		if ev, ok := c.Line(item.File.Name, lineIndex, text); ok {
			events++
			if !r.send(domain.EventMessage(r.id, ev)) {
				return from, events, r.ctx.Err()
			}
		}
		current := lineIndex + 1
		if current == res.End.Line || (i+1)%int(interval) == 0 {
			if !progress(current) {
				return from, events, r.ctx.Err()
			}
		}
	}
	if len(res.Lines) == 0 && !progress(res.End.Line) {
		return from, events, r.ctx.Err()
	}

	return res.End, events, nil
}
