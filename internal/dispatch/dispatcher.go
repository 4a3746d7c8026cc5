package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/SteelMorgan/journal-ingest/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrBatchFailed is returned by Consume when the stream ended with a fatal error
var ErrBatchFailed = errors.New("batch failed")

// ErrIncomplete is returned by Consume when the stream closed without a
// terminal message
var ErrIncomplete = errors.New("stream closed before done")

// Subscriber receives messages in arrival order
type Subscriber interface {
	Deliver(ctx context.Context, msg domain.Message) error
}

// SubscriberFunc adapts a function to Subscriber
type SubscriberFunc func(ctx context.Context, msg domain.Message) error

// Deliver calls f
func (f SubscriberFunc) Deliver(ctx context.Context, msg domain.Message) error {
	return f(ctx, msg)
}

// Committer persists checkpoint advances
type Committer interface {
	Merge(ctx context.Context, updates domain.Checkpoints) error
}

type registration struct {
	id  string
	seq uint64
	sub Subscriber
}

// Dispatcher fans messages out to subscribers and commits checkpoints when a
// batch reports done. Subscriber failures never block delivery to others or
// the commit.
type Dispatcher struct {
	store Committer

	// deliverMu serializes delivery so every subscriber sees one global order
	deliverMu sync.Mutex

	mu        sync.RWMutex
	subs      map[string]registration
	seq       uint64
	events    map[domain.EventKind]domain.Message
	snapshots map[domain.SnapshotKind]domain.Message
	configErr *domain.Message
}

// New creates a dispatcher committing to store
func New(store Committer) *Dispatcher {
	return &Dispatcher{
		store:     store,
		subs:      make(map[string]registration),
		events:    make(map[domain.EventKind]domain.Message),
		snapshots: make(map[domain.SnapshotKind]domain.Message),
	}
}

// Subscribe registers s and returns its handle
func (d *Dispatcher) Subscribe(s Subscriber) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	id := uuid.NewString()
	d.subs[id] = registration{id: id, seq: d.seq, sub: s}
	return id
}

// SubscribeWithReplay registers s after replaying the cached values to it.
// No message published concurrently can be missed or seen twice.
func (d *Dispatcher) SubscribeWithReplay(ctx context.Context, s Subscriber) string {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()
	d.Replay(ctx, s)
	return d.Subscribe(s)
}

// Unsubscribe removes a subscriber. Unknown handles are ignored.
func (d *Dispatcher) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subs, id)
}

// Subscribers returns the number of registered subscribers
func (d *Dispatcher) Subscribers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

// Replay delivers the config error notice, the last snapshot of each kind and
// the last event of each kind to s
func (d *Dispatcher) Replay(ctx context.Context, s Subscriber) {
	for _, msg := range d.cached() {
		d.deliverOne(ctx, registration{id: "replay", sub: s}, msg)
	}
}

func (d *Dispatcher) cached() []domain.Message {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []domain.Message
	if d.configErr != nil {
		out = append(out, *d.configErr)
	}
	for _, kind := range []domain.SnapshotKind{domain.SnapshotCommander, domain.SnapshotStatus, domain.SnapshotNavRoute} {
		if msg, ok := d.snapshots[kind]; ok {
			out = append(out, msg)
		}
	}
	for _, kind := range domain.AllKinds {
		if msg, ok := d.events[kind]; ok {
			out = append(out, msg)
		}
	}
	return out
}

// State is the cached last value per kind
type State struct {
	Events      map[domain.EventKind]domain.Event       `json:"events" msgpack:"events"`
	Snapshots   map[domain.SnapshotKind]domain.Snapshot `json:"snapshots" msgpack:"snapshots"`
	ConfigError *domain.ErrorInfo                       `json:"config_error,omitempty" msgpack:"config_error,omitempty"`
}

// LastValues returns a copy of the cache
func (d *Dispatcher) LastValues() State {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st := State{
		Events:    make(map[domain.EventKind]domain.Event, len(d.events)),
		Snapshots: make(map[domain.SnapshotKind]domain.Snapshot, len(d.snapshots)),
	}
	for kind, msg := range d.events {
		st.Events[kind] = *msg.Event
	}
	for kind, msg := range d.snapshots {
		st.Snapshots[kind] = *msg.Snapshot
	}
	if d.configErr != nil {
		info := *d.configErr.Error
		st.ConfigError = &info
	}
	return st
}

// ReportConfigError publishes a persistent configuration error notice. It is
// replayed to every late subscriber until cleared.
func (d *Dispatcher) ReportConfigError(ctx context.Context, err error) {
	d.Publish(ctx, domain.Message{
		Kind:  domain.MessageConfigError,
		Error: &domain.ErrorInfo{Message: err.Error(), Fatal: true},
	})
}

// ClearConfigError drops the config error notice
func (d *Dispatcher) ClearConfigError() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configErr = nil
}

// Publish caches msg when it carries a last value and delivers it to every
// subscriber
func (d *Dispatcher) Publish(ctx context.Context, msg domain.Message) {
	d.deliverMu.Lock()
	defer d.deliverMu.Unlock()

	d.remember(msg)
	for _, reg := range d.registrations() {
		d.deliverOne(ctx, reg, msg)
	}
}

func (d *Dispatcher) remember(msg domain.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch msg.Kind {
	case domain.MessageEvent:
		if msg.Event != nil {
			d.events[msg.Event.Kind] = msg
		}
	case domain.MessageSnapshot:
		if msg.Snapshot != nil {
			d.snapshots[msg.Snapshot.Kind] = msg
		}
	case domain.MessageConfigError:
		m := msg
		d.configErr = &m
	}
}

// registrations returns subscribers in registration order
func (d *Dispatcher) registrations() []registration {
	d.mu.RLock()
	defer d.mu.RUnlock()

	regs := make([]registration, 0, len(d.subs))
	for _, reg := range d.subs {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].seq < regs[j].seq })
	return regs
}

func (d *Dispatcher) deliverOne(ctx context.Context, reg registration, msg domain.Message) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Str("subscriber", reg.id).
				Str("type", string(msg.Kind)).
				Interface("panic", p).
				Msg("Subscriber panicked")
		}
	}()
	if err := reg.sub.Deliver(ctx, msg); err != nil {
		log.Warn().
			Str("subscriber", reg.id).
			Str("type", string(msg.Kind)).
			Err(err).
			Msg("Subscriber delivery failed")
	}
}

// Consume forwards a worker stream to subscribers in arrival order. On done
// the reported checkpoints are merged into the store, then done is
// forwarded. A fatal error or a stream that closes without done commits
// nothing.
func (d *Dispatcher) Consume(ctx context.Context, stream <-chan domain.Message) (*domain.Done, error) {
	ctx, span := otel.Tracer("journal-ingest/dispatch").Start(ctx, "dispatch.consume")
	defer span.End()

	var (
		done     *domain.Done
		fatal    *domain.ErrorInfo
		events   int
		batchID  string
		fileErrs int
	)
	for msg := range stream {
		batchID = msg.BatchID
		switch msg.Kind {
		case domain.MessageDone:
			if msg.Done == nil {
				continue
			}
			if err := d.store.Merge(ctx, msg.Done.Checkpoints); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "commit failed")
				log.Error().
					Str("batch_id", batchID).
					Err(err).
					Msg("Failed to commit checkpoints")
				return nil, fmt.Errorf("failed to commit checkpoints: %w", err)
			}
			done = msg.Done
		case domain.MessageError:
			if msg.Error != nil && msg.Error.Fatal {
				fatal = msg.Error
			} else {
				fileErrs++
			}
		case domain.MessageEvent:
			events++
		}
		d.Publish(ctx, msg)
	}

	span.SetAttributes(
		attribute.String("batch.id", batchID),
		attribute.Int("batch.events", events),
		attribute.Int("batch.file_errors", fileErrs),
	)

	switch {
	case fatal != nil:
		span.SetStatus(codes.Error, fatal.Message)
		return nil, fmt.Errorf("%w: %s", ErrBatchFailed, fatal.Message)
	case done == nil:
		return nil, ErrIncomplete
	}

	log.Debug().
		Str("batch_id", batchID).
		Int("events", events).
		Int("files", len(done.Checkpoints)).
		Msg("Batch committed")
	return done, nil
}
