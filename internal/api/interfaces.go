package api

import (
	"context"

	"github.com/SteelMorgan/journal-ingest/internal/dispatch"
	"github.com/SteelMorgan/journal-ingest/internal/domain"
	"github.com/SteelMorgan/journal-ingest/internal/history"
)

// Ingester is the command side of the ingest service
type Ingester interface {
	StartLiveTail(ctx context.Context) error
	Rescan(clear bool) bool
	Scanning() bool
	Tailing() bool
	Checkpoints() domain.Checkpoints
}

// Broadcaster is the subscriber side of the dispatcher
type Broadcaster interface {
	SubscribeWithReplay(ctx context.Context, s dispatch.Subscriber) string
	Unsubscribe(id string)
	Subscribers() int
	LastValues() dispatch.State
}

// HistoryStore serves travel history
type HistoryStore interface {
	Entries() []history.Entry
	MergeBackfill(entries []history.Entry) int
	Len() int
}
