package relay

import (
	"context"
	"time"
)

// Row is one journal event as stored in ClickHouse
type Row struct {
	EventTime     time.Time
	Kind          string
	File          string
	Line          int64
	StarSystem    string
	SystemAddress int64 // 0 when unknown
	BodyName      string
	Payload       string // JSON encoded event payload
	RecordHash    string
}

// Inserter writes a batch of rows
type Inserter interface {
	// Insert writes rows in one batch
	Insert(ctx context.Context, rows []Row) error
}

// BatchConfig configures batch behavior
type BatchConfig struct {
	MaxSize      int   // Maximum rows per batch
	FlushTimeout int64 // Maximum milliseconds to wait before flush
}

// DefaultBatchConfig returns the batch settings used when none are given
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{MaxSize: 500, FlushTimeout: 2000}
}
