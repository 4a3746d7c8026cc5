package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/SteelMorgan/journal-ingest/internal/clickhouse"
	"github.com/rs/zerolog/log"
)

// ClickHouse DateTime64 valid range: 1925-01-01 to 2283-11-11
var (
	minClickHouseDateTime = time.Date(1925, 1, 1, 0, 0, 0, 0, time.UTC)
	maxClickHouseDateTime = time.Date(2283, 11, 11, 23, 59, 59, 999999999, time.UTC)
)

// ensureValidDateTime ensures the time value is within ClickHouse DateTime64 range
// Returns the input time if valid, or minClickHouseDateTime if out of range or zero
func ensureValidDateTime(t time.Time) time.Time {
	if t.IsZero() || t.Before(minClickHouseDateTime) || t.After(maxClickHouseDateTime) {
		return minClickHouseDateTime
	}
	return t
}

const eventsTable = "journal_events"

// schemaDDL creates the events table. ReplacingMergeTree collapses rows
// redelivered after a restart.
const schemaDDL = `CREATE TABLE IF NOT EXISTS %s.%s (
	event_time DateTime64(3, 'UTC'),
	kind LowCardinality(String),
	file String,
	line Int64,
	star_system String,
	system_address Int64,
	body_name String,
	payload String,
	record_hash String
) ENGINE = ReplacingMergeTree
ORDER BY (kind, event_time, record_hash)`

// ClickHouseInserter writes rows with the client's retry policy
type ClickHouseInserter struct {
	client *clickhouse.Client
}

// NewClickHouseInserter creates an inserter and makes sure the table exists
func NewClickHouseInserter(ctx context.Context, client *clickhouse.Client) (*ClickHouseInserter, error) {
	if err := client.Exec(ctx, fmt.Sprintf(schemaDDL, client.Database(), eventsTable)); err != nil {
		return nil, fmt.Errorf("failed to create %s table: %w", eventsTable, err)
	}
	return &ClickHouseInserter{client: client}, nil
}

// Insert writes rows in one batch
func (c *ClickHouseInserter) Insert(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	startTime := time.Now()

	err := c.client.SendBatch(ctx, eventsTable, func(batch driver.Batch) error {
		for i, row := range rows {
			if err := batch.Append(
				ensureValidDateTime(row.EventTime),
				row.Kind,
				row.File,
				row.Line,
				row.StarSystem,
				row.SystemAddress,
				row.BodyName,
				row.Payload,
				row.RecordHash,
			); err != nil {
				return fmt.Errorf("failed to append to batch (row %d, file=%s, line=%d): %w", i, row.File, row.Line, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to send batch (rows=%d): %w", len(rows), err)
	}

	totalTime := time.Since(startTime)
	log.Info().
		Int("written", len(rows)).
		Dur("total_time_ms", totalTime).
		Float64("records_per_second", float64(len(rows))/totalTime.Seconds()).
		Msg("Flushed journal events to ClickHouse")
	return nil
}
