package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SteelMorgan/journal-ingest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInserter struct {
	mu      sync.Mutex
	batches [][]Row
	err     error
}

func (f *fakeInserter) Insert(_ context.Context, rows []Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, rows)
	return nil
}

func (f *fakeInserter) rows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func scanEvent(line int64) domain.Message {
	addr := int64(10477373803)
	return domain.EventMessage("b1", domain.Event{
		Kind:      domain.KindBodyScanned,
		Timestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		File:      "Journal.2024-03-01T100000.01.log",
		Line:      line,
		Payload:   domain.BodyScanned{BodyName: "Earth", StarSystem: "Sol", SystemAddress: &addr},
	})
}

func TestSinkFlushesWhenFull(t *testing.T) {
	ins := &fakeInserter{}
	s := NewSink(ins, BatchConfig{MaxSize: 3, FlushTimeout: 60000})
	ctx := context.Background()

	for i := int64(0); i < 7; i++ {
		require.NoError(t, s.Deliver(ctx, scanEvent(i)))
	}
	assert.Len(t, ins.batches, 2)
	assert.Equal(t, 1, s.Pending())

	require.NoError(t, s.Close())
	assert.Equal(t, 7, ins.rows())

	row := ins.batches[0][0]
	assert.Equal(t, "body_scanned", row.Kind)
	assert.Equal(t, "Sol", row.StarSystem)
	assert.Equal(t, int64(10477373803), row.SystemAddress)
	assert.Equal(t, "Earth", row.BodyName)
	assert.Contains(t, row.Payload, `"body_name":"Earth"`)
	assert.Len(t, row.RecordHash, 64)
}

func TestSinkFlushesOnDone(t *testing.T) {
	ins := &fakeInserter{}
	s := NewSink(ins, BatchConfig{MaxSize: 100, FlushTimeout: 60000})
	ctx := context.Background()

	require.NoError(t, s.Deliver(ctx, scanEvent(0)))
	require.NoError(t, s.Deliver(ctx, domain.Message{Kind: domain.MessageProgress, Progress: &domain.Progress{}}))
	assert.Equal(t, 0, ins.rows())

	require.NoError(t, s.Deliver(ctx, domain.Message{Kind: domain.MessageDone, Done: &domain.Done{}}))
	assert.Equal(t, 1, ins.rows())
}

func TestSinkKeepsRowsOnFailure(t *testing.T) {
	ins := &fakeInserter{err: errors.New("connection refused")}
	s := NewSink(ins, BatchConfig{MaxSize: 2, FlushTimeout: 60000})
	ctx := context.Background()

	require.NoError(t, s.Deliver(ctx, scanEvent(0)))
	assert.Error(t, s.Deliver(ctx, scanEvent(1)))
	assert.Equal(t, 2, s.Pending())

	ins.mu.Lock()
	ins.err = nil
	ins.mu.Unlock()
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, 2, ins.rows())
	assert.Equal(t, 0, s.Pending())
}

func TestSinkTimedFlush(t *testing.T) {
	ins := &fakeInserter{}
	s := NewSink(ins, BatchConfig{MaxSize: 100, FlushTimeout: 20})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.NoError(t, s.Deliver(ctx, scanEvent(0)))
	assert.Eventually(t, func() bool { return ins.rows() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Close())
}

func TestRowHashIdentifiesRecord(t *testing.T) {
	a, err := toRow(*scanEvent(5).Event)
	require.NoError(t, err)
	b, err := toRow(*scanEvent(5).Event)
	require.NoError(t, err)
	c, err := toRow(*scanEvent(6).Event)
	require.NoError(t, err)

	assert.Equal(t, a.RecordHash, b.RecordHash)
	assert.NotEqual(t, a.RecordHash, c.RecordHash)
}

func TestEnsureValidDateTime(t *testing.T) {
	assert.Equal(t, minClickHouseDateTime, ensureValidDateTime(time.Time{}))
	valid := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, valid, ensureValidDateTime(valid))
}
