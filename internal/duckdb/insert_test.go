package duckdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loglens/loglens/internal/journal"
)

func TestTimeBucket(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 42, 13, 500, time.UTC)
	want := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if got := TimeBucket(ts); !got.Equal(want) {
		t.Errorf("TimeBucket = %v, want %v", got, want)
	}

	// Non-UTC inputs bucket on the UTC hour.
	loc := time.FixedZone("plus2", 2*3600)
	if got := TimeBucket(ts.In(loc)); !got.Equal(want) {
		t.Errorf("TimeBucket(non-UTC) = %v, want %v", got, want)
	}
}

func TestInsertBufferFlushesOnStop(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store, InsertBufferConfig{
		BatchSize:     100,
		FlushInterval: time.Hour, // only the final drain should flush
	})

	for i := int64(1); i <= 5; i++ {
		buf.Add(&LogEntry{ID: i, Timestamp: time.Now(), Level: "INFO", Message: "buffered"})
	}
	buf.Stop()

	count, err := store.TotalLogCount(context.Background())
	if err != nil {
		t.Fatalf("TotalLogCount: %v", err)
	}
	if count != 5 {
		t.Errorf("count after Stop = %d, want 5", count)
	}
}

func TestInsertBufferFlushesOnBatchSize(t *testing.T) {
	store := newTestStore(t)
	buf := NewInsertBuffer(store, InsertBufferConfig{
		BatchSize:     3,
		FlushInterval: time.Hour,
	})
	defer buf.Stop()

	for i := int64(1); i <= 3; i++ {
		buf.Add(&LogEntry{ID: i, Timestamp: time.Now(), Level: "INFO", Message: "batched"})
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		count, err := store.TotalLogCount(context.Background())
		if err != nil {
			t.Fatalf("TotalLogCount: %v", err)
		}
		if count == 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("batch was not flushed when it reached BatchSize")
}

func TestInsertBufferCommitsJournal(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	j, err := journal.Open(filepath.Join(dir, "ingest.journal"))
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}

	buf := NewInsertBuffer(store, InsertBufferConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
		Journal:       j,
	})
	buf.Add(&LogEntry{ID: 1, Timestamp: time.Now(), Level: "INFO", Message: "durable"})
	buf.Stop() // closes the journal after the final flush and commit

	// A reopened journal replays nothing once the flush committed.
	j2, err := journal.Open(filepath.Join(dir, "ingest.journal"))
	if err != nil {
		t.Fatalf("journal.Open(reopen): %v", err)
	}
	defer j2.Close()
	replayed := 0
	if err := j2.Replay(func(seq uint64, e *LogEntry) error {
		replayed++
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed != 0 {
		t.Errorf("replayed %d entries after commit, want 0", replayed)
	}
}
