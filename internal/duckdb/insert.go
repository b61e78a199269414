package duckdb

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loglens/loglens/internal/journal"
	"github.com/loglens/loglens/internal/lenserr"
	"github.com/loglens/loglens/internal/model"
)

// DefaultFlushQueueSize is the number of batches that can be queued for async flushing.
const DefaultFlushQueueSize = 64

// TimeBucket truncates a timestamp to its hour bucket. The bucket column is
// the write-through time index: it is populated in the same statement as the
// row itself, so an acknowledged append is always bucket-indexed.
func TimeBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

type journaledEntry struct {
	seq   uint64
	entry *LogEntry
}

type durableJournal interface {
	Append(e *model.LogEntry) (uint64, error)
	Commit(seq uint64) error
	Close() error
}

// InsertBuffer batches log entries and flushes them to DuckDB asynchronously.
// Add() never blocks on DuckDB writes - entries are sent to a flush goroutine.
type InsertBuffer struct {
	writer        model.EntryWriter
	mu            sync.Mutex
	pending       []journaledEntry
	flushChan     chan []journaledEntry // async flush queue
	maxBatch      int
	flushInterval time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
	tickWg        sync.WaitGroup // separate WaitGroup for tickLoop
	journal       durableJournal

	// backpressureCount tracks inline flushes for throttled logging.
	backpressureCount atomic.Int64
	lastBPLog         atomic.Int64 // unix timestamp of last backpressure log
}

// InsertBufferConfig holds tunable parameters for the insert buffer.
type InsertBufferConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
	Journal        *journal.Journal
}

// NewInsertBuffer creates a new insert buffer that flushes to the store.
// The flush goroutine processes batches asynchronously so Add() never blocks on IO.
func NewInsertBuffer(writer model.EntryWriter, conf ...InsertBufferConfig) *InsertBuffer {
	batchSize := 2000
	flushInterval := 100 * time.Millisecond
	flushQueueSize := DefaultFlushQueueSize
	if len(conf) > 0 {
		if conf[0].BatchSize > 0 {
			batchSize = conf[0].BatchSize
		}
		if conf[0].FlushInterval > 0 {
			flushInterval = conf[0].FlushInterval
		}
		if conf[0].FlushQueueSize > 0 {
			flushQueueSize = conf[0].FlushQueueSize
		}
	}

	b := &InsertBuffer{
		writer:        writer,
		pending:       make([]journaledEntry, 0, batchSize),
		flushChan:     make(chan []journaledEntry, flushQueueSize),
		maxBatch:      batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}
	if len(conf) > 0 && conf[0].Journal != nil {
		b.journal = conf[0].Journal
	}

	b.wg.Add(1)
	go b.flushWorker()

	b.wg.Add(1)
	b.tickWg.Add(1)
	go b.tickLoop()

	return b
}

// tickLoop periodically drains the pending buffer.
func (b *InsertBuffer) tickLoop() {
	defer b.wg.Done()
	defer b.tickWg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainPending()
		case <-b.done:
			b.drainPending() // final drain
			return
		}
	}
}

// logBackpressure emits a throttled warning (at most once per 10 seconds) when
// the flush channel is full and an inline flush is triggered.
func (b *InsertBuffer) logBackpressure() {
	count := b.backpressureCount.Add(1)
	now := time.Now().Unix()
	last := b.lastBPLog.Load()
	if now-last >= 10 && b.lastBPLog.CompareAndSwap(last, now) {
		log.Printf("duckdb: backpressure — %d inline flushes (flush channel full, DuckDB falling behind)", count)
	}
}

// drainPending moves pending entries to the flush channel without blocking on DuckDB.
func (b *InsertBuffer) drainPending() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = make([]journaledEntry, 0, b.maxBatch)
	b.mu.Unlock()

	// Non-blocking send to flush channel. If channel is full, flush synchronously
	// as a safety valve (this means DuckDB is falling behind).
	select {
	case b.flushChan <- batch:
	default:
		b.logBackpressure()
		if err := b.flushBatch(batch); err != nil {
			log.Printf("duckdb flush error (inline): %v", err)
		}
	}
}

// flushWorker processes batches from the flush channel.
func (b *InsertBuffer) flushWorker() {
	defer b.wg.Done()
	for batch := range b.flushChan {
		if err := b.flushBatch(batch); err != nil {
			log.Printf("duckdb flush error: %v", err)
		}
	}
}

// Add queues an entry for batch insertion. This never blocks on DuckDB IO.
// The entry must already carry its store-assigned id.
func (b *InsertBuffer) Add(e *LogEntry) {
	seq := uint64(0)
	if b.journal != nil {
		for {
			var err error
			seq, err = b.journal.Append(e)
			if err == nil {
				break
			}
			log.Printf("duckdb: journal append failed, retrying: %v", err)
			select {
			case <-b.done:
				return
			case <-time.After(200 * time.Millisecond):
			}
		}
	}

	b.mu.Lock()
	b.pending = append(b.pending, journaledEntry{
		seq:   seq,
		entry: e,
	})
	shouldFlush := len(b.pending) >= b.maxBatch
	var batch []journaledEntry
	if shouldFlush {
		batch = b.pending
		b.pending = make([]journaledEntry, 0, b.maxBatch)
	}
	b.mu.Unlock()

	if shouldFlush {
		select {
		case b.flushChan <- batch:
		default:
			// Backpressure safety valve: flush inline instead of spawning
			// unbounded goroutines under sustained overload.
			b.logBackpressure()
			if err := b.flushBatch(batch); err != nil {
				log.Printf("duckdb flush error (overflow-inline): %v", err)
			}
		}
	}
}

// Stop flushes remaining entries and waits for all writes to complete.
func (b *InsertBuffer) Stop() {
	close(b.done)
	// Wait for tickLoop to finish its final drain before closing flushChan,
	// ensuring all pending entries are sent to the flush channel.
	b.tickWg.Wait()
	close(b.flushChan)
	b.wg.Wait()
	if b.journal != nil {
		if err := b.journal.Close(); err != nil {
			log.Printf("duckdb: journal close error: %v", err)
		}
	}
}

func (b *InsertBuffer) flushBatch(batch []journaledEntry) error {
	if len(batch) == 0 {
		return nil
	}

	entries := make([]*LogEntry, 0, len(batch))
	for _, item := range batch {
		entries = append(entries, item.entry)
	}

	err := lenserr.Retry(context.Background(), lenserr.DefaultRetry, func() error {
		return b.writer.InsertEntryBatch(entries)
	})
	if err != nil {
		return err
	}

	if b.journal != nil {
		maxSeq := uint64(0)
		for _, item := range batch {
			if item.seq > maxSeq {
				maxSeq = item.seq
			}
		}
		if maxSeq > 0 {
			if err := b.journal.Commit(maxSeq); err != nil {
				return fmt.Errorf("journal commit seq=%d: %w", maxSeq, err)
			}
		}
	}
	return nil
}

// InsertEntryBatch appends a batch of log entries into DuckDB in a single
// transaction. If any individual entry fails to insert, the entire batch is
// rolled back and retried entry-by-entry to salvage as many as possible.
func (s *Store) InsertEntryBatch(entries []*LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	ctx, cancel := s.queryCtx(context.Background())
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.insertBatchTx(ctx, entries)
	if err == nil {
		return nil
	}

	// Batch failed — retry entry-by-entry to salvage what we can.
	var failed int
	var lastErr error
	for _, e := range entries {
		if rerr := s.insertBatchTx(ctx, []*LogEntry{e}); rerr != nil {
			failed++
			lastErr = rerr
			log.Printf("duckdb: dropping entry (id=%d service=%s msg=%.80s): %v", e.ID, e.Service, e.Message, rerr)
		}
	}
	if failed == len(entries) {
		return lenserr.StoreUnavailable("store.insert_batch", lastErr)
	}
	if failed > 0 {
		log.Printf("duckdb: batch partially failed — %d/%d entries dropped", failed, len(entries))
	}
	return nil
}

// insertBatchTx inserts entries in a single transaction.
func (s *Store) insertBatchTx(ctx context.Context, entries []*LogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO log_entries
		(id, timestamp, time_bucket, level, message, source, service, hostname,
		 response_time_ms, request_id, session_id, correlation_id, attributes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		attrsJSON := []byte("{}")
		if len(e.Attributes) > 0 {
			if data, merr := json.Marshal(e.Attributes); merr != nil {
				log.Printf("duckdb: failed to marshal attributes, using empty: %v", merr)
			} else {
				attrsJSON = data
			}
		}

		var responseTime any
		if e.ResponseTimeMS != nil {
			responseTime = *e.ResponseTimeMS
		}

		level := e.Level
		if level == "" {
			level = model.LevelUnknown
		}

		ts := e.Timestamp.UTC()
		if _, err := stmt.ExecContext(
			ctx,
			e.ID, ts, TimeBucket(ts), level, e.Message,
			e.Source, e.Service, e.Hostname, responseTime,
			e.RequestID, e.SessionID, e.CorrelationID, string(attrsJSON),
		); err != nil {
			return fmt.Errorf("entry insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
