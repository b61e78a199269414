package ingest

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/loglens/loglens/internal/index"
	"github.com/loglens/loglens/internal/lenserr"
	"github.com/loglens/loglens/internal/logparse"
	"github.com/loglens/loglens/internal/model"
)

// maxFutureSkew is how far ahead of the ingest clock a client-supplied
// timestamp may run before it is rejected as malformed.
const maxFutureSkew = 24 * time.Hour

// EntryBuffer is the async write path an acknowledged entry is handed to.
type EntryBuffer interface {
	Add(e *model.LogEntry)
}

// Service is the ingestion front door. It validates and normalizes entries,
// assigns ids, updates the secondary indexes write-through, and hands the
// entry to the asynchronous insert buffer. An append is acknowledged (id
// returned) only after the indexes have been updated and the entry journaled
// by the buffer.
type Service struct {
	buffer  EntryBuffer
	indexer *index.Index
	nextID  atomic.Int64
}

// NewService creates the ingestion service. lastID seeds the id counter and
// must be the store's current maximum entry id.
func NewService(buffer EntryBuffer, indexer *index.Index, lastID int64) *Service {
	s := &Service{buffer: buffer, indexer: indexer}
	s.nextID.Store(lastID)
	return s
}

// Append validates, normalizes, and accepts one entry, returning its
// assigned id.
func (s *Service) Append(ctx context.Context, e *model.LogEntry) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if e == nil {
		return 0, lenserr.Validation("ingest.append", "nil entry")
	}
	if err := validateTimestamp(e.Timestamp); err != nil {
		return 0, err
	}

	normalize(e)
	e.ID = s.nextID.Add(1)

	if s.indexer != nil {
		s.indexer.OnWrite(e)
	}
	s.buffer.Add(e)
	return e.ID, nil
}

// AppendBatch accepts a batch atomically with respect to validation: if any
// entry is malformed, none are accepted.
func (s *Service) AppendBatch(ctx context.Context, entries []*model.LogEntry) ([]int64, error) {
	if len(entries) == 0 {
		return nil, lenserr.Validation("ingest.append_batch", "empty batch")
	}
	for i, e := range entries {
		if e == nil {
			return nil, lenserr.Validation("ingest.append_batch", "nil entry in batch")
		}
		if err := validateTimestamp(e.Timestamp); err != nil {
			return nil, lenserr.Validation("ingest.append_batch",
				"entry "+strconv.Itoa(i)+": "+err.Error())
		}
	}

	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		id, err := s.Append(ctx, e)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// LastAssignedID returns the most recently assigned entry id.
func (s *Service) LastAssignedID() int64 {
	return s.nextID.Load()
}

func validateTimestamp(ts time.Time) error {
	if ts.IsZero() {
		return lenserr.Validation("ingest.append", "timestamp is required")
	}
	if ts.After(time.Now().Add(maxFutureSkew)) {
		return lenserr.Validation("ingest.append", "timestamp too far in the future")
	}
	return nil
}

// normalize coerces an entry into canonical form: UTC timestamp, one of the
// known levels, derived columns promoted from attributes.
func normalize(e *model.LogEntry) {
	e.Timestamp = e.Timestamp.UTC()
	if !model.ValidLevel(e.Level) {
		e.Level = logparse.NormalizeSeverity(e.Level)
	}
	fillDerivedFields(e)
}
