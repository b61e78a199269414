package duckdb

import (
	"context"
	"strings"

	"github.com/loglens/loglens/internal/lenserr"
	"github.com/loglens/loglens/internal/model"
)

// Scan returns one page of entries inside the time range, ordered by
// (timestamp ASC, id ASC). The returned cursor is opaque and resumable; it
// pins the snapshot max-id at first issue, so entries appended after the scan
// started never appear in later pages. An empty next cursor means the scan is
// finished.
func (s *Store) Scan(ctx context.Context, tr TimeRange, limit int, cursorToken string) ([]LogEntry, string, error) {
	release, err := s.acquireRead(ctx)
	if err != nil {
		return nil, "", err
	}
	defer release()

	if limit <= 0 {
		limit = model.DefaultScanLimit
	}

	var cur cursor
	if cursorToken != "" {
		cur, err = decodeCursor(cursorToken)
		if err != nil {
			return nil, "", err
		}
		if cur.Desc {
			return nil, "", lenserr.Validation("store.scan", "cursor was issued by search, not scan")
		}
	} else {
		maxID, err := s.MaxEntryID(ctx)
		if err != nil {
			return nil, "", err
		}
		if maxID == 0 {
			return nil, "", nil
		}
		cur = cursor{MaxID: maxID}
	}

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	conditions := []string{"id <= ?"}
	args := []interface{}{cur.MaxID}
	if !tr.From.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, tr.From.UTC())
	}
	if !tr.To.IsZero() {
		conditions = append(conditions, "timestamp < ?")
		args = append(args, tr.To.UTC())
	}
	if cur.LastID > 0 {
		conditions = append(conditions, "(timestamp > ? OR (timestamp = ? AND id > ?))")
		last := cur.lastTime()
		args = append(args, last, last, cur.LastID)
	}
	args = append(args, limit+1)

	query := `SELECT ` + entryColumns + ` FROM log_entries WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY timestamp ASC, id ASC LIMIT ?`

	rows, err := s.db.QueryContext(qctx, query, args...)
	if err != nil {
		return nil, "", lenserr.StoreUnavailable("store.scan", err)
	}
	defer rows.Close()

	entries := make([]LogEntry, 0, limit)
	more := false
	for rows.Next() {
		if len(entries) == limit {
			more = true
			break
		}
		e, err := scanEntry(rows)
		if err != nil {
			return nil, "", lenserr.StoreUnavailable("store.scan", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", lenserr.StoreUnavailable("store.scan", err)
	}

	next := ""
	if more && len(entries) > 0 {
		last := entries[len(entries)-1]
		next = encodeCursor(cursor{
			MaxID:  cur.MaxID,
			LastTS: last.Timestamp.UnixNano(),
			LastID: last.ID,
		})
	}
	return entries, next, nil
}
