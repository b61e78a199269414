package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/loglens/loglens/internal/lenserr"
	"github.com/loglens/loglens/internal/model"
)

// entryColumnsTmpl is the scan-ordered column list shared by every entry
// query; %[1]s is the optional "alias." qualifier. Column order must match
// scanEntry.
const entryColumnsTmpl = `%[1]sid, %[1]stimestamp, %[1]slevel, %[1]smessage,
	COALESCE(%[1]ssource, ''), COALESCE(%[1]sservice, ''), COALESCE(%[1]shostname, ''),
	%[1]sresponse_time_ms,
	COALESCE(%[1]srequest_id, ''), COALESCE(%[1]ssession_id, ''), COALESCE(%[1]scorrelation_id, ''),
	CAST(%[1]sattributes AS VARCHAR)`

var entryColumns = fmt.Sprintf(entryColumnsTmpl, "")

// scanEntry reads one LogEntry from a row produced with entryColumns.
func scanEntry(rows *sql.Rows) (*LogEntry, error) {
	var e LogEntry
	var responseTime sql.NullFloat64
	var attrsJSON string
	if err := rows.Scan(
		&e.ID, &e.Timestamp, &e.Level, &e.Message,
		&e.Source, &e.Service, &e.Hostname,
		&responseTime,
		&e.RequestID, &e.SessionID, &e.CorrelationID,
		&attrsJSON,
	); err != nil {
		return nil, err
	}
	e.Timestamp = e.Timestamp.UTC()
	if responseTime.Valid {
		v := responseTime.Float64
		e.ResponseTimeMS = &v
	}
	e.Attributes = make(map[string]string)
	if attrsJSON != "" && attrsJSON != "{}" {
		parseJSONMap(attrsJSON, e.Attributes)
	}
	return &e, nil
}

// MaxEntryID returns the highest assigned entry id, used to seed the
// engine's id counter on startup.
func (s *Store) MaxEntryID(ctx context.Context) (int64, error) {
	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM log_entries`).Scan(&max); err != nil {
		return 0, lenserr.StoreUnavailable("store.max_id", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}

// GetByID returns a single entry or a NOT_FOUND error.
func (s *Store) GetByID(ctx context.Context, id int64) (*LogEntry, error) {
	release, err := s.acquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM log_entries WHERE id = ?`, id)
	if err != nil {
		return nil, lenserr.StoreUnavailable("store.get", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, lenserr.StoreUnavailable("store.get", err)
		}
		return nil, lenserr.NotFound("store.get", strconv.FormatInt(id, 10))
	}
	return scanEntry(rows)
}

// TotalLogCount returns the total number of entries in the store.
func (s *Store) TotalLogCount(ctx context.Context) (int64, error) {
	release, err := s.acquireRead(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	ctx, cancel := s.queryCtx(ctx)
	defer cancel()

	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM log_entries`).Scan(&count); err != nil {
		return 0, lenserr.StoreUnavailable("store.count", err)
	}
	return count, nil
}

// filterConditions translates a SearchFilter into WHERE fragments and args.
func filterConditions(filter SearchFilter) (conditions []string, args []interface{}) {
	if filter.Level != "" {
		conditions = append(conditions, "level = ?")
		args = append(args, filter.Level)
	}
	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.Service != "" {
		conditions = append(conditions, "service = ?")
		args = append(args, filter.Service)
	}
	if filter.Text != "" {
		// DuckDB LIKE has no escape character unless ESCAPE names one.
		conditions = append(conditions, `message ILIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(filter.Text)+"%")
	}
	if !filter.Range.From.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.Range.From.UTC())
	}
	if !filter.Range.To.IsZero() {
		conditions = append(conditions, "timestamp < ?")
		args = append(args, filter.Range.To.UTC())
	}
	return conditions, args
}

// escapeLike neutralizes LIKE metacharacters so search text is a literal
// substring match.
func escapeLike(text string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(text)
}

// Search answers a filtered search with deterministic most-recent-first
// ordering (timestamp DESC, id DESC tie-break) and snapshot-cursor
// pagination. TotalMatched counts all matches inside the cursor snapshot.
func (s *Store) Search(ctx context.Context, filter SearchFilter, page SearchPage) (*SearchResult, error) {
	release, err := s.acquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	limit := page.Limit
	if limit <= 0 {
		limit = model.DefaultSearchLimit
	}

	var cur cursor
	if page.Cursor != "" {
		cur, err = decodeCursor(page.Cursor)
		if err != nil {
			return nil, err
		}
		if !cur.Desc {
			return nil, lenserr.Validation("store.search", "cursor was issued by scan, not search")
		}
	} else {
		maxID, err := s.MaxEntryID(ctx)
		if err != nil {
			return nil, err
		}
		cur = cursor{MaxID: maxID, Desc: true}
	}

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	conditions, args := filterConditions(filter)
	conditions = append(conditions, "id <= ?")
	args = append(args, cur.MaxID)

	countQuery := `SELECT COUNT(*) FROM log_entries WHERE ` + strings.Join(conditions, " AND ")
	var total int64
	if err := s.db.QueryRowContext(qctx, countQuery, args...).Scan(&total); err != nil {
		return nil, lenserr.StoreUnavailable("store.search", err)
	}

	if cur.LastID > 0 {
		conditions = append(conditions, "(timestamp < ? OR (timestamp = ? AND id < ?))")
		last := cur.lastTime()
		args = append(args, last, last, cur.LastID)
	}

	query := fmt.Sprintf(`SELECT %s FROM log_entries WHERE %s ORDER BY timestamp DESC, id DESC LIMIT ?`,
		entryColumns, strings.Join(conditions, " AND "))
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(qctx, query, args...)
	if err != nil {
		return nil, lenserr.StoreUnavailable("store.search", err)
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
			return nil, lenserr.StoreUnavailable("store.search", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, lenserr.StoreUnavailable("store.search", err)
	}

	result := &SearchResult{Entries: entries, TotalMatched: total}
	if more && len(entries) > 0 {
		last := entries[len(entries)-1]
		result.NextCursor = encodeCursor(cursor{
			MaxID:  cur.MaxID,
			LastTS: last.Timestamp.UnixNano(),
			LastID: last.ID,
			Desc:   true,
		})
	}
	return result, nil
}

// DimensionValue reports one value of an indexable dimension for an entry id.
type DimensionValue struct {
	ID    int64
	Value string
}

// indexableDimensions maps index dimension names to their column expressions.
// time_bucket values are formatted in RFC3339 so the in-memory index can
// parse them back.
var indexableDimensions = map[string]string{
	"level":       "level",
	"source":      "COALESCE(source, '')",
	"service":     "COALESCE(service, '')",
	"time_bucket": "strftime(time_bucket, '%Y-%m-%dT%H:%M:%SZ')",
}

// DimensionValues streams (id, value) pairs for one dimension, ordered by id.
// The index rebuild path consumes this to recompute an index from the store.
func (s *Store) DimensionValues(ctx context.Context, dimension string, fn func(DimensionValue) error) error {
	expr, ok := indexableDimensions[dimension]
	if !ok {
		return lenserr.Validation("store.dimension_values", "unknown dimension "+dimension)
	}

	release, err := s.acquireRead(ctx)
	if err != nil {
		return err
	}
	defer release()

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(qctx,
		fmt.Sprintf(`SELECT id, %s FROM log_entries ORDER BY id`, expr))
	if err != nil {
		return lenserr.StoreUnavailable("store.dimension_values", err)
	}
	defer rows.Close()

	for rows.Next() {
		var dv DimensionValue
		if err := rows.Scan(&dv.ID, &dv.Value); err != nil {
			return err
		}
		if err := fn(dv); err != nil {
			return err
		}
	}
	return rows.Err()
}

// parseJSONMap parses a JSON object string into a map[string]string.
func parseJSONMap(jsonStr string, dest map[string]string) error {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return err
	}
	for k, v := range raw {
		dest[k] = fmt.Sprintf("%v", v)
	}
	return nil
}
