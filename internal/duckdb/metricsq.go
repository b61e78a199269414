package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/loglens/loglens/internal/lenserr"
	"github.com/loglens/loglens/internal/model"
)

// AggregateCounts holds the raw counts the metrics aggregator derives its
// rates from. ScoredTotal is the anomaly-rate denominator: entries that have
// no prediction yet are excluded rather than counted as non-anomalous.
type AggregateCounts struct {
	Total             int64
	ErrorCount        int64
	ScoredTotal       int64
	AnomalyCount      int64
	AvgResponseTimeMS *float64
	MinResponseTimeMS *float64
	MaxResponseTimeMS *float64
}

// AggregateCounts computes the counts for one time range in a single pass
// over the entries table plus a prediction join.
func (s *Store) AggregateCounts(ctx context.Context, tr TimeRange) (*AggregateCounts, error) {
	release, err := s.acquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	where, args := timeRangeConditions(tr)

	var c AggregateCounts
	var avg, min, max sql.NullFloat64
	query := fmt.Sprintf(`SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE e.level IN ('ERROR', 'FATAL')),
		COUNT(p.log_entry_id),
		COUNT(*) FILTER (WHERE p.is_anomaly),
		AVG(e.response_time_ms),
		MIN(e.response_time_ms),
		MAX(e.response_time_ms)
	FROM log_entries e
	LEFT JOIN predictions p ON p.log_entry_id = e.id
	%s`, where)

	if err := s.db.QueryRowContext(qctx, query, args...).
		Scan(&c.Total, &c.ErrorCount, &c.ScoredTotal, &c.AnomalyCount, &avg, &min, &max); err != nil {
		return nil, lenserr.StoreUnavailable("store.aggregate", err)
	}
	c.AvgResponseTimeMS = nullableFloat(avg)
	c.MinResponseTimeMS = nullableFloat(min)
	c.MaxResponseTimeMS = nullableFloat(max)
	return &c, nil
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// BucketRow is one non-empty bucket of a time-series query. Buckets the range
// covers but the data does not are absent here; the aggregator fills the gaps.
type BucketRow struct {
	Bucket time.Time
	Counts AggregateCounts
}

// bucketExpr returns the DuckDB truncation expression for a granularity.
func bucketExpr(g string) (string, error) {
	switch g {
	case model.GranularityMinute:
		return `date_trunc('minute', e.timestamp)`, nil
	case model.GranularityHour:
		// Hour buckets read the write-through bucket column directly.
		return `e.time_bucket`, nil
	case model.GranularityDay:
		return `date_trunc('day', e.timestamp)`, nil
	default:
		return "", lenserr.Validation("store.timeseries", "unknown granularity "+g)
	}
}

// TimeBucketRows returns per-bucket counts for the range, ascending by bucket.
func (s *Store) TimeBucketRows(ctx context.Context, tr TimeRange, g string) ([]BucketRow, error) {
	expr, err := bucketExpr(g)
	if err != nil {
		return nil, err
	}

	release, err := s.acquireRead(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	where, args := timeRangeConditions(tr)

	query := fmt.Sprintf(`SELECT
		%s AS bucket,
		COUNT(*),
		COUNT(*) FILTER (WHERE e.level IN ('ERROR', 'FATAL')),
		COUNT(p.log_entry_id),
		COUNT(*) FILTER (WHERE p.is_anomaly),
		AVG(e.response_time_ms),
		MIN(e.response_time_ms),
		MAX(e.response_time_ms)
	FROM log_entries e
	LEFT JOIN predictions p ON p.log_entry_id = e.id
	%s
	GROUP BY bucket
	ORDER BY bucket ASC`, expr, where)

	rows, err := s.db.QueryContext(qctx, query, args...)
	if err != nil {
		return nil, lenserr.StoreUnavailable("store.timeseries", err)
	}
	defer rows.Close()

	var out []BucketRow
	for rows.Next() {
		var r BucketRow
		var avg, min, max sql.NullFloat64
		if err := rows.Scan(&r.Bucket, &r.Counts.Total, &r.Counts.ErrorCount,
			&r.Counts.ScoredTotal, &r.Counts.AnomalyCount, &avg, &min, &max); err != nil {
			return nil, err
		}
		r.Bucket = r.Bucket.UTC()
		r.Counts.AvgResponseTimeMS = nullableFloat(avg)
		r.Counts.MinResponseTimeMS = nullableFloat(min)
		r.Counts.MaxResponseTimeMS = nullableFloat(max)
		out = append(out, r)
	}
	return out, rows.Err()
}

// timeRangeConditions builds the WHERE clause for a half-open time range over
// the aliased entries table.
func timeRangeConditions(tr TimeRange) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if !tr.From.IsZero() {
		conds = append(conds, "e.timestamp >= ?")
		args = append(args, tr.From.UTC())
	}
	if !tr.To.IsZero() {
		conds = append(conds, "e.timestamp < ?")
		args = append(args, tr.To.UTC())
	}
	if len(conds) == 0 {
		return "", nil
	}
	where := "WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}
