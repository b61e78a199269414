// Package metrics rolls stored entries and predictions up into the aggregate
// and time-series shapes the API serves. Rollups hit the store, so repeated
// dashboard polls are absorbed by a TTL'd LRU cache in front of it.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/loglens/loglens/internal/duckdb"
	"github.com/loglens/loglens/internal/lenserr"
	"github.com/loglens/loglens/internal/model"
)

// Store is the query surface the aggregator reads from.
type Store interface {
	AggregateCounts(ctx context.Context, tr model.TimeRange) (*duckdb.AggregateCounts, error)
	TimeBucketRows(ctx context.Context, tr model.TimeRange, granularity string) ([]duckdb.BucketRow, error)
}

// CacheConfig tunes the rollup cache. A zero TTL or MaxSize disables caching.
// KeyScheme namespaces cache keys so two aggregators sharing tuning do not
// collide.
type CacheConfig struct {
	TTL       time.Duration
	MaxSize   int
	KeyScheme string
}

// Aggregator computes metrics rollups with read-through caching.
type Aggregator struct {
	store     Store
	keyScheme string

	aggCache    *expirable.LRU[string, *model.AggregateMetrics]
	seriesCache *expirable.LRU[string, []model.TimeBucket]
}

// New creates an aggregator over store with the given cache tuning.
func New(store Store, cache CacheConfig) *Aggregator {
	a := &Aggregator{store: store, keyScheme: cache.KeyScheme}
	if cache.TTL > 0 && cache.MaxSize > 0 {
		a.aggCache = expirable.NewLRU[string, *model.AggregateMetrics](cache.MaxSize, nil, cache.TTL)
		a.seriesCache = expirable.NewLRU[string, []model.TimeBucket](cache.MaxSize, nil, cache.TTL)
	}
	return a
}

// ComputeSystemHealth scores a window from 0 to 100. Errors weigh 2x their
// rate and anomalies 0.5x; the anomaly rate is taken over scored entries only
// so a backlogged scorer does not read as a healthy system going bad.
func ComputeSystemHealth(total, errorCount, scoredTotal, anomalyCount int64) float64 {
	errorRate := float64(errorCount) / float64(max64(total, 1)) * 100
	anomalyRate := float64(anomalyCount) / float64(max64(scoredTotal, 1)) * 100
	health := 100 - errorRate*2 - anomalyRate*0.5
	if health < 0 {
		return 0
	}
	return health
}

// Aggregate computes the rollup for one time range.
func (a *Aggregator) Aggregate(ctx context.Context, tr model.TimeRange) (*model.AggregateMetrics, error) {
	key := a.key("agg", tr, "")
	if a.aggCache != nil {
		if m, ok := a.aggCache.Get(key); ok {
			return m, nil
		}
	}

	c, err := a.store.AggregateCounts(ctx, tr)
	if err != nil {
		return nil, err
	}
	m := &model.AggregateMetrics{
		TotalLogs:         c.Total,
		AvgResponseTimeMS: c.AvgResponseTimeMS,
		ErrorRatePct:      float64(c.ErrorCount) / float64(max64(c.Total, 1)) * 100,
		AnomalyRatePct:    float64(c.AnomalyCount) / float64(max64(c.ScoredTotal, 1)) * 100,
		SystemHealth:      ComputeSystemHealth(c.Total, c.ErrorCount, c.ScoredTotal, c.AnomalyCount),
	}
	if a.aggCache != nil {
		a.aggCache.Add(key, m)
	}
	return m, nil
}

// TimeSeries computes per-bucket metrics for the range at the given
// granularity. Buckets the range covers but the data does not are present
// with zero counts and nil aggregates, so consumers can render gaps without
// re-deriving the bucket grid.
func (a *Aggregator) TimeSeries(ctx context.Context, tr model.TimeRange, granularity string) ([]model.TimeBucket, error) {
	step, ok := model.GranularityDuration(granularity)
	if !ok {
		return nil, lenserr.Validation("metrics.timeseries", "unknown granularity "+granularity)
	}

	key := a.key("series", tr, granularity)
	if a.seriesCache != nil {
		if buckets, ok := a.seriesCache.Get(key); ok {
			return buckets, nil
		}
	}

	rows, err := a.store.TimeBucketRows(ctx, tr, granularity)
	if err != nil {
		return nil, err
	}

	buckets := fillBuckets(rows, tr, step)
	if a.seriesCache != nil {
		a.seriesCache.Add(key, buckets)
	}
	return buckets, nil
}

// fillBuckets expands sparse store rows into a contiguous bucket grid. When
// the range is open on either side the observed rows bound the grid.
func fillBuckets(rows []duckdb.BucketRow, tr model.TimeRange, step time.Duration) []model.TimeBucket {
	start, end := tr.From, tr.To
	if start.IsZero() || end.IsZero() {
		if len(rows) == 0 {
			return []model.TimeBucket{}
		}
		if start.IsZero() {
			start = rows[0].Bucket
		}
		if end.IsZero() {
			end = rows[len(rows)-1].Bucket.Add(step)
		}
	}
	start = start.UTC().Truncate(step)
	end = end.UTC()

	byBucket := make(map[time.Time]duckdb.BucketRow, len(rows))
	for _, r := range rows {
		byBucket[r.Bucket] = r
	}

	out := make([]model.TimeBucket, 0, len(rows))
	for t := start; t.Before(end); t = t.Add(step) {
		b := model.TimeBucket{Timestamp: t}
		if r, ok := byBucket[t]; ok {
			b.Count = r.Counts.Total
			b.Throughput = float64(r.Counts.Total) / step.Seconds()
			b.AvgResponseTimeMS = r.Counts.AvgResponseTimeMS
			b.MinResponseTimeMS = r.Counts.MinResponseTimeMS
			b.MaxResponseTimeMS = r.Counts.MaxResponseTimeMS
			b.ErrorCount = r.Counts.ErrorCount
			b.AnomalyCount = r.Counts.AnomalyCount
		}
		out = append(out, b)
	}
	return out
}

func (a *Aggregator) key(kind string, tr model.TimeRange, granularity string) string {
	return fmt.Sprintf("%s|%s|%d|%d|%s",
		a.keyScheme, kind, tr.From.UnixNano(), tr.To.UnixNano(), granularity)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
