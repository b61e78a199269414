// Package index maintains in-memory secondary indexes over the log store.
// Indexes are derived state: they are updated write-through on every append
// and can always be recomputed from the store, so they are never persisted.
package index

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/loglens/loglens/internal/duckdb"
	"github.com/loglens/loglens/internal/lenserr"
	"github.com/loglens/loglens/internal/model"
)

// Dimensions are the indexed entry dimensions, matching the store's
// indexable column set.
var Dimensions = []string{"level", "source", "service", "time_bucket"}

// Source streams (id, value) pairs for one dimension, ordered by id.
type Source interface {
	DimensionValues(ctx context.Context, dimension string, fn func(duckdb.DimensionValue) error) error
}

// dimension maps values to ascending id sets. seen tracks which ids are
// already indexed so replayed writes converge instead of duplicating.
type dimension struct {
	values map[string][]int64
	seen   map[int64]string
}

func newDimension() *dimension {
	return &dimension{
		values: make(map[string][]int64),
		seen:   make(map[int64]string),
	}
}

// add indexes one (id, value) pair. Re-adding an id is a no-op when the value
// matches and a move when it does not, so replay converges on the last write.
func (d *dimension) add(id int64, value string) {
	if prev, ok := d.seen[id]; ok {
		if prev == value {
			return
		}
		d.remove(id, prev)
	}
	d.seen[id] = value
	ids := d.values[value]
	pos := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if pos < len(ids) && ids[pos] == id {
		return
	}
	ids = append(ids, 0)
	copy(ids[pos+1:], ids[pos:])
	ids[pos] = id
	d.values[value] = ids
}

func (d *dimension) remove(id int64, value string) {
	ids := d.values[value]
	pos := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if pos < len(ids) && ids[pos] == id {
		ids = append(ids[:pos], ids[pos+1:]...)
		if len(ids) == 0 {
			delete(d.values, value)
		} else {
			d.values[value] = ids
		}
	}
	delete(d.seen, id)
}

// Index holds the per-dimension secondary indexes.
type Index struct {
	mu   sync.RWMutex
	dims map[string]*dimension
}

// New returns an empty index covering all dimensions.
func New() *Index {
	dims := make(map[string]*dimension, len(Dimensions))
	for _, name := range Dimensions {
		dims[name] = newDimension()
	}
	return &Index{dims: dims}
}

// entryValue extracts an entry's value for one dimension. The time bucket
// formats as RFC3339 on the UTC hour, matching the store's rebuild stream.
func entryValue(e *model.LogEntry, dim string) string {
	switch dim {
	case "level":
		return e.Level
	case "source":
		return e.Source
	case "service":
		return e.Service
	case "time_bucket":
		return e.Timestamp.UTC().Truncate(time.Hour).Format(time.RFC3339)
	}
	return ""
}

// OnWrite indexes an entry across all dimensions. It runs synchronously on
// the append path before the entry is buffered for flush, so an acknowledged
// append is always visible in the indexes. Safe under replay.
func (ix *Index) OnWrite(e *model.LogEntry) {
	if e == nil || e.ID == 0 {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for name, d := range ix.dims {
		d.add(e.ID, entryValue(e, name))
	}
}

// OnDelete drops ids from every dimension after a retention sweep.
func (ix *Index) OnDelete(ids []int64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, d := range ix.dims {
		for _, id := range ids {
			if value, ok := d.seen[id]; ok {
				d.remove(id, value)
			}
		}
	}
}

// Rebuild recomputes one dimension from the store, replacing whatever the
// index held. Rebuilding converges to the same result regardless of how many
// partial OnWrite applications preceded it.
func (ix *Index) Rebuild(ctx context.Context, dim string, src Source) error {
	if _, ok := ix.dims[dim]; !ok {
		return lenserr.Validation("index.rebuild", "unknown dimension "+dim)
	}

	fresh := newDimension()
	err := src.DimensionValues(ctx, dim, func(dv duckdb.DimensionValue) error {
		fresh.add(dv.ID, dv.Value)
		return nil
	})
	if err != nil {
		return err
	}

	ix.mu.Lock()
	ix.dims[dim] = fresh
	ix.mu.Unlock()
	return nil
}

// RebuildAll recomputes every dimension, used at startup.
func (ix *Index) RebuildAll(ctx context.Context, src Source) error {
	for _, dim := range Dimensions {
		if err := ix.Rebuild(ctx, dim, src); err != nil {
			return err
		}
	}
	return nil
}

// IDs returns the ascending id set for one dimension value. The returned
// slice is a copy.
func (ix *Index) IDs(dim, value string) []int64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	d, ok := ix.dims[dim]
	if !ok {
		return nil
	}
	ids := d.values[value]
	if len(ids) == 0 {
		return nil
	}
	out := make([]int64, len(ids))
	copy(out, ids)
	return out
}

// Values returns the sorted distinct values of one dimension.
func (ix *Index) Values(dim string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	d, ok := ix.dims[dim]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(d.values))
	for v := range d.values {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Count returns how many entries carry the given dimension value.
func (ix *Index) Count(dim, value string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if d, ok := ix.dims[dim]; ok {
		return len(d.values[value])
	}
	return 0
}

// Cardinalities reports distinct-value counts per dimension for diagnostics.
func (ix *Index) Cardinalities() map[string]int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string]int, len(ix.dims))
	for name, d := range ix.dims {
		out[name] = len(d.values)
	}
	return out
}
