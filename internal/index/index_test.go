package index

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/loglens/loglens/internal/duckdb"
	"github.com/loglens/loglens/internal/model"
)

func entry(id int64, level, source, service string, ts time.Time) *model.LogEntry {
	return &model.LogEntry{ID: id, Timestamp: ts, Level: level, Source: source, Service: service}
}

func TestOnWriteAndLookup(t *testing.T) {
	ix := New()
	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	ix.OnWrite(entry(2, "ERROR", "file", "billing", ts))
	ix.OnWrite(entry(1, "INFO", "tcp", "api", ts))
	ix.OnWrite(entry(3, "ERROR", "tcp", "api", ts.Add(time.Hour)))

	if got := ix.IDs("level", "ERROR"); !reflect.DeepEqual(got, []int64{2, 3}) {
		t.Errorf("IDs(level, ERROR) = %v, want [2 3]", got)
	}
	if got := ix.IDs("service", "api"); !reflect.DeepEqual(got, []int64{1, 3}) {
		t.Errorf("IDs(service, api) = %v, want [1 3]", got)
	}
	if got := ix.IDs("time_bucket", "2026-03-01T09:00:00Z"); !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Errorf("IDs(time_bucket) = %v, want [1 2]", got)
	}
	if got := ix.Values("level"); !reflect.DeepEqual(got, []string{"ERROR", "INFO"}) {
		t.Errorf("Values(level) = %v", got)
	}
	if got := ix.Count("source", "tcp"); got != 2 {
		t.Errorf("Count(source, tcp) = %d, want 2", got)
	}
	if got := ix.IDs("level", "FATAL"); got != nil {
		t.Errorf("IDs for absent value = %v, want nil", got)
	}
}

func TestOnWriteIsIdempotentUnderReplay(t *testing.T) {
	ix := New()
	ts := time.Now()
	e := entry(1, "WARN", "file", "api", ts)

	ix.OnWrite(e)
	ix.OnWrite(e)
	ix.OnWrite(e)

	if got := ix.IDs("level", "WARN"); !reflect.DeepEqual(got, []int64{1}) {
		t.Errorf("replayed write duplicated ids: %v", got)
	}
}

func TestOnWriteReplayWithChangedValueMoves(t *testing.T) {
	ix := New()
	ts := time.Now()

	ix.OnWrite(entry(1, "INFO", "file", "api", ts))
	// A replay after normalization changed the level keeps the last write.
	ix.OnWrite(entry(1, "WARN", "file", "api", ts))

	if got := ix.IDs("level", "INFO"); got != nil {
		t.Errorf("stale value still indexed: %v", got)
	}
	if got := ix.IDs("level", "WARN"); !reflect.DeepEqual(got, []int64{1}) {
		t.Errorf("IDs(level, WARN) = %v, want [1]", got)
	}
}

func TestOnDelete(t *testing.T) {
	ix := New()
	ts := time.Now()
	ix.OnWrite(entry(1, "INFO", "file", "api", ts))
	ix.OnWrite(entry(2, "INFO", "file", "api", ts))

	ix.OnDelete([]int64{1})

	if got := ix.IDs("level", "INFO"); !reflect.DeepEqual(got, []int64{2}) {
		t.Errorf("IDs after delete = %v, want [2]", got)
	}
	ix.OnDelete([]int64{1}) // repeat is a no-op
	if got := ix.Count("level", "INFO"); got != 1 {
		t.Errorf("Count after repeated delete = %d, want 1", got)
	}
}

// fakeSource streams a fixed set of dimension values.
type fakeSource struct {
	rows map[string][]duckdb.DimensionValue
}

func (f *fakeSource) DimensionValues(_ context.Context, dim string, fn func(duckdb.DimensionValue) error) error {
	for _, dv := range f.rows[dim] {
		if err := fn(dv); err != nil {
			return err
		}
	}
	return nil
}

func TestRebuildConvergesFromPartialState(t *testing.T) {
	ix := New()
	ts := time.Now()

	// Partial, wrong state: only some writes applied, one with a stale value.
	ix.OnWrite(entry(1, "INFO", "file", "api", ts))
	ix.OnWrite(entry(9, "DEBUG", "file", "api", ts))

	src := &fakeSource{rows: map[string][]duckdb.DimensionValue{
		"level": {
			{ID: 1, Value: "ERROR"},
			{ID: 2, Value: "INFO"},
		},
	}}
	if err := ix.Rebuild(context.Background(), "level", src); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	if got := ix.IDs("level", "ERROR"); !reflect.DeepEqual(got, []int64{1}) {
		t.Errorf("IDs(level, ERROR) = %v, want [1]", got)
	}
	if got := ix.IDs("level", "INFO"); !reflect.DeepEqual(got, []int64{2}) {
		t.Errorf("IDs(level, INFO) = %v, want [2]", got)
	}
	if got := ix.IDs("level", "DEBUG"); got != nil {
		t.Errorf("stale id survived rebuild: %v", got)
	}

	// Rebuilding again from the same source changes nothing.
	if err := ix.Rebuild(context.Background(), "level", src); err != nil {
		t.Fatalf("Rebuild(2): %v", err)
	}
	if got := ix.Values("level"); !reflect.DeepEqual(got, []string{"ERROR", "INFO"}) {
		t.Errorf("Values after second rebuild = %v", got)
	}
}

func TestRebuildUnknownDimension(t *testing.T) {
	ix := New()
	if err := ix.Rebuild(context.Background(), "bogus", &fakeSource{}); err == nil {
		t.Fatal("Rebuild(bogus) should fail")
	}
}

func TestCardinalities(t *testing.T) {
	ix := New()
	ts := time.Now()
	ix.OnWrite(entry(1, "INFO", "file", "api", ts))
	ix.OnWrite(entry(2, "ERROR", "tcp", "api", ts))

	cards := ix.Cardinalities()
	if cards["level"] != 2 || cards["service"] != 1 {
		t.Errorf("Cardinalities = %v", cards)
	}
}
