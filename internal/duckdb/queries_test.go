package duckdb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/loglens/loglens/internal/lenserr"
	"github.com/loglens/loglens/internal/model"
)

// seedSequential inserts n entries one minute apart starting at base.
func seedSequential(t *testing.T, store *Store, base time.Time, n int, level string) {
	t.Helper()
	entries := make([]*LogEntry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, &LogEntry{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Level:     level,
			Message:   fmt.Sprintf("event %d", i),
			Service:   "api",
		})
	}
	insertTestEntries(t, store, entries)
}

func TestSearchOrdering(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	seedSequential(t, store, base, 5, "INFO")

	res, err := store.Search(context.Background(), SearchFilter{}, SearchPage{Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Entries) != 5 {
		t.Fatalf("Search returned %d entries, want 5", len(res.Entries))
	}
	// Most recent first, ids descending on equal timestamps.
	for i := 1; i < len(res.Entries); i++ {
		prev, cur := res.Entries[i-1], res.Entries[i]
		if cur.Timestamp.After(prev.Timestamp) {
			t.Errorf("entries out of order at %d: %v before %v", i, prev.Timestamp, cur.Timestamp)
		}
	}
	if res.Entries[0].Message != "event 4" {
		t.Errorf("first entry = %q, want most recent", res.Entries[0].Message)
	}
	if res.TotalMatched != 5 {
		t.Errorf("TotalMatched = %d, want 5", res.TotalMatched)
	}
	if res.NextCursor != "" {
		t.Errorf("NextCursor = %q, want empty on final page", res.NextCursor)
	}
}

func TestSearchTieBreakOnEqualTimestamps(t *testing.T) {
	store := newTestStore(t)
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	insertTestEntries(t, store, []*LogEntry{
		{Timestamp: ts, Level: "INFO", Message: "first"},
		{Timestamp: ts, Level: "INFO", Message: "second"},
		{Timestamp: ts, Level: "INFO", Message: "third"},
	})

	res, err := store.Search(context.Background(), SearchFilter{}, SearchPage{Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []string{"third", "second", "first"}
	for i, w := range want {
		if res.Entries[i].Message != w {
			t.Errorf("entries[%d] = %q, want %q", i, res.Entries[i].Message, w)
		}
	}
}

func TestSearchFilters(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	insertTestEntries(t, store, []*LogEntry{
		{Timestamp: base, Level: "ERROR", Message: "payment declined", Service: "billing", Source: "file"},
		{Timestamp: base.Add(time.Minute), Level: "INFO", Message: "payment accepted", Service: "billing", Source: "file"},
		{Timestamp: base.Add(2 * time.Minute), Level: "ERROR", Message: "timeout upstream", Service: "api", Source: "tcp"},
	})

	res, err := store.Search(context.Background(),
		SearchFilter{Level: "ERROR", Service: "billing"}, SearchPage{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Entries) != 1 || res.Entries[0].Message != "payment declined" {
		t.Fatalf("filtered search = %+v, want single payment declined", res.Entries)
	}

	res, err = store.Search(context.Background(), SearchFilter{Text: "PAYMENT"}, SearchPage{})
	if err != nil {
		t.Fatalf("Search text: %v", err)
	}
	if len(res.Entries) != 2 {
		t.Errorf("case-insensitive text match = %d entries, want 2", len(res.Entries))
	}

	res, err = store.Search(context.Background(), SearchFilter{
		Range: model.TimeRange{From: base.Add(time.Minute), To: base.Add(2 * time.Minute)},
	}, SearchPage{})
	if err != nil {
		t.Fatalf("Search range: %v", err)
	}
	// Half-open range: includes From, excludes To.
	if len(res.Entries) != 1 || res.Entries[0].Message != "payment accepted" {
		t.Errorf("half-open range = %+v, want payment accepted only", res.Entries)
	}
}

func TestSearchLikeMetacharactersLiteral(t *testing.T) {
	store := newTestStore(t)
	insertTestEntries(t, store, []*LogEntry{
		{Timestamp: time.Now(), Level: "INFO", Message: "progress 100% done"},
		{Timestamp: time.Now(), Level: "INFO", Message: "progress 100 done"},
	})

	res, err := store.Search(context.Background(), SearchFilter{Text: "100%"}, SearchPage{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.TotalMatched != 1 {
		t.Errorf("literal %% search matched %d, want 1", res.TotalMatched)
	}
	if len(res.Entries) != 1 || res.Entries[0].Message != "progress 100% done" {
		t.Errorf("literal %% search = %+v, want the percent message", res.Entries)
	}

	res, err = store.Search(context.Background(), SearchFilter{Text: "100_"}, SearchPage{})
	if err != nil {
		t.Fatalf("Search underscore: %v", err)
	}
	// An unescaped _ would match any character and hit both rows.
	if res.TotalMatched != 0 {
		t.Errorf("literal _ search matched %d, want 0", res.TotalMatched)
	}
}

func TestSearchCursorPaginationIsStable(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	seedSequential(t, store, base, 7, "INFO")

	res, err := store.Search(context.Background(), SearchFilter{}, SearchPage{Limit: 3})
	if err != nil {
		t.Fatalf("Search page 1: %v", err)
	}
	if len(res.Entries) != 3 || res.NextCursor == "" {
		t.Fatalf("page 1 = %d entries cursor=%q", len(res.Entries), res.NextCursor)
	}

	// Entries appended after the cursor was issued must not appear.
	seedSequential(t, store, base.Add(time.Hour), 5, "INFO")

	var all []LogEntry
	all = append(all, res.Entries...)
	cursor := res.NextCursor
	for cursor != "" {
		res, err = store.Search(context.Background(), SearchFilter{}, SearchPage{Limit: 3, Cursor: cursor})
		if err != nil {
			t.Fatalf("Search page: %v", err)
		}
		all = append(all, res.Entries...)
		cursor = res.NextCursor
	}

	if len(all) != 7 {
		t.Fatalf("paginated total = %d, want 7 (snapshot excludes later writes)", len(all))
	}
	seen := make(map[int64]bool)
	for _, e := range all {
		if seen[e.ID] {
			t.Errorf("entry %d returned twice", e.ID)
		}
		seen[e.ID] = true
	}
}

func TestSearchRejectsMalformedCursor(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Search(context.Background(), SearchFilter{}, SearchPage{Cursor: "not-a-cursor"})
	if lenserr.CodeOf(err) != lenserr.CodeValidation {
		t.Errorf("malformed cursor error = %v, want VALIDATION", err)
	}
}

func TestScanAscendingAndResumable(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	seedSequential(t, store, base, 6, "INFO")

	entries, next, err := store.Scan(context.Background(), TimeRange{}, 4, "")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(entries) != 4 || next == "" {
		t.Fatalf("Scan page 1 = %d entries cursor=%q", len(entries), next)
	}
	if entries[0].Message != "event 0" {
		t.Errorf("scan starts at %q, want oldest first", entries[0].Message)
	}

	entries2, next2, err := store.Scan(context.Background(), TimeRange{}, 4, next)
	if err != nil {
		t.Fatalf("Scan page 2: %v", err)
	}
	if len(entries2) != 2 {
		t.Errorf("Scan page 2 = %d entries, want 2", len(entries2))
	}
	if next2 != "" {
		t.Errorf("Scan final page cursor = %q, want empty", next2)
	}
	if entries2[0].ID != entries[len(entries)-1].ID+1 {
		t.Errorf("pages not contiguous: %d then %d", entries[len(entries)-1].ID, entries2[0].ID)
	}
}

func TestScanEmptyStore(t *testing.T) {
	store := newTestStore(t)

	entries, next, err := store.Scan(context.Background(), TimeRange{}, 10, "")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(entries) != 0 || next != "" {
		t.Errorf("empty scan = %d entries cursor=%q, want none", len(entries), next)
	}
}

func TestScanRejectsSearchCursor(t *testing.T) {
	store := newTestStore(t)
	seedSequential(t, store, time.Now().Add(-time.Hour), 3, "INFO")

	res, err := store.Search(context.Background(), SearchFilter{}, SearchPage{Limit: 1})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.NextCursor == "" {
		t.Fatal("expected a search cursor")
	}

	_, _, err = store.Scan(context.Background(), TimeRange{}, 10, res.NextCursor)
	if lenserr.CodeOf(err) != lenserr.CodeValidation {
		t.Errorf("scan with search cursor = %v, want VALIDATION", err)
	}
}

func TestDimensionValues(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 9, 15, 0, 0, time.UTC)
	insertTestEntries(t, store, []*LogEntry{
		{Timestamp: base, Level: "ERROR", Message: "a", Service: "api"},
		{Timestamp: base.Add(2 * time.Hour), Level: "INFO", Message: "b", Service: "worker"},
	})

	var levels []string
	err := store.DimensionValues(context.Background(), "level", func(dv DimensionValue) error {
		levels = append(levels, dv.Value)
		return nil
	})
	if err != nil {
		t.Fatalf("DimensionValues(level): %v", err)
	}
	if len(levels) != 2 || levels[0] != "ERROR" || levels[1] != "INFO" {
		t.Errorf("level values = %v", levels)
	}

	var buckets []string
	err = store.DimensionValues(context.Background(), "time_bucket", func(dv DimensionValue) error {
		buckets = append(buckets, dv.Value)
		return nil
	})
	if err != nil {
		t.Fatalf("DimensionValues(time_bucket): %v", err)
	}
	if len(buckets) != 2 || buckets[0] != "2026-03-01T09:00:00Z" {
		t.Errorf("bucket values = %v", buckets)
	}

	err = store.DimensionValues(context.Background(), "bogus", func(DimensionValue) error { return nil })
	if lenserr.CodeOf(err) != lenserr.CodeValidation {
		t.Errorf("unknown dimension = %v, want VALIDATION", err)
	}
}
