package otlpserver

import (
	"context"
	"testing"
	"time"

	collogspb "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"

	"github.com/loglens/loglens/internal/lenserr"
	"github.com/loglens/loglens/internal/model"
)

type captureIngestor struct {
	entries []*model.LogEntry
	nextID  int64
	reject  bool
}

func (c *captureIngestor) Append(_ context.Context, e *model.LogEntry) (int64, error) {
	if c.reject {
		return 0, lenserr.Validation("ingest.append", "rejected")
	}
	c.nextID++
	c.entries = append(c.entries, e)
	return c.nextID, nil
}

func stringValue(s string) *commonpb.AnyValue {
	return &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: s}}
}

func exportRequest(records ...*logspb.LogRecord) *collogspb.ExportLogsServiceRequest {
	return &collogspb.ExportLogsServiceRequest{
		ResourceLogs: []*logspb.ResourceLogs{{
			Resource: &resourcepb.Resource{
				Attributes: []*commonpb.KeyValue{
					{Key: "service.name", Value: stringValue("checkout")},
					{Key: "host.name", Value: stringValue("web1")},
				},
			},
			ScopeLogs: []*logspb.ScopeLogs{{LogRecords: records}},
		}},
	}
}

func TestExportConvertsRecords(t *testing.T) {
	ing := &captureIngestor{}
	srv := NewServer("", ing)

	ts := time.Date(2026, 3, 1, 9, 15, 0, 0, time.UTC)
	resp, err := srv.Export(context.Background(), exportRequest(
		&logspb.LogRecord{
			TimeUnixNano: uint64(ts.UnixNano()),
			SeverityText: "ERROR",
			Body:         stringValue("payment declined"),
			Attributes:   []*commonpb.KeyValue{{Key: "request_id", Value: stringValue("r-1")}},
			TraceId:      []byte{0xde, 0xad, 0xbe, 0xef},
		},
	))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if resp.GetPartialSuccess() != nil {
		t.Fatalf("unexpected partial success: %+v", resp.PartialSuccess)
	}
	if len(ing.entries) != 1 {
		t.Fatalf("appended %d entries, want 1", len(ing.entries))
	}

	e := ing.entries[0]
	if e.Level != "ERROR" || e.Message != "payment declined" || e.Source != "otlp" {
		t.Errorf("entry = %+v", e)
	}
	if !e.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", e.Timestamp, ts)
	}
	if e.Attributes["service.name"] != "checkout" || e.Attributes["request_id"] != "r-1" {
		t.Errorf("attributes = %v", e.Attributes)
	}
	if e.Attributes["trace.id"] != "deadbeef" {
		t.Errorf("trace.id = %q", e.Attributes["trace.id"])
	}
}

func TestExportSeverityNumberFallback(t *testing.T) {
	ing := &captureIngestor{}
	srv := NewServer("", ing)

	_, err := srv.Export(context.Background(), exportRequest(
		&logspb.LogRecord{
			ObservedTimeUnixNano: uint64(time.Now().UnixNano()),
			SeverityNumber:       17,
			Body:                 stringValue("from number"),
		},
		&logspb.LogRecord{
			ObservedTimeUnixNano: uint64(time.Now().UnixNano()),
			SeverityNumber:       1,
			Body:                 stringValue("trace maps to debug"),
		},
	))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(ing.entries) != 2 {
		t.Fatalf("appended %d entries, want 2", len(ing.entries))
	}
	if ing.entries[0].Level != "ERROR" {
		t.Errorf("level = %q, want ERROR", ing.entries[0].Level)
	}
	if ing.entries[1].Level != "DEBUG" {
		t.Errorf("level = %q, want DEBUG (TRACE normalizes down)", ing.entries[1].Level)
	}
}

func TestExportPartialSuccess(t *testing.T) {
	ing := &captureIngestor{reject: true}
	srv := NewServer("", ing)

	resp, err := srv.Export(context.Background(), exportRequest(
		&logspb.LogRecord{Body: stringValue("a")},
		&logspb.LogRecord{Body: stringValue("b")},
	))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	ps := resp.GetPartialSuccess()
	if ps == nil || ps.RejectedLogRecords != 2 {
		t.Errorf("partial success = %+v, want 2 rejected", ps)
	}
}

func TestSeverityTextBands(t *testing.T) {
	cases := map[logspb.SeverityNumber]string{
		0: "", 4: "TRACE", 8: "DEBUG", 12: "INFO", 16: "WARN", 20: "ERROR", 24: "FATAL", 30: "",
	}
	for n, want := range cases {
		if got := SeverityText(n); got != want {
			t.Errorf("SeverityText(%d) = %q, want %q", n, got, want)
		}
	}
}
