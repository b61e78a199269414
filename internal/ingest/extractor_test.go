package ingest

import (
	"testing"
	"time"

	"github.com/loglens/loglens/internal/model"
)

func TestParseOTELEnvelope(t *testing.T) {
	line := `{"resourceLogs":[{"resource":{"attributes":[{"key":"service.name","value":{"stringValue":"checkout"}},{"key":"host","value":{"stringValue":"web3"}}]},"scopeLogs":[{"logRecords":[{"timeUnixNano":"1767260100000000000","severityText":"ERROR","body":{"stringValue":"payment gateway timeout"},"attributes":[{"key":"request_id","value":{"stringValue":"req-77"}}]}]}]}]}`

	entries := ParseJSONEntries(line)
	if len(entries) != 1 {
		t.Fatalf("ParseJSONEntries returned %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Level != "ERROR" {
		t.Errorf("level = %q, want ERROR", e.Level)
	}
	if e.Message != "payment gateway timeout" {
		t.Errorf("message = %q", e.Message)
	}
	if e.Service != "checkout" {
		t.Errorf("service = %q, want checkout (from resource attributes)", e.Service)
	}
	if e.Hostname != "web3" {
		t.Errorf("hostname = %q, want web3", e.Hostname)
	}
	if e.RequestID != "req-77" {
		t.Errorf("request_id = %q, want req-77", e.RequestID)
	}
	want := time.Unix(0, 1767260100000000000).UTC()
	if !e.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", e.Timestamp, want)
	}
}

func TestParseOTELEnvelopeMultipleRecords(t *testing.T) {
	line := `{"resourceLogs":[{"scopeLogs":[{"logRecords":[{"severityText":"INFO","body":{"stringValue":"first"}},{"severityText":"WARN","body":{"stringValue":"second"}}]}]}]}`

	entries := ParseJSONEntries(line)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Message != "first" || entries[1].Message != "second" {
		t.Errorf("messages = %q, %q", entries[0].Message, entries[1].Message)
	}
}

func TestParseBareOTELLogRecord(t *testing.T) {
	line := `{"severityNumber":17,"body":{"stringValue":"upstream refused"},"attributes":[{"key":"service","value":{"stringValue":"gateway"}}]}`

	e := ParseJSONEntry(line)
	if e == nil {
		t.Fatal("ParseJSONEntry returned nil")
	}
	if e.Level != "ERROR" {
		t.Errorf("level from severityNumber 17 = %q, want ERROR", e.Level)
	}
	if e.Service != "gateway" {
		t.Errorf("service = %q, want gateway", e.Service)
	}
}

func TestParseFlatPinoLine(t *testing.T) {
	line := `{"level":50,"time":1767260100123,"msg":"db connection lost","service":"orders","response_time_ms":184.5,"session_id":"sess-9"}`

	e := ParseJSONEntry(line)
	if e == nil {
		t.Fatal("ParseJSONEntry returned nil")
	}
	if e.Level != "ERROR" {
		t.Errorf("pino level 50 = %q, want ERROR", e.Level)
	}
	if e.Message != "db connection lost" {
		t.Errorf("message = %q", e.Message)
	}
	if e.Service != "orders" {
		t.Errorf("service = %q, want orders", e.Service)
	}
	if e.SessionID != "sess-9" {
		t.Errorf("session_id = %q, want sess-9", e.SessionID)
	}
	if e.ResponseTimeMS == nil || *e.ResponseTimeMS != 184.5 {
		t.Errorf("response_time_ms = %v, want 184.5", e.ResponseTimeMS)
	}
	want := time.UnixMilli(1767260100123).UTC()
	if !e.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", e.Timestamp, want)
	}
}

func TestParseFlatLineRFC3339Timestamp(t *testing.T) {
	line := `{"level":"warn","timestamp":"2026-03-01T09:30:00Z","message":"queue depth rising"}`

	e := ParseJSONEntry(line)
	if e == nil {
		t.Fatal("ParseJSONEntry returned nil")
	}
	if e.Level != "WARN" {
		t.Errorf("level = %q, want WARN", e.Level)
	}
	want := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	if !e.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", e.Timestamp, want)
	}
}

func TestParseNonJSONReturnsNil(t *testing.T) {
	if entries := ParseJSONEntries("plain text line"); entries != nil {
		t.Errorf("non-JSON line parsed as %v", entries)
	}
}

func TestFallbackEntry(t *testing.T) {
	e := FallbackEntry("2026-03-01 ERROR something broke\n")
	if e.Level != "ERROR" {
		t.Errorf("level = %q, want ERROR extracted from text", e.Level)
	}
	if e.Message != "2026-03-01 ERROR something broke" {
		t.Errorf("message = %q", e.Message)
	}
	if e.Timestamp.IsZero() {
		t.Error("fallback entry has zero timestamp")
	}

	e = FallbackEntry("no severity token here")
	if e.Level != model.LevelUnknown {
		t.Errorf("level = %q, want %q", e.Level, model.LevelUnknown)
	}
}

func TestSanitizeMessageFlattensWhitespace(t *testing.T) {
	e := FallbackEntry("line one\nline\ttwo\r")
	if e.Message != "line one line two" {
		t.Errorf("message = %q", e.Message)
	}
}
