package ingest

import (
	"testing"

	"github.com/loglens/loglens/internal/model"
)

func TestProcessorTagsSource(t *testing.T) {
	p := NewProcessor("tcp")

	entries := p.ProcessLine(`{"level":"info","msg":"hello"}`)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Source != "tcp" {
		t.Errorf("source = %q, want tcp", entries[0].Source)
	}
}

func TestProcessorEnvelopeSourceWins(t *testing.T) {
	p := NewProcessor("default")

	entries := p.ProcessEnvelope(model.IngestEnvelope{Source: "file:/var/log/app.log", Line: "plain line"})
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Source != "file:/var/log/app.log" {
		t.Errorf("source = %q, want envelope source", entries[0].Source)
	}
}

func TestProcessorMultiLineJSON(t *testing.T) {
	p := NewProcessor("stdin")

	lines := []string{
		`{`,
		`  "level": "error",`,
		`  "msg": "multi line failure"`,
		`}`,
	}
	var entries []*model.LogEntry
	for _, line := range lines {
		entries = append(entries, p.ProcessLine(line)...)
	}
	if len(entries) != 1 {
		t.Fatalf("accumulated %d entries, want 1", len(entries))
	}
	if entries[0].Level != "ERROR" || entries[0].Message != "multi line failure" {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestProcessorSingleLineJSONNotBuffered(t *testing.T) {
	p := NewProcessor("stdin")

	entries := p.ProcessLine(`{"level":"info","msg":"complete"}`)
	if len(entries) != 1 {
		t.Fatalf("single-line JSON returned %d entries, want 1", len(entries))
	}
}

func TestProcessorFallbackForPlainText(t *testing.T) {
	p := NewProcessor("stdin")

	entries := p.ProcessLine("WARN disk filling up")
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0].Level != "WARN" {
		t.Errorf("level = %q, want WARN", entries[0].Level)
	}
}

func TestProcessorSkipsBlankLines(t *testing.T) {
	p := NewProcessor("stdin")
	if entries := p.ProcessLine("   "); entries != nil {
		t.Errorf("blank line produced %v", entries)
	}
}

func TestCountJSONDepthIgnoresStrings(t *testing.T) {
	if d := countJSONDepth(`{"msg": "brace } in string"`); d != 1 {
		t.Errorf("depth = %d, want 1", d)
	}
	if d := countJSONDepth(`{"a": {"b": 1}}`); d != 0 {
		t.Errorf("depth = %d, want 0", d)
	}
}
