package ingest

import (
	"strings"

	"github.com/loglens/loglens/internal/model"
)

// Processor turns raw ingest lines into normalized entries. It accumulates
// multi-line JSON objects so pretty-printed OTEL envelopes arriving over a
// line-oriented transport still parse as one document.
type Processor struct {
	sourceName string

	jsonBuffer   strings.Builder
	jsonDepth    int
	inJSONObject bool
}

// NewProcessor creates a processor that tags entries with the given source.
func NewProcessor(sourceName string) *Processor {
	return &Processor{sourceName: sourceName}
}

// ProcessLine parses a single log line into zero or more entries. A nil
// result with no error means the line was absorbed into a pending multi-line
// JSON object.
func (p *Processor) ProcessLine(line string) []*model.LogEntry {
	if entries, consumed := p.tryAccumulateJSON(line); consumed {
		return entries
	}
	return p.parseLine(line)
}

// ProcessEnvelope parses a source-tagged line, overriding the processor's
// default source with the envelope's.
func (p *Processor) ProcessEnvelope(env model.IngestEnvelope) []*model.LogEntry {
	entries := p.ProcessLine(env.Line)
	if env.Source != "" {
		for _, e := range entries {
			e.Source = env.Source
		}
	}
	return entries
}

func (p *Processor) parseLine(line string) []*model.LogEntry {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	entries := ParseJSONEntries(line)
	if len(entries) == 0 {
		entries = []*model.LogEntry{FallbackEntry(line)}
	}
	for _, e := range entries {
		if e.Source == "" {
			e.Source = p.sourceName
		}
	}
	return entries
}

// tryAccumulateJSON buffers lines of a multi-line JSON object until the
// braces balance, then parses the whole document. The second return is true
// when the line was consumed by accumulation.
func (p *Processor) tryAccumulateJSON(line string) ([]*model.LogEntry, bool) {
	trimmed := strings.TrimSpace(line)

	if !p.inJSONObject {
		if !strings.HasPrefix(trimmed, "{") {
			return nil, false
		}
		p.inJSONObject = true
		p.jsonBuffer.Reset()
		p.jsonDepth = 0
	}

	p.jsonBuffer.WriteString(line)
	p.jsonBuffer.WriteString("\n")
	p.jsonDepth += countJSONDepth(line)

	if p.jsonDepth > 0 {
		return nil, true
	}

	complete := strings.TrimSpace(p.jsonBuffer.String())
	p.inJSONObject = false
	p.jsonDepth = 0
	p.jsonBuffer.Reset()
	return p.parseLine(complete), true
}

// countJSONDepth counts the net change in JSON nesting depth for a line,
// ignoring braces inside string literals.
func countJSONDepth(line string) int {
	depth := 0
	inString := false
	escaped := false

	for _, char := range line {
		if escaped {
			escaped = false
			continue
		}
		switch char {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
			}
		}
	}
	return depth
}
