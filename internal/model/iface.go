package model

// EntryWriter provides append-oriented write operations for normalized entries.
type EntryWriter interface {
	InsertEntryBatch(entries []*LogEntry) error
}

// IngestEnvelope carries one raw log line with source metadata. It is the
// transport contract between ingestion sources and the processor.
type IngestEnvelope struct {
	Source string
	Line   string
}
