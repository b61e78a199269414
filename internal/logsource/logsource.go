package logsource

import "github.com/loglens/loglens/internal/model"

// LogSource is a unified interface for all raw log inputs (TCP, stdin).
type LogSource interface {
	Lines() <-chan model.IngestEnvelope // read-only channel of raw lines
	Stop()                              // graceful shutdown
	Name() string                       // "tcp", "stdin"
}
