package model

import "time"

// Level values for LogEntry. UNKNOWN is used when a log line carries no
// recognizable severity.
const (
	LevelDebug   = "DEBUG"
	LevelInfo    = "INFO"
	LevelWarn    = "WARN"
	LevelError   = "ERROR"
	LevelFatal   = "FATAL"
	LevelUnknown = "UNKNOWN"
)

// Levels lists all valid entry levels in ascending order of severity.
var Levels = []string{LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal}

// Severity values for Prediction.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// LogEntry is a single normalized log record. It is immutable once written:
// entries are created on ingest and removed only by the retention manager.
type LogEntry struct {
	ID             int64             `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	Level          string            `json:"level"`
	Message        string            `json:"message"`
	Source         string            `json:"source"`
	Service        string            `json:"service"`
	Hostname       string            `json:"hostname"`
	ResponseTimeMS *float64          `json:"response_time_ms,omitempty"`
	RequestID      string            `json:"request_id,omitempty"`
	SessionID      string            `json:"session_id,omitempty"`
	CorrelationID  string            `json:"correlation_id,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

// Prediction is the ML-derived annotation attached to exactly one LogEntry.
// Score and confidence fields are bounded in [0,1] and stored as DOUBLE so
// the boundary value 1.000 round-trips without overflow.
type Prediction struct {
	LogEntryID        int64     `json:"log_entry_id"`
	PredictedLevel    string    `json:"predicted_level"`
	LevelConfidence   float64   `json:"level_confidence"`
	IsAnomaly         bool      `json:"is_anomaly"`
	AnomalyScore      float64   `json:"anomaly_score"`
	AnomalyConfidence float64   `json:"anomaly_confidence"`
	Severity          string    `json:"severity"`
	ModelVersion      string    `json:"model_version"`
	PredictedAt       time.Time `json:"predicted_at"`
}

// TimeRange is a half-open [From, To) query window. A zero From or To leaves
// that side unbounded.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// IsZero reports whether both bounds are unset.
func (r TimeRange) IsZero() bool { return r.From.IsZero() && r.To.IsZero() }

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// SearchFilter holds the optional dimensions of a search query. Text performs
// a case-insensitive substring match over Message.
type SearchFilter struct {
	Level   string
	Source  string
	Service string
	Text    string
	Range   TimeRange
}

// SearchPage selects one page of search results. Cursor is opaque; an empty
// cursor starts a new scan.
type SearchPage struct {
	Cursor string
	Limit  int
}

// SearchResult is one page of ranked results. Ordering is most-recent-first
// with id as the deterministic tie-break.
type SearchResult struct {
	Entries      []LogEntry
	NextCursor   string
	TotalMatched int64
}

// ScoredEntry pairs an entry with its prediction, when one exists.
type ScoredEntry struct {
	Entry      LogEntry    `json:"entry"`
	Prediction *Prediction `json:"prediction,omitempty"`
}

// AggregateMetrics is the rollup shape served by the metrics API. Rates are
// percentages over the same window; AnomalyRatePct is computed over scored
// entries only.
type AggregateMetrics struct {
	TotalLogs         int64    `json:"total_logs"`
	AvgResponseTimeMS *float64 `json:"avg_response_time_ms"`
	ErrorRatePct      float64  `json:"error_rate_pct"`
	AnomalyRatePct    float64  `json:"anomaly_rate_pct"`
	SystemHealth      float64  `json:"system_health"`
}

// TimeBucket is one granularity-sized bucket of the metrics time series.
// Aggregate pointers are nil for buckets containing no entries.
type TimeBucket struct {
	Timestamp         time.Time `json:"timestamp"`
	Count             int64     `json:"count"`
	Throughput        float64   `json:"throughput_per_sec"`
	AvgResponseTimeMS *float64  `json:"avg_response_time_ms"`
	MinResponseTimeMS *float64  `json:"min_response_time_ms"`
	MaxResponseTimeMS *float64  `json:"max_response_time_ms"`
	ErrorCount        int64     `json:"error_count"`
	AnomalyCount      int64     `json:"anomaly_count"`
}

// Granularity values accepted by the time-series API.
const (
	GranularityMinute = "minute"
	GranularityHour   = "hour"
	GranularityDay    = "day"
)

// GranularityDuration maps a granularity name to its bucket width.
func GranularityDuration(g string) (time.Duration, bool) {
	switch g {
	case GranularityMinute:
		return time.Minute, true
	case GranularityHour:
		return time.Hour, true
	case GranularityDay:
		return 24 * time.Hour, true
	default:
		return 0, false
	}
}

// ValidLevel reports whether level is one of the five known levels.
func ValidLevel(level string) bool {
	for _, l := range Levels {
		if l == level {
			return true
		}
	}
	return false
}

// IsErrorLevel reports whether level counts toward the error rate.
func IsErrorLevel(level string) bool {
	return level == LevelError || level == LevelFatal
}
