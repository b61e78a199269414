package ingest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/loglens/loglens/internal/logparse"
	"github.com/loglens/loglens/internal/model"
)

// ParseJSONEntries parses one JSON line into one or more LogEntries.
// It supports OTEL log data model envelopes and the bare OTEL log-record
// shape, plus flat application JSON (pino/zap style).
func ParseJSONEntries(line string) []*model.LogEntry {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil
	}

	if entries, handled := parseOTELJSONEntries(raw); handled {
		return entries
	}
	if e := parseFlatJSONEntry(raw, line); e != nil {
		return []*model.LogEntry{e}
	}
	return nil
}

// ParseJSONEntry parses a JSON log line into a single LogEntry. When an OTEL
// envelope contains multiple log records, the first entry is returned.
func ParseJSONEntry(line string) *model.LogEntry {
	entries := ParseJSONEntries(line)
	if len(entries) == 0 {
		return nil
	}
	return entries[0]
}

func parseOTELJSONEntries(raw map[string]interface{}) ([]*model.LogEntry, bool) {
	if resourceLogs, ok := raw["resourceLogs"]; ok {
		return parseOTELResourceLogs(resourceLogs), true
	}

	if scopeLogs, ok := raw["scopeLogs"]; ok {
		inherited := parseOTELResourceAttributes(raw["resource"])
		return parseOTELScopeLogs(scopeLogs, inherited), true
	}

	if logRecords, ok := raw["logRecords"]; ok {
		baseAttrs := parseOTELResourceAttributes(raw["resource"])
		return parseOTELLogRecords(logRecords, baseAttrs), true
	}

	if isOTELLogRecord(raw) {
		e := parseOTELLogRecord(raw, nil)
		if e == nil {
			return nil, true
		}
		return []*model.LogEntry{e}, true
	}

	return nil, false
}

func parseOTELResourceLogs(value interface{}) []*model.LogEntry {
	resourceLogs, ok := value.([]interface{})
	if !ok {
		return nil
	}

	var entries []*model.LogEntry
	for _, item := range resourceLogs {
		resourceLog, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		inherited := parseOTELResourceAttributes(resourceLog["resource"])
		entries = append(entries, parseOTELScopeLogs(resourceLog["scopeLogs"], inherited)...)
	}
	return entries
}

func parseOTELResourceAttributes(value interface{}) map[string]string {
	resource, ok := value.(map[string]interface{})
	if !ok {
		return map[string]string{}
	}
	return parseOTELAttributes(resource["attributes"])
}

func parseOTELScopeLogs(value interface{}, inherited map[string]string) []*model.LogEntry {
	scopeLogs, ok := value.([]interface{})
	if !ok {
		return nil
	}

	var entries []*model.LogEntry
	for _, item := range scopeLogs {
		scopeLog, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		scopeAttrs := cloneAttributes(inherited)
		mergeAttributes(scopeAttrs, parseOTELAttributes(scopeLog["attributes"]))
		if scope, ok := scopeLog["scope"].(map[string]interface{}); ok {
			if name := extractStringField(scope, "name"); name != "" {
				scopeAttrs["otel.scope.name"] = name
			}
			mergeAttributes(scopeAttrs, parseOTELAttributes(scope["attributes"]))
		}

		entries = append(entries, parseOTELLogRecords(scopeLog["logRecords"], scopeAttrs)...)
	}
	return entries
}

func parseOTELLogRecords(value interface{}, inherited map[string]string) []*model.LogEntry {
	logRecords, ok := value.([]interface{})
	if !ok {
		return nil
	}

	entries := make([]*model.LogEntry, 0, len(logRecords))
	for _, item := range logRecords {
		logRecord, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if e := parseOTELLogRecord(logRecord, inherited); e != nil {
			entries = append(entries, e)
		}
	}
	return entries
}

func parseOTELLogRecord(raw map[string]interface{}, inherited map[string]string) *model.LogEntry {
	attributes := cloneAttributes(inherited)
	mergeAttributes(attributes, parseOTELAttributes(raw["attributes"]))

	if traceID := extractStringField(raw, "traceId"); traceID != "" {
		attributes["trace.id"] = traceID
	}
	if spanID := extractStringField(raw, "spanId"); spanID != "" {
		attributes["span.id"] = spanID
	}

	message := extractOTELBody(raw["body"])
	if message == "" {
		if encoded, err := json.Marshal(raw); err == nil {
			message = string(encoded)
		}
	}
	message = sanitizeMessage(message)

	severity := extractStringField(raw, "severityText")
	if severity == "" {
		severity = SeverityFromOTELNumber(parseOTELSeverityNumber(raw["severityNumber"]))
	}
	level := logparse.NormalizeSeverity(severity)

	ts := extractOTELTimestamp(raw)
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	e := &model.LogEntry{
		Timestamp:  ts,
		Level:      level,
		Message:    message,
		Attributes: attributes,
	}
	fillDerivedFields(e)
	return e
}

// parseFlatJSONEntry handles the common application-logger shape: a flat
// object with msg/message, level (name or pino number), time/timestamp.
func parseFlatJSONEntry(raw map[string]interface{}, line string) *model.LogEntry {
	message := extractStringField(raw, "msg", "message", "log")
	if message == "" {
		return nil
	}

	level := extractStringField(raw, "level", "severity", "loglevel")
	if n, err := strconv.Atoi(level); err == nil {
		level = logparse.NumericLevelToString(n)
	}
	level = logparse.NormalizeSeverity(level)
	if level == model.LevelUnknown {
		level = logparse.ExtractSeverityFromText(line)
	}

	ts := time.Now().UTC()
	if s := extractStringField(raw, "time", "timestamp", "ts", "@timestamp"); s != "" {
		if parsed, ok := parseFlexibleTimestamp(s); ok {
			ts = parsed
		}
	}

	attributes := map[string]string{}
	for k, v := range raw {
		switch k {
		case "msg", "message", "log", "level", "severity", "loglevel",
			"time", "timestamp", "ts", "@timestamp":
			continue
		}
		if s := stringifyJSONValue(v); s != "" {
			attributes[k] = s
		}
	}

	e := &model.LogEntry{
		Timestamp:  ts,
		Level:      level,
		Message:    sanitizeMessage(message),
		Attributes: attributes,
	}
	fillDerivedFields(e)
	return e
}

// fillDerivedFields promotes well-known attributes to first-class entry
// columns. The attribute copies stay in place so nothing is lost.
func fillDerivedFields(e *model.LogEntry) {
	if e.Service == "" {
		e.Service = extractService(e.Attributes)
	}
	if e.Hostname == "" {
		e.Hostname = firstAttribute(e.Attributes, "hostname", "host", "host.name")
	}
	if e.RequestID == "" {
		e.RequestID = firstAttribute(e.Attributes, "request_id", "requestId", "req_id")
	}
	if e.SessionID == "" {
		e.SessionID = firstAttribute(e.Attributes, "session_id", "sessionId")
	}
	if e.CorrelationID == "" {
		e.CorrelationID = firstAttribute(e.Attributes, "correlation_id", "correlationId", "trace.id")
	}
	if e.ResponseTimeMS == nil {
		if s := firstAttribute(e.Attributes, "response_time_ms", "responseTime", "duration_ms"); s != "" {
			if v, err := strconv.ParseFloat(s, 64); err == nil {
				e.ResponseTimeMS = &v
			}
		}
	}
}

func extractService(attributes map[string]string) string {
	return firstAttribute(attributes, "service.name", "service", "serviceName", "app", "name")
}

func firstAttribute(attributes map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := attributes[k]; v != "" {
			return v
		}
	}
	return ""
}

func parseOTELAttributes(value interface{}) map[string]string {
	out := map[string]string{}
	attributes, ok := value.([]interface{})
	if !ok {
		return out
	}

	for _, item := range attributes {
		attr, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		key := extractStringField(attr, "key")
		if key == "" {
			continue
		}
		if val := extractOTELAnyValue(attr["value"]); val != "" {
			out[key] = val
		}
	}
	return out
}

func extractOTELBody(value interface{}) string {
	switch body := value.(type) {
	case string:
		return body
	case map[string]interface{}:
		return extractOTELAnyValue(body)
	default:
		return stringifyJSONValue(body)
	}
}

func extractOTELAnyValue(value interface{}) string {
	anyValue, ok := value.(map[string]interface{})
	if !ok {
		return stringifyJSONValue(value)
	}

	for _, key := range []string{"stringValue", "boolValue", "intValue", "doubleValue", "bytesValue"} {
		if val, ok := anyValue[key]; ok {
			return stringifyJSONValue(val)
		}
	}

	if arrayValue, ok := anyValue["arrayValue"].(map[string]interface{}); ok {
		if vals, ok := arrayValue["values"].([]interface{}); ok {
			parts := make([]string, 0, len(vals))
			for _, v := range vals {
				if part := extractOTELAnyValue(v); part != "" {
					parts = append(parts, part)
				}
			}
			return strings.Join(parts, ",")
		}
	}

	if kvListValue, ok := anyValue["kvlistValue"].(map[string]interface{}); ok {
		return stringifyJSONValue(kvListValue["values"])
	}

	return stringifyJSONValue(anyValue)
}

func extractOTELTimestamp(raw map[string]interface{}) time.Time {
	for _, key := range []string{"timeUnixNano", "observedTimeUnixNano"} {
		value, ok := raw[key]
		if !ok {
			continue
		}
		if ts, parsed := parseTimeUnixNano(value); parsed {
			return ts.UTC()
		}
	}
	return time.Time{}
}

func parseTimeUnixNano(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Unix(0, n), true
		}
	case float64:
		return time.Unix(0, int64(v)), true
	case int64:
		return time.Unix(0, v), true
	}
	return time.Time{}, false
}

// parseFlexibleTimestamp accepts RFC3339 strings and unix epoch values in
// seconds or milliseconds.
func parseFlexibleTimestamp(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		switch {
		case n > 1e17: // nanoseconds
			return time.Unix(0, n).UTC(), true
		case n > 1e14: // microseconds
			return time.UnixMicro(n).UTC(), true
		case n > 1e11: // milliseconds
			return time.UnixMilli(n).UTC(), true
		default: // seconds
			return time.Unix(n, 0).UTC(), true
		}
	}
	return time.Time{}, false
}

func parseOTELSeverityNumber(value interface{}) int {
	switch v := value.(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// SeverityFromOTELNumber maps an OTEL severity number onto its level band.
// The gRPC export path shares this mapping so both OTLP surfaces agree.
func SeverityFromOTELNumber(number int) string {
	switch {
	case number >= 1 && number <= 4:
		return "TRACE"
	case number >= 5 && number <= 8:
		return "DEBUG"
	case number >= 9 && number <= 12:
		return "INFO"
	case number >= 13 && number <= 16:
		return "WARN"
	case number >= 17 && number <= 20:
		return "ERROR"
	case number >= 21 && number <= 24:
		return "FATAL"
	default:
		return ""
	}
}

func isOTELLogRecord(raw map[string]interface{}) bool {
	for _, key := range []string{
		"timeUnixNano",
		"observedTimeUnixNano",
		"severityNumber",
		"severityText",
		"traceId",
		"spanId",
	} {
		if _, ok := raw[key]; ok {
			return true
		}
	}

	_, hasBody := raw["body"]
	_, hasAttrs := raw["attributes"]
	return hasBody && hasAttrs
}

func cloneAttributes(attributes map[string]string) map[string]string {
	out := make(map[string]string, len(attributes))
	for k, v := range attributes {
		out[k] = v
	}
	return out
}

func mergeAttributes(dst, src map[string]string) {
	for k, v := range src {
		dst[k] = v
	}
}

func stringifyJSONValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		// %v renders large epoch values in scientific notation, which the
		// timestamp parser cannot read back.
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return fmt.Sprintf("%v", v)
	default:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	}
	return ""
}

func sanitizeMessage(message string) string {
	clean := strings.ReplaceAll(message, "\t", " ")
	clean = strings.ReplaceAll(clean, "\n", " ")
	clean = strings.ReplaceAll(clean, "\r", " ")
	return strings.TrimSpace(clean)
}

func extractStringField(raw map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if s := stringifyJSONValue(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// FallbackEntry wraps an unparseable line as a plain-text entry, pulling a
// severity token out of the text when one is present.
func FallbackEntry(line string) *model.LogEntry {
	return &model.LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     logparse.ExtractSeverityFromText(line),
		Message:   sanitizeMessage(line),
	}
}
