package logparse

import (
	"regexp"
	"strings"
)

// SeverityRegex matches common severity levels in log text.
var SeverityRegex = regexp.MustCompile(`(?i)\b(TRACE|DEBUG|INFO|WARN|WARNING|ERROR|FATAL|CRITICAL|PANIC)\b`)

// NormalizeSeverity converts various severity formats to the canonical levels
// DEBUG/INFO/WARN/ERROR/FATAL. Trace-style levels fold into DEBUG; anything
// unrecognizable becomes UNKNOWN.
func NormalizeSeverity(severity string) string {
	normalized := strings.ToUpper(strings.TrimSpace(severity))

	switch normalized {
	case "TRACE", "TRAC", "TRC":
		return "DEBUG"
	case "DEBUG", "DEBU", "DBG", "DEB":
		return "DEBUG"
	case "INFO", "INFORMATION", "INF":
		return "INFO"
	case "WARN", "WARNING", "WRNG", "WRN":
		return "WARN"
	case "ERROR", "ERR", "ERRO":
		return "ERROR"
	case "FATAL", "FATL", "FTL", "CRITICAL", "CRIT", "CRT":
		return "FATAL"
	case "PANIC", "PNC":
		return "FATAL"
	case "":
		return "UNKNOWN"
	default:
		if len(normalized) >= 4 {
			switch normalized[:4] {
			case "INFO":
				return "INFO"
			case "WARN":
				return "WARN"
			case "ERRO":
				return "ERROR"
			case "DEBU", "TRAC":
				return "DEBUG"
			case "FATA", "CRIT":
				return "FATAL"
			}
		}
		return "UNKNOWN"
	}
}

// ExtractSeverityFromText extracts a severity level from log message text.
// Returns UNKNOWN when no severity token is present.
func ExtractSeverityFromText(message string) string {
	matches := SeverityRegex.FindStringSubmatch(message)
	if len(matches) > 1 {
		return NormalizeSeverity(matches[1])
	}
	return "UNKNOWN"
}

// NumericLevelToString converts pino/bunyan numeric levels to strings.
func NumericLevelToString(level int) string {
	switch {
	case level < 30:
		return "DEBUG"
	case level < 40:
		return "INFO"
	case level < 50:
		return "WARN"
	case level < 60:
		return "ERROR"
	default:
		return "FATAL"
	}
}
