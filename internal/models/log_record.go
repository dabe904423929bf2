package models

import (
	"strings"
	"time"
)

// LogLevel is the normalized severity label of a record.
type LogLevel string

const (
	LevelDebug   LogLevel = "DEBUG"
	LevelInfo    LogLevel = "INFO"
	LevelWarn    LogLevel = "WARN"
	LevelError   LogLevel = "ERROR"
	LevelFatal   LogLevel = "FATAL"
	LevelUnknown LogLevel = "UNKNOWN"
)

// Rank returns the numeric severity used for ordering and filtering.
// UNKNOWN ranks below DEBUG so unknown records never outrank classified ones.
func (l LogLevel) Rank() int {
	switch l {
	case LevelDebug:
		return 1
	case LevelInfo:
		return 2
	case LevelWarn:
		return 3
	case LevelError:
		return 4
	case LevelFatal:
		return 5
	default:
		return 0
	}
}

// IsError reports whether the level counts toward error statistics and the
// errors-only cache view.
func (l LogLevel) IsError() bool {
	return l == LevelError || l == LevelFatal
}

// NormalizeLevel maps common aliases onto the canonical label set.
func NormalizeLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE", "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR", "ERR":
		return LevelError
	case "FATAL", "CRITICAL", "SEVERE":
		return LevelFatal
	case "":
		return ""
	default:
		return LevelUnknown
	}
}

// Log formats recognized by the parser. FormatNone marks records produced by
// the generic fallback.
const (
	FormatApacheAccess = "APACHE_ACCESS"
	FormatNginxAccess  = "NGINX_ACCESS"
	FormatJavaLog4j    = "JAVA_LOG4J"
	FormatSyslog       = "SYSLOG"
	FormatJSON         = "JSON"
	FormatNone         = "none"
)

// Facet tags derived by the enricher.
const (
	TagError     = "error"
	TagException = "exception"
	TagHTTP      = "http"
)

// Sentinel defaults for provenance fields the parser could not fill.
const (
	DefaultHost        = "localhost"
	DefaultEnvironment = "unknown"
	DefaultSource      = "unknown"
)

// LogRecord is the canonical normalized log entry. It is created by the
// parser, completed by the enricher, and immutable afterwards.
type LogRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Severity  int       `json:"severity"`
	Message   string    `json:"message"`

	Source      string `json:"source,omitempty"`
	Host        string `json:"host,omitempty"`
	Application string `json:"application,omitempty"`
	Environment string `json:"environment,omitempty"`
	Logger      string `json:"logger,omitempty"`
	Thread      string `json:"thread,omitempty"`

	// Present only for records detected as HTTP access logs.
	HTTPMethod     string `json:"httpMethod,omitempty"`
	HTTPURL        string `json:"httpUrl,omitempty"`
	HTTPStatus     int    `json:"httpStatus,omitempty"`
	ResponseTimeMs *int64 `json:"responseTimeMs,omitempty"`

	StackTrace     string            `json:"stackTrace,omitempty"`
	OriginalFormat string            `json:"originalFormat"`
	Tags           []string          `json:"tags,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`

	RawLine string `json:"rawLine,omitempty"`
}

// HasTag reports whether the record carries the given facet tag.
func (r *LogRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag appends the tag unless already present.
func (r *LogRecord) AddTag(tag string) {
	if !r.HasTag(tag) {
		r.Tags = append(r.Tags, tag)
	}
}

// IsHTTP reports whether the record was format-detected as an HTTP access log.
func (r *LogRecord) IsHTTP() bool {
	return r.HTTPStatus != 0
}
