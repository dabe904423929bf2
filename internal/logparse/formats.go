package logparse

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	"github.com/platformbuilds/atalaya/internal/models"
)

// format couples a name with its detection pattern and field extractor. The
// registry is built once and never mutated at runtime. Extractors return
// false to reject a structurally-plausible line (malformed JSON), sending it
// to the generic fallback.
type format struct {
	name    string
	pattern *regexp.Regexp
	extract func(m []string, rest string, rec *models.LogRecord) bool
}

var (
	apacheAccessRe = regexp.MustCompile(`^(\S+) (\S+) (\S+) \[([^\]]+)\] "(\S+) ([^"]*?) (\S+)" (\d{3}) (\S+)(?: "([^"]*)" "([^"]*)")?$`)
	nginxAccessRe  = regexp.MustCompile(`^(\S+) - (\S+) \[([^\]]+)\] "(\S+) ([^"]*?) (\S+)" (\d{3}) (\d+|-) "([^"]*)" "([^"]*)" ([0-9.]+)$`)
	javaLog4jRe    = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}[,.]\d{3})\s+\[([^\]]+)\]\s+(TRACE|DEBUG|INFO|WARN|WARNING|ERROR|FATAL)\s+([\w.$]+)\s+-\s+(.*)$`)
	syslogRe       = regexp.MustCompile(`^([A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+([^\s:\[]+)(?:\[(\d+)\])?:\s?(.*)$`)
	jsonLineRe     = regexp.MustCompile(`^\{.*\}$`)
)

// newFormats returns the detection registry in priority order: HTTP access
// formats first, then application formats, then bare JSON. First structural
// match wins.
func newFormats() []format {
	return []format{
		{name: models.FormatApacheAccess, pattern: apacheAccessRe, extract: extractApache},
		{name: models.FormatNginxAccess, pattern: nginxAccessRe, extract: extractNginx},
		{name: models.FormatJavaLog4j, pattern: javaLog4jRe, extract: extractLog4j},
		{name: models.FormatSyslog, pattern: syslogRe, extract: extractSyslog},
		{name: models.FormatJSON, pattern: jsonLineRe, extract: extractJSON},
	}
}

// levelFromStatus classifies HTTP access records: 5xx server failures are
// errors, 4xx client failures are warnings.
func levelFromStatus(status int) models.LogLevel {
	switch {
	case status >= 500:
		return models.LevelError
	case status >= 400:
		return models.LevelWarn
	default:
		return models.LevelInfo
	}
}

func extractApache(m []string, _ string, rec *models.LogRecord) bool {
	rec.Host = m[1]
	if ts, ok := ParseTimestamp(m[4]); ok {
		rec.Timestamp = ts
	}
	rec.HTTPMethod = m[5]
	rec.HTTPURL = m[6]
	status, _ := strconv.Atoi(m[8])
	rec.HTTPStatus = status
	rec.Level = levelFromStatus(status)
	rec.Message = fmt.Sprintf("%s %s %d", m[5], m[6], status)
	meta := map[string]string{}
	if m[3] != "-" && m[3] != "" {
		meta["user"] = m[3]
	}
	if m[9] != "-" {
		meta["bytes"] = m[9]
	}
	if m[10] != "" && m[10] != "-" {
		meta["referer"] = m[10]
	}
	if m[11] != "" {
		meta["user_agent"] = m[11]
	}
	if len(meta) > 0 {
		rec.Metadata = meta
	}
	return true
}

func extractNginx(m []string, _ string, rec *models.LogRecord) bool {
	rec.Host = m[1]
	if ts, ok := ParseTimestamp(m[3]); ok {
		rec.Timestamp = ts
	}
	rec.HTTPMethod = m[4]
	rec.HTTPURL = m[5]
	status, _ := strconv.Atoi(m[7])
	rec.HTTPStatus = status
	rec.Level = levelFromStatus(status)
	rec.Message = fmt.Sprintf("%s %s %d", m[4], m[5], status)
	meta := map[string]string{}
	if m[2] != "-" && m[2] != "" {
		meta["user"] = m[2]
	}
	if m[8] != "-" {
		meta["bytes"] = m[8]
	}
	if m[9] != "" && m[9] != "-" {
		meta["referer"] = m[9]
	}
	if m[10] != "" {
		meta["user_agent"] = m[10]
	}
	if len(meta) > 0 {
		rec.Metadata = meta
	}
	if secs, err := strconv.ParseFloat(m[11], 64); err == nil {
		ms := int64(secs * 1000)
		rec.ResponseTimeMs = &ms
	}
	return true
}

func extractLog4j(m []string, rest string, rec *models.LogRecord) bool {
	if ts, ok := ParseTimestamp(m[1]); ok {
		rec.Timestamp = ts
	}
	rec.Thread = m[2]
	rec.Level = models.NormalizeLevel(m[3])
	rec.Logger = m[4]
	rec.Message = m[5]
	if rest != "" {
		rec.StackTrace = rest
	}
	return true
}

func extractSyslog(m []string, rest string, rec *models.LogRecord) bool {
	if ts, ok := ParseTimestamp(m[1]); ok {
		rec.Timestamp = ts
	}
	rec.Host = m[2]
	rec.Application = m[3]
	rec.Message = m[5]
	rec.Level = scanLevel(m[5])
	if m[4] != "" {
		rec.Metadata = map[string]string{"pid": m[4]}
	}
	if rest != "" {
		rec.StackTrace = rest
	}
	return true
}

// extractJSON handles single-line JSON objects with flat string fields.
// Only plain string values for level, message and timestamp are honored;
// anything else is left for the enricher's defaults.
func extractJSON(m []string, rest string, rec *models.LogRecord) bool {
	if rest != "" {
		return false
	}
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(m[0]), &obj); err != nil {
		return false
	}
	if v, ok := obj["level"].(string); ok {
		rec.Level = models.NormalizeLevel(v)
	}
	if v, ok := obj["message"].(string); ok {
		rec.Message = v
	}
	if v, ok := obj["timestamp"].(string); ok {
		if ts, parsed := ParseTimestamp(v); parsed {
			rec.Timestamp = ts
		}
	}
	return true
}
