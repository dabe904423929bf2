package logparse

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platformbuilds/atalaya/internal/models"
)

// Keyword tiers for the generic fallback, checked in priority order: a line
// mentioning both WARN and ERROR classifies as ERROR.
var (
	fatalKw = regexp.MustCompile(`(?i)\bFATAL\b`)
	errorKw = regexp.MustCompile(`(?i)\bERROR\b`)
	warnKw  = regexp.MustCompile(`(?i)\bWARN(?:ING)?\b`)
	infoKw  = regexp.MustCompile(`(?i)\bINFO\b`)
	debugKw = regexp.MustCompile(`(?i)\b(?:DEBUG|TRACE)\b`)

	stackLineRe = regexp.MustCompile(`^\s+(at\s|\.{3} \d+ more|Caused by:)|^Caused by:`)
)

// Parser classifies raw lines against the format registry and produces
// canonical records. Parse is total: it always returns a record and never
// fails, falling back to heuristic extraction when nothing matches.
type Parser struct {
	formats []format
	now     func() time.Time
}

func NewParser() *Parser {
	return &Parser{
		formats: newFormats(),
		now:     time.Now,
	}
}

// Parse turns one raw line (possibly with embedded continuation lines) into a
// LogRecord. The record id and default timestamp are assigned here.
func (p *Parser) Parse(rawLine, source string) *models.LogRecord {
	rec := &models.LogRecord{
		ID:             uuid.NewString(),
		Timestamp:      p.now(),
		Source:         source,
		OriginalFormat: models.FormatNone,
		RawLine:        rawLine,
	}
	if rec.Source == "" {
		rec.Source = models.DefaultSource
	}

	trimmed := strings.TrimSpace(rawLine)
	if trimmed == "" {
		rec.Level = models.LevelUnknown
		rec.Severity = rec.Level.Rank()
		return rec
	}

	head, rest := splitContinuation(trimmed)
	for _, f := range p.formats {
		m := f.pattern.FindStringSubmatch(head)
		if m == nil {
			continue
		}
		if !f.extract(m, rest, rec) {
			continue
		}
		rec.OriginalFormat = f.name
		rec.Severity = rec.Level.Rank()
		return rec
	}

	p.parseGeneric(trimmed, rec)
	rec.Severity = rec.Level.Rank()
	return rec
}

// parseGeneric is the heuristic fallback: keyword level scan, leading-token
// timestamp, stack-trace split.
func (p *Parser) parseGeneric(raw string, rec *models.LogRecord) {
	msg, stack := splitStackTrace(raw)
	rec.Message = msg
	rec.StackTrace = stack
	rec.Level = scanLevel(raw)
	if ts, ok := leadingTimestamp(raw); ok {
		rec.Timestamp = ts
	}
}

// scanLevel finds the highest-priority level keyword anywhere in the text.
func scanLevel(s string) models.LogLevel {
	switch {
	case fatalKw.MatchString(s):
		return models.LevelFatal
	case errorKw.MatchString(s):
		return models.LevelError
	case warnKw.MatchString(s):
		return models.LevelWarn
	case infoKw.MatchString(s):
		return models.LevelInfo
	case debugKw.MatchString(s):
		return models.LevelDebug
	default:
		return models.LevelUnknown
	}
}

// splitContinuation separates the first physical line from any continuation
// lines of a multi-line payload.
func splitContinuation(s string) (head, rest string) {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimRight(s[:i], "\r"), strings.TrimSpace(s[i+1:])
	}
	return s, ""
}

// splitStackTrace keeps the first line as the message and treats the
// remainder as a stack trace when any continuation line looks like one.
func splitStackTrace(s string) (msg, stack string) {
	head, rest := splitContinuation(s)
	if rest == "" {
		return head, ""
	}
	for _, line := range strings.Split(rest, "\n") {
		if stackLineRe.MatchString(line) {
			return head, rest
		}
	}
	// multi-line but not a stack trace: keep everything as the message
	return s, ""
}
