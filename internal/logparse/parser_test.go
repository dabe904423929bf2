package logparse

import (
	"strings"
	"testing"
	"time"

	"github.com/platformbuilds/atalaya/internal/models"
)

func fixedParser(t *testing.T) (*Parser, time.Time) {
	t.Helper()
	now := time.Date(2024, 1, 25, 12, 0, 0, 0, time.UTC)
	p := NewParser()
	p.now = func() time.Time { return now }
	return p, now
}

func TestParse_JavaLog4j(t *testing.T) {
	p, _ := fixedParser(t)

	rec := p.Parse("2024-01-25 10:15:32,123 [main] ERROR com.x.Y - DB down", "app")

	if rec.OriginalFormat != models.FormatJavaLog4j {
		t.Fatalf("format = %s, want %s", rec.OriginalFormat, models.FormatJavaLog4j)
	}
	if rec.Level != models.LevelError {
		t.Errorf("level = %s, want ERROR", rec.Level)
	}
	if rec.Logger != "com.x.Y" {
		t.Errorf("logger = %q", rec.Logger)
	}
	if rec.Thread != "main" {
		t.Errorf("thread = %q", rec.Thread)
	}
	if rec.Message != "DB down" {
		t.Errorf("message = %q", rec.Message)
	}
	want := time.Date(2024, 1, 25, 10, 15, 32, 123_000_000, time.UTC)
	if !rec.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp, want)
	}
}

func TestParse_EmptyLine(t *testing.T) {
	p, now := fixedParser(t)

	rec := p.Parse("", "stdin")

	if rec.Level != models.LevelUnknown {
		t.Errorf("level = %s, want UNKNOWN", rec.Level)
	}
	if rec.Message != "" {
		t.Errorf("message = %q, want empty", rec.Message)
	}
	if !rec.Timestamp.Equal(now) {
		t.Errorf("timestamp should default to ingestion time")
	}
	if rec.ID == "" {
		t.Errorf("id must be assigned")
	}
}

func TestParse_ApacheAccess(t *testing.T) {
	p, _ := fixedParser(t)

	rec := p.Parse(`127.0.0.1 - frank [10/Oct/2000:13:55:36 -0700] "GET /apache_pb.gif HTTP/1.0" 200 2326`, "web")

	if rec.OriginalFormat != models.FormatApacheAccess {
		t.Fatalf("format = %s, want %s", rec.OriginalFormat, models.FormatApacheAccess)
	}
	if rec.HTTPMethod != "GET" || rec.HTTPURL != "/apache_pb.gif" || rec.HTTPStatus != 200 {
		t.Errorf("http fields = %s %s %d", rec.HTTPMethod, rec.HTTPURL, rec.HTTPStatus)
	}
	if rec.Level != models.LevelInfo {
		t.Errorf("level = %s, want INFO for 2xx", rec.Level)
	}
	if rec.Host != "127.0.0.1" {
		t.Errorf("host = %q", rec.Host)
	}
	if rec.Metadata["bytes"] != "2326" {
		t.Errorf("bytes metadata = %q", rec.Metadata["bytes"])
	}
	if rec.Timestamp.UTC().Hour() != 20 { // 13:55 -0700 is 20:55 UTC
		t.Errorf("timestamp parsed wrong: %v", rec.Timestamp)
	}
}

func TestParse_ApacheServerErrorIsError(t *testing.T) {
	p, _ := fixedParser(t)

	rec := p.Parse(`10.0.0.1 - - [25/Jan/2024:10:15:32 +0000] "POST /checkout HTTP/1.1" 503 199`, "web")

	if rec.Level != models.LevelError {
		t.Errorf("level = %s, want ERROR for 5xx", rec.Level)
	}
}

func TestParse_NginxAccessWithRequestTime(t *testing.T) {
	p, _ := fixedParser(t)

	rec := p.Parse(`192.168.1.10 - - [25/Jan/2024:10:15:32 +0000] "POST /api/v1/orders HTTP/1.1" 502 312 "-" "curl/8.0" 1.250`, "edge")

	if rec.OriginalFormat != models.FormatNginxAccess {
		t.Fatalf("format = %s, want %s", rec.OriginalFormat, models.FormatNginxAccess)
	}
	if rec.ResponseTimeMs == nil || *rec.ResponseTimeMs != 1250 {
		t.Errorf("responseTimeMs = %v, want 1250", rec.ResponseTimeMs)
	}
	if rec.Level != models.LevelError {
		t.Errorf("level = %s, want ERROR for 502", rec.Level)
	}
	if rec.Metadata["user_agent"] != "curl/8.0" {
		t.Errorf("user_agent = %q", rec.Metadata["user_agent"])
	}
}

func TestParse_Syslog(t *testing.T) {
	p, _ := fixedParser(t)

	rec := p.Parse("Jan 25 10:15:32 web-01 sshd[999]: ERROR authentication failure for root", "syslog")

	if rec.OriginalFormat != models.FormatSyslog {
		t.Fatalf("format = %s, want %s", rec.OriginalFormat, models.FormatSyslog)
	}
	if rec.Host != "web-01" || rec.Application != "sshd" {
		t.Errorf("host/app = %q/%q", rec.Host, rec.Application)
	}
	if rec.Level != models.LevelError {
		t.Errorf("level = %s", rec.Level)
	}
	if rec.Metadata["pid"] != "999" {
		t.Errorf("pid = %q", rec.Metadata["pid"])
	}
	if rec.Timestamp.Month() != time.January || rec.Timestamp.Day() != 25 {
		t.Errorf("timestamp = %v", rec.Timestamp)
	}
	if rec.Timestamp.Year() == 0 {
		t.Errorf("syslog year must be substituted")
	}
}

func TestParse_JSONLine(t *testing.T) {
	p, _ := fixedParser(t)

	rec := p.Parse(`{"level":"warn","message":"disk usage high","timestamp":"2024-01-25T10:15:32Z"}`, "svc")

	if rec.OriginalFormat != models.FormatJSON {
		t.Fatalf("format = %s, want %s", rec.OriginalFormat, models.FormatJSON)
	}
	if rec.Level != models.LevelWarn {
		t.Errorf("level = %s", rec.Level)
	}
	if rec.Message != "disk usage high" {
		t.Errorf("message = %q", rec.Message)
	}
	want := time.Date(2024, 1, 25, 10, 15, 32, 0, time.UTC)
	if !rec.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v", rec.Timestamp)
	}
}

func TestParse_JSONWithoutLevelLeavesItEmpty(t *testing.T) {
	p, _ := fixedParser(t)

	rec := p.Parse(`{"message":"hello"}`, "svc")

	if rec.OriginalFormat != models.FormatJSON {
		t.Fatalf("format = %s", rec.OriginalFormat)
	}
	if rec.Level != "" {
		t.Errorf("level = %q, want empty (enricher default applies later)", rec.Level)
	}
}

func TestParse_MalformedJSONFallsBack(t *testing.T) {
	p, _ := fixedParser(t)

	for _, line := range []string{
		`{"level": "error", "msg":`,
		`{not json at all}`,
		`{"unterminated": "string}`,
	} {
		rec := p.Parse(line, "svc")
		if rec.OriginalFormat != models.FormatNone {
			t.Errorf("line %q: format = %s, want none", line, rec.OriginalFormat)
		}
	}
}

func TestParse_FormatPriorityOverGeneric(t *testing.T) {
	p, _ := fixedParser(t)

	// carries the WARN keyword but is structurally an access log
	rec := p.Parse(`127.0.0.1 - - [25/Jan/2024:10:15:32 +0000] "GET /WARN HTTP/1.1" 200 12`, "web")

	if rec.OriginalFormat != models.FormatApacheAccess {
		t.Fatalf("specific format must win over generic scan, got %s", rec.OriginalFormat)
	}
	if rec.Level != models.LevelInfo {
		t.Errorf("level = %s, want INFO from status", rec.Level)
	}
}

func TestParse_GenericKeywordPriority(t *testing.T) {
	p, _ := fixedParser(t)

	tests := []struct {
		line string
		want models.LogLevel
	}{
		{"something ERROR and also WARN happened", models.LevelError},
		{"FATAL then ERROR", models.LevelFatal},
		{"just a WARN here", models.LevelWarn},
		{"warning: lowercase counts too", models.LevelWarn},
		{"an INFO note", models.LevelInfo},
		{"DEBUG trace output", models.LevelDebug},
		{"nothing to see here", models.LevelUnknown},
		{"OutOfMemoryError is not a level keyword", models.LevelUnknown},
	}
	for _, tt := range tests {
		rec := p.Parse(tt.line, "app")
		if rec.Level != tt.want {
			t.Errorf("%q: level = %s, want %s", tt.line, rec.Level, tt.want)
		}
		if rec.OriginalFormat != models.FormatNone {
			t.Errorf("%q: format = %s, want none", tt.line, rec.OriginalFormat)
		}
	}
}

func TestParse_GenericLeadingTimestamp(t *testing.T) {
	p, now := fixedParser(t)

	tests := []struct {
		line     string
		wantTime time.Time
	}{
		{"2024-01-25 10:15:32 service started", time.Date(2024, 1, 25, 10, 15, 32, 0, time.UTC)},
		{"2024-01-25T10:15:32Z single token timestamp", time.Date(2024, 1, 25, 10, 15, 32, 0, time.UTC)},
		{"no timestamp at all", now},
	}
	for _, tt := range tests {
		rec := p.Parse(tt.line, "app")
		if !rec.Timestamp.Equal(tt.wantTime) {
			t.Errorf("%q: timestamp = %v, want %v", tt.line, rec.Timestamp, tt.wantTime)
		}
	}
}

func TestParse_StackTraceSplit(t *testing.T) {
	p, _ := fixedParser(t)

	line := "java.lang.OutOfMemoryError: heap space\n\tat com.x.Y.run(Y.java:42)\n\tat java.base/java.lang.Thread.run(Thread.java:833)"
	rec := p.Parse(line, "app")

	if rec.Message != "java.lang.OutOfMemoryError: heap space" {
		t.Errorf("message = %q", rec.Message)
	}
	if !strings.Contains(rec.StackTrace, "Y.java:42") {
		t.Errorf("stack trace not captured: %q", rec.StackTrace)
	}
}

func TestParse_Totality(t *testing.T) {
	p, _ := fixedParser(t)

	inputs := []string{
		"",
		"   ",
		"\n\n\n",
		"{",
		"}",
		"[]",
		strings.Repeat("x", 64*1024),
		"\x00\x01\x02",
		"日本語のログメッセージ ERROR です",
		`{"nested":{"level":"error"}}`,
	}
	for _, in := range inputs {
		rec := p.Parse(in, "fuzz")
		if rec == nil {
			t.Fatalf("Parse returned nil for %q", in)
		}
		if rec.Timestamp.IsZero() {
			t.Errorf("zero timestamp for %q", in)
		}
		if rec.Level == "" && rec.OriginalFormat == models.FormatNone {
			t.Errorf("generic fallback must always set a level, input %q", in)
		}
	}
}

func TestParseTimestamp_Layouts(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"2024-01-25 10:15:32,123", true},
		{"2024-01-25 10:15:32.123", true},
		{"2024-01-25 10:15:32", true},
		{"2024-01-25T10:15:32.123Z", true},
		{"2024-01-25T10:15:32+05:30", true},
		{"Jan 25 10:15:32", true},
		{"25/Jan/2024:10:15:32 +0000", true},
		{"[25/Jan/2024:10:15:32 +0000]", true},
		{"not a timestamp", false},
		{"", false},
	}
	for _, tt := range tests {
		_, ok := ParseTimestamp(tt.in)
		if ok != tt.ok {
			t.Errorf("ParseTimestamp(%q) ok = %v, want %v", tt.in, ok, tt.ok)
		}
	}
}
