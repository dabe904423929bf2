package models

import "time"

// IngestStats is a point-in-time snapshot of the process-wide ingestion
// counters. SuccessRate is derived: (processed-failed)/processed, 1.0 when
// nothing was processed yet.
type IngestStats struct {
	TotalProcessed int64            `json:"totalProcessed"`
	TotalFailed    int64            `json:"totalFailed"`
	PerSource      map[string]int64 `json:"perSource"`
	SuccessRate    float64          `json:"successRate"`
	StartedAt      time.Time        `json:"startedAt"`
	UptimeSeconds  int64            `json:"uptimeSeconds"`
}

// HourlyBucket is one hour-of-day activity counter. Hour is 0-23; buckets
// wrap daily, so counts from consecutive days at the same hour accumulate
// until the retention window lapses.
type HourlyBucket struct {
	Hour  int   `json:"hour"`
	Count int64 `json:"count"`
}

// RealtimeStats is the aggregate view served from the real-time cache.
// Rolling totals silently reset when no writes arrive within their TTL.
type RealtimeStats struct {
	TotalCount     int64            `json:"totalCount"`
	ErrorCount     int64            `json:"errorCount"`
	WarningCount   int64            `json:"warningCount"`
	TrackedRecords int64            `json:"trackedRecords"`
	TrackedErrors  int64            `json:"trackedErrors"`
	SourceCounts   map[string]int64 `json:"sourceCounts,omitempty"`
	HourlyCounts   []HourlyBucket   `json:"hourlyCounts,omitempty"`
}

// IngestRequest is one raw line handed to the pipeline over HTTP.
type IngestRequest struct {
	Line   string `json:"line" binding:"required"`
	Source string `json:"source"`
}

// BulkIngestRequest carries a batch of raw lines sharing a default source.
type BulkIngestRequest struct {
	Source string   `json:"source"`
	Lines  []string `json:"lines" binding:"required"`
}

// IngestResponse reports what the pipeline accepted.
type IngestResponse struct {
	Accepted int          `json:"accepted"`
	Records  []*LogRecord `json:"records,omitempty"`
}
