package logparse

import (
	"time"

	"github.com/platformbuilds/atalaya/internal/models"
)

// ProcessingVersion is stamped into record metadata so downstream consumers
// can tell which pipeline revision produced a record.
const ProcessingVersion = "1.0"

const (
	metaIngestionTime     = "ingestion_time"
	metaProcessingVersion = "processing_version"
)

// Enricher fills defaults and derives facet tags. Enrich is idempotent:
// fields already set are never overwritten and tags are never duplicated.
type Enricher struct {
	now func() time.Time
}

func NewEnricher() *Enricher {
	return &Enricher{now: time.Now}
}

func (e *Enricher) Enrich(rec *models.LogRecord) *models.LogRecord {
	if rec.Level == "" {
		rec.Level = models.LevelInfo
	}
	rec.Severity = rec.Level.Rank()

	if rec.Host == "" {
		rec.Host = models.DefaultHost
	}
	if rec.Environment == "" {
		rec.Environment = models.DefaultEnvironment
	}
	if rec.Source == "" {
		rec.Source = models.DefaultSource
	}

	if rec.Metadata == nil {
		rec.Metadata = make(map[string]string, 2)
	}
	if _, ok := rec.Metadata[metaIngestionTime]; !ok {
		rec.Metadata[metaIngestionTime] = e.now().UTC().Format(time.RFC3339Nano)
	}
	rec.Metadata[metaProcessingVersion] = ProcessingVersion

	if rec.Level.IsError() {
		rec.AddTag(models.TagError)
	}
	if rec.StackTrace != "" {
		rec.AddTag(models.TagException)
	}
	if rec.HTTPStatus != 0 {
		rec.AddTag(models.TagHTTP)
	}
	return rec
}
