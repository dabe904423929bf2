package logparse

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/platformbuilds/atalaya/internal/models"
)

func TestEnrich_Defaults(t *testing.T) {
	e := NewEnricher()
	rec := &models.LogRecord{ID: "r1", Timestamp: time.Now(), Message: "hi"}

	e.Enrich(rec)

	assert.Equal(t, models.LevelInfo, rec.Level, "empty level defaults to INFO")
	assert.Equal(t, models.DefaultHost, rec.Host)
	assert.Equal(t, models.DefaultEnvironment, rec.Environment)
	assert.Equal(t, models.DefaultSource, rec.Source)
	assert.NotEmpty(t, rec.Metadata[metaIngestionTime])
	assert.Equal(t, ProcessingVersion, rec.Metadata[metaProcessingVersion])
}

func TestEnrich_DoesNotOverwrite(t *testing.T) {
	e := NewEnricher()
	rec := &models.LogRecord{
		ID:          "r2",
		Timestamp:   time.Now(),
		Level:       models.LevelUnknown,
		Host:        "db-7",
		Environment: "prod",
		Source:      "api",
	}

	e.Enrich(rec)

	assert.Equal(t, models.LevelUnknown, rec.Level, "UNKNOWN is a set level, not an empty one")
	assert.Equal(t, "db-7", rec.Host)
	assert.Equal(t, "prod", rec.Environment)
	assert.Equal(t, "api", rec.Source)
}

func TestEnrich_Tags(t *testing.T) {
	e := NewEnricher()

	tests := []struct {
		name string
		rec  *models.LogRecord
		want []string
	}{
		{
			name: "error level",
			rec:  &models.LogRecord{Level: models.LevelFatal},
			want: []string{models.TagError},
		},
		{
			name: "stack trace",
			rec:  &models.LogRecord{Level: models.LevelInfo, StackTrace: "at x.Y"},
			want: []string{models.TagException},
		},
		{
			name: "http status",
			rec:  &models.LogRecord{Level: models.LevelInfo, HTTPStatus: 200},
			want: []string{models.TagHTTP},
		},
		{
			name: "error http with stack",
			rec:  &models.LogRecord{Level: models.LevelError, StackTrace: "at x.Y", HTTPStatus: 500},
			want: []string{models.TagError, models.TagException, models.TagHTTP},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e.Enrich(tt.rec)
			assert.Equal(t, tt.want, tt.rec.Tags)
		})
	}
}

func TestEnrich_Idempotent(t *testing.T) {
	e := NewEnricher()
	rec := &models.LogRecord{
		ID:        "r3",
		Timestamp: time.Now(),
		Level:     models.LevelError,
		Message:   "boom",
	}

	e.Enrich(rec)
	first := *rec
	firstTags := append([]string(nil), rec.Tags...)
	firstMeta := map[string]string{}
	for k, v := range rec.Metadata {
		firstMeta[k] = v
	}

	e.Enrich(rec)

	assert.Equal(t, firstTags, rec.Tags, "tags must not duplicate")
	assert.True(t, reflect.DeepEqual(firstMeta, rec.Metadata), "ingestion time must be stamped once")
	assert.Equal(t, first.Level, rec.Level)
	assert.Equal(t, first.Host, rec.Host)
}
