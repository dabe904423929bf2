package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platformbuilds/atalaya/internal/config"
	"github.com/platformbuilds/atalaya/internal/models"
	"github.com/platformbuilds/atalaya/internal/monitoring"
	"github.com/platformbuilds/atalaya/internal/search"
	"github.com/platformbuilds/atalaya/internal/tracing"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

// SearchService translates structural search requests, runs them against the
// external index, and maps replies back to the canonical response shape.
type SearchService struct {
	index      *SearchIndexService
	translator *search.Translator
	timeout    time.Duration
	logger     logger.Logger
}

func NewSearchService(index *SearchIndexService, cfg config.SearchConfig, log logger.Logger) *SearchService {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if cfg.Timeout <= 0 {
		timeout = time.Duration(config.DefaultSearchTimeout) * time.Second
	}
	return &SearchService{
		index:      index,
		translator: search.NewTranslator(cfg.DefaultSize, cfg.MaxPageSize),
		timeout:    timeout,
		logger:     log,
	}
}

// Search executes one structural query. The index is handed the full deadline
// and asked to return whatever hits accumulated when it expires, so a slow
// query comes back flagged timed-out instead of failing.
func (s *SearchService) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()
	mode := modeLabel(req)

	ctx, span := tracing.GetGlobalTracer().StartSearchSpan(ctx, "index", req.Query)
	defer span.End()

	body, err := s.translator.Translate(req)
	if err != nil {
		tracing.GetGlobalTracer().RecordError(span, err)
		monitoring.RecordSearchQuery(mode, "invalid", time.Since(start))
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	// Server-side timeout yields a partial reply flagged timed_out; the
	// client deadline carries headroom so that reply can still arrive.
	body["timeout"] = fmt.Sprintf("%ds", int(s.timeout.Seconds()))
	ctx, cancel := context.WithTimeout(ctx, s.timeout+2*time.Second)
	defer cancel()

	raw, err := s.index.Search(ctx, body)
	if err != nil {
		tracing.GetGlobalTracer().RecordError(span, err)
		monitoring.RecordSearchQuery(mode, "error", time.Since(start))
		return nil, fmt.Errorf("search failed: %w", err)
	}

	var reply search.IndexResponse
	if err := json.Unmarshal(raw, &reply); err != nil {
		tracing.GetGlobalTracer().RecordError(span, err)
		monitoring.RecordSearchQuery(mode, "error", time.Since(start))
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	resp := s.translator.MapResponse(req, &reply)
	status := "success"
	if resp.TimedOut {
		status = "timeout"
		s.logger.Warn("search timed out, returning partial result",
			"tookMs", resp.TookMs, "hits", len(resp.Records))
	}
	tracing.GetGlobalTracer().RecordSearchMetrics(span, time.Since(start), resp.Total, resp.TimedOut)
	monitoring.RecordSearchQuery(mode, status, time.Since(start))
	return resp, nil
}

func modeLabel(req *models.SearchRequest) string {
	if req == nil || req.Mode == "" {
		return string(models.SearchFullText)
	}
	return string(req.Mode)
}
