package services

import (
	"context"
	"testing"
	"time"

	"github.com/platformbuilds/atalaya/internal/config"
	"github.com/platformbuilds/atalaya/internal/models"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

func newRecentSearchForTest(t *testing.T) *RecentSearchService {
	t.Helper()
	svc, err := NewRecentSearchService(config.GetDefaultConfig(), logger.NewNop())
	if err != nil {
		t.Fatalf("new recent search: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func seedRecentIndex(t *testing.T, svc *RecentSearchService) time.Time {
	t.Helper()
	t0 := time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)

	entries := []*models.LogRecord{
		{ID: "a", Timestamp: t0, Level: models.LevelInfo, Source: "payments",
			Host: "web-1", Message: "payment accepted for order 1001"},
		{ID: "b", Timestamp: t0.Add(time.Minute), Level: models.LevelError, Source: "payments",
			Host: "web-1", Message: "payment gateway timeout for order 1002"},
		{ID: "c", Timestamp: t0.Add(2 * time.Minute), Level: models.LevelError, Source: "checkout",
			Host: "web-2", Message: "inventory lookup failed"},
		{ID: "d", Timestamp: t0.Add(3 * time.Minute), Level: models.LevelWarn, Source: "checkout",
			Host: "web-2", Message: "retrying inventory lookup"},
	}
	for _, rec := range entries {
		if err := svc.Index(rec); err != nil {
			t.Fatalf("index %s: %v", rec.ID, err)
		}
	}
	return t0
}

func resultIDs(resp *models.SearchResponse) []string {
	ids := make([]string, 0, len(resp.Records))
	for _, r := range resp.Records {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestRecentSearch_FullTextNewestFirst(t *testing.T) {
	svc := newRecentSearchForTest(t)
	seedRecentIndex(t, svc)

	resp, err := svc.Search(context.Background(), &models.SearchRequest{Query: "payment"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Total != 2 {
		t.Fatalf("total = %d, want 2", resp.Total)
	}
	ids := resultIDs(resp)
	if len(ids) != 2 || ids[0] != "b" || ids[1] != "a" {
		t.Fatalf("hits = %v, want [b a] newest first", ids)
	}
}

func TestRecentSearch_MatchAllWhenNoQuery(t *testing.T) {
	svc := newRecentSearchForTest(t)
	seedRecentIndex(t, svc)

	resp, err := svc.Search(context.Background(), &models.SearchRequest{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Total != 4 {
		t.Fatalf("total = %d, want all 4", resp.Total)
	}

	// facets ride along on every search
	levels, ok := resp.Aggregations["levels"]
	if !ok || len(levels.Buckets) == 0 {
		t.Fatalf("level facet missing: %+v", resp.Aggregations)
	}
	var errorCount int64
	for _, b := range levels.Buckets {
		if b.Key == "ERROR" {
			errorCount = b.Count
		}
	}
	if errorCount != 2 {
		t.Fatalf("ERROR facet = %d, want 2", errorCount)
	}
}

func TestRecentSearch_ExactPhraseMode(t *testing.T) {
	svc := newRecentSearchForTest(t)
	seedRecentIndex(t, svc)

	resp, err := svc.Search(context.Background(), &models.SearchRequest{
		Query: "inventory lookup",
		Mode:  models.SearchExactMatch,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	// "retrying inventory lookup" and "inventory lookup failed" both carry
	// the adjacent phrase
	if resp.Total != 2 {
		t.Fatalf("total = %d, want 2", resp.Total)
	}
}

func TestRecentSearch_WildcardMode(t *testing.T) {
	svc := newRecentSearchForTest(t)
	seedRecentIndex(t, svc)

	resp, err := svc.Search(context.Background(), &models.SearchRequest{
		Query: "gatew*",
		Mode:  models.SearchWildcard,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Total != 1 || resp.Records[0].ID != "b" {
		t.Fatalf("wildcard hit = %v", resultIDs(resp))
	}
}

func TestRecentSearch_LuceneFieldSyntax(t *testing.T) {
	svc := newRecentSearchForTest(t)
	seedRecentIndex(t, svc)

	resp, err := svc.Search(context.Background(), &models.SearchRequest{
		Query: "level:error AND source:payments",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Total != 1 || resp.Records[0].ID != "b" {
		t.Fatalf("lucene hit = %v, want [b]", resultIDs(resp))
	}

	resp, err = svc.Search(context.Background(), &models.SearchRequest{
		Query: "source:payments OR source:checkout",
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Total != 4 {
		t.Fatalf("disjunction total = %d, want 4", resp.Total)
	}
}

func TestRecentSearch_StructuralFilters(t *testing.T) {
	svc := newRecentSearchForTest(t)
	t0 := seedRecentIndex(t, svc)

	// levels are normalized, so lowercase input works
	resp, err := svc.Search(context.Background(), &models.SearchRequest{
		Levels: []string{"error"},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Total != 2 {
		t.Fatalf("level filter total = %d, want 2", resp.Total)
	}

	start := t0.Add(30 * time.Second)
	end := t0.Add(150 * time.Second)
	resp, err = svc.Search(context.Background(), &models.SearchRequest{
		StartTime: &start,
		EndTime:   &end,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	ids := resultIDs(resp)
	if resp.Total != 2 || ids[0] != "c" || ids[1] != "b" {
		t.Fatalf("time window hits = %v, want [c b]", ids)
	}
}

func TestRecentSearch_Pagination(t *testing.T) {
	svc := newRecentSearchForTest(t)
	seedRecentIndex(t, svc)

	resp, err := svc.Search(context.Background(), &models.SearchRequest{Page: 2, Size: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Total != 4 || len(resp.Records) != 2 {
		t.Fatalf("page 2: total=%d hits=%d", resp.Total, len(resp.Records))
	}
	ids := resultIDs(resp)
	if ids[0] != "b" || ids[1] != "a" {
		t.Fatalf("page 2 hits = %v, want [b a]", ids)
	}
}

func TestRecentSearch_FIFOEviction(t *testing.T) {
	svc := newRecentSearchForTest(t)
	svc.maxDocs = 3

	t0 := time.Now()
	for i, id := range []string{"e1", "e2", "e3", "e4", "e5"} {
		err := svc.Index(&models.LogRecord{
			ID: id, Timestamp: t0.Add(time.Duration(i) * time.Second),
			Level: models.LevelInfo, Source: "api", Message: "entry " + id,
		})
		if err != nil {
			t.Fatalf("index %s: %v", id, err)
		}
	}

	n, err := svc.DocCount()
	if err != nil {
		t.Fatalf("doc count: %v", err)
	}
	if n != 3 {
		t.Fatalf("doc count = %d, want cap 3", n)
	}

	resp, err := svc.Search(context.Background(), &models.SearchRequest{Query: "e1"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Total != 0 {
		t.Fatal("evicted document still searchable")
	}
	resp, _ = svc.Search(context.Background(), &models.SearchRequest{Query: "e5"})
	if resp.Total != 1 {
		t.Fatal("newest document missing")
	}
}

func TestRecentSearch_BatchEviction(t *testing.T) {
	svc := newRecentSearchForTest(t)
	svc.maxDocs = 3

	t0 := time.Now()
	batch := make([]*models.LogRecord, 0, 5)
	for i, id := range []string{"b1", "b2", "b3", "b4", "b5"} {
		batch = append(batch, &models.LogRecord{
			ID: id, Timestamp: t0.Add(time.Duration(i) * time.Second),
			Level: models.LevelInfo, Source: "api", Message: "entry " + id,
		})
	}
	if err := svc.IndexBatch(batch); err != nil {
		t.Fatalf("index batch: %v", err)
	}

	n, _ := svc.DocCount()
	if n != 3 {
		t.Fatalf("doc count = %d, want cap 3", n)
	}
	resp, _ := svc.Search(context.Background(), &models.SearchRequest{Query: "b2"})
	if resp.Total != 0 {
		t.Fatal("over-cap batch entry still present")
	}
}
