package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/grindlemire/go-lucene"
	"github.com/grindlemire/go-lucene/pkg/lucene/expr"

	"github.com/platformbuilds/atalaya/internal/config"
	"github.com/platformbuilds/atalaya/internal/models"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

// Fields carried into the recent index. Identity fields are keyword-mapped so
// term filters match exactly; message stays analyzed for full-text queries.
var recentKeywordFields = []string{"level", "source", "host", "application", "environment"}

// RecentSearchService serves live-tail queries from a memory-only bleve index
// over the newest records. The index is bounded: past maxDocs the oldest
// document is evicted, FIFO. Records are kept verbatim in a side map so hits
// come back complete instead of being reassembled from stored fields.
type RecentSearchService struct {
	index   bleve.Index
	logger  logger.Logger
	maxDocs int

	defaultSize int
	maxPageSize int

	mu    sync.RWMutex
	order []string
	docs  map[string]*models.LogRecord
}

func NewRecentSearchService(cfg *config.Config, log logger.Logger) (*RecentSearchService, error) {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	for _, field := range recentKeywordFields {
		doc.AddFieldMappingsAt(field, bleve.NewKeywordFieldMapping())
	}
	doc.AddFieldMappingsAt("message", bleve.NewTextFieldMapping())
	doc.AddFieldMappingsAt("logger", bleve.NewTextFieldMapping())
	doc.AddFieldMappingsAt("timestampMs", bleve.NewNumericFieldMapping())
	im.DefaultMapping = doc

	index, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("create recent index: %w", err)
	}

	maxDocs := cfg.Search.Recent.MaxDocs
	if maxDocs <= 0 {
		maxDocs = 5000
	}

	return &RecentSearchService{
		index:       index,
		logger:      log,
		maxDocs:     maxDocs,
		defaultSize: cfg.Search.DefaultSize,
		maxPageSize: cfg.Search.MaxPageSize,
		order:       make([]string, 0, maxDocs),
		docs:        make(map[string]*models.LogRecord, maxDocs),
	}, nil
}

// Index adds one record, evicting the oldest documents past the cap.
func (s *RecentSearchService) Index(record *models.LogRecord) error {
	if record == nil || record.ID == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Index(record.ID, recentDoc(record)); err != nil {
		return fmt.Errorf("index record %s: %w", record.ID, err)
	}
	s.docs[record.ID] = record
	s.order = append(s.order, record.ID)

	for len(s.order) > s.maxDocs {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.docs, oldest)
		if err := s.index.Delete(oldest); err != nil {
			s.logger.Warn("recent index eviction failed", "id", oldest, "error", err)
		}
	}
	return nil
}

// IndexBatch adds a batch of records in one underlying index batch.
func (s *RecentSearchService) IndexBatch(records []*models.LogRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.index.NewBatch()
	for _, record := range records {
		if record == nil || record.ID == "" {
			continue
		}
		if err := batch.Index(record.ID, recentDoc(record)); err != nil {
			return fmt.Errorf("batch record %s: %w", record.ID, err)
		}
	}

	evicted := 0
	pending := len(s.order) + batch.Size()
	for pending > s.maxDocs && evicted < len(s.order) {
		oldest := s.order[evicted]
		batch.Delete(oldest)
		delete(s.docs, oldest)
		evicted++
		pending--
	}

	if err := s.index.Batch(batch); err != nil {
		return fmt.Errorf("execute recent batch: %w", err)
	}

	s.order = s.order[evicted:]
	for _, record := range records {
		if record == nil || record.ID == "" {
			continue
		}
		s.docs[record.ID] = record
		s.order = append(s.order, record.ID)
	}

	// a single batch larger than the cap leaves its own oldest entries over
	for len(s.order) > s.maxDocs {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.docs, oldest)
		if err := s.index.Delete(oldest); err != nil {
			s.logger.Warn("recent index eviction failed", "id", oldest, "error", err)
		}
	}
	return nil
}

func recentDoc(record *models.LogRecord) map[string]interface{} {
	return map[string]interface{}{
		"message":     record.Message,
		"level":       string(record.Level),
		"source":      record.Source,
		"host":        record.Host,
		"application": record.Application,
		"environment": record.Environment,
		"logger":      record.Logger,
		"timestampMs": float64(record.Timestamp.UnixMilli()),
	}
}

// Search runs the structural request against the recent index. Query text
// containing a field:value pair is treated as Lucene syntax; when it fails to
// parse it falls back to the declared mode.
func (s *RecentSearchService) Search(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.Size
	if size <= 0 {
		size = s.defaultSize
	}
	if s.maxPageSize > 0 && size > s.maxPageSize {
		size = s.maxPageSize
	}

	searchReq := bleve.NewSearchRequestOptions(s.buildQuery(req), size, (page-1)*size, false)
	searchReq.SortBy([]string{"-timestampMs"})
	searchReq.AddFacet("levels", bleve.NewFacetRequest("level", 6))
	searchReq.AddFacet("sources", bleve.NewFacetRequest("source", 10))

	start := time.Now()
	result, err := s.index.SearchInContext(ctx, searchReq)
	if err != nil {
		return nil, fmt.Errorf("recent search failed: %w", err)
	}

	s.mu.RLock()
	records := make([]*models.LogRecord, 0, len(result.Hits))
	for _, hit := range result.Hits {
		if rec, ok := s.docs[hit.ID]; ok {
			records = append(records, rec)
		}
	}
	s.mu.RUnlock()

	resp := &models.SearchResponse{
		Total:   int64(result.Total),
		Records: records,
		Page:    page,
		Size:    size,
		TookMs:  time.Since(start).Milliseconds(),
	}

	if len(result.Facets) > 0 {
		resp.Aggregations = make(map[string]*models.AggregationResult, len(result.Facets))
		for name, facet := range result.Facets {
			agg := &models.AggregationResult{}
			for _, term := range facet.Terms.Terms() {
				agg.Buckets = append(agg.Buckets, models.AggregationBucket{
					Key:   term.Term,
					Count: int64(term.Count),
				})
			}
			resp.Aggregations[name] = agg
		}
	}
	return resp, nil
}

func (s *RecentSearchService) buildQuery(req *models.SearchRequest) query.Query {
	var clauses []query.Query

	if text := strings.TrimSpace(req.Query); text != "" {
		if q, ok := s.luceneQuery(text); ok {
			clauses = append(clauses, q)
		} else {
			clauses = append(clauses, modeQuery(text, req.Mode))
		}
	}

	if req.StartTime != nil && req.EndTime != nil {
		min := float64(req.StartTime.UnixMilli())
		max := float64(req.EndTime.UnixMilli())
		inclusive := true
		rq := bleve.NewNumericRangeInclusiveQuery(&min, &max, &inclusive, &inclusive)
		rq.SetField("timestampMs")
		clauses = append(clauses, rq)
	}

	clauses = appendTermsFilter(clauses, "level", normalizeLevels(req.Levels))
	clauses = appendTermsFilter(clauses, "source", req.Sources)
	clauses = appendTermsFilter(clauses, "host", req.Hosts)
	clauses = appendTermsFilter(clauses, "application", req.Applications)
	clauses = appendTermsFilter(clauses, "environment", req.Environments)

	switch len(clauses) {
	case 0:
		return bleve.NewMatchAllQuery()
	case 1:
		return clauses[0]
	default:
		return bleve.NewConjunctionQuery(clauses...)
	}
}

func modeQuery(text string, mode models.SearchMode) query.Query {
	switch mode {
	case models.SearchExactMatch:
		q := bleve.NewMatchPhraseQuery(text)
		q.SetField("message")
		return q
	case models.SearchWildcard:
		q := bleve.NewWildcardQuery(strings.ToLower(text))
		q.SetField("message")
		return q
	case models.SearchRegex:
		q := bleve.NewRegexpQuery(strings.ToLower(text))
		q.SetField("message")
		return q
	case models.SearchFuzzy:
		q := bleve.NewFuzzyQuery(strings.ToLower(text))
		q.SetField("message")
		return q
	default:
		q := bleve.NewMatchQuery(text)
		q.SetField("message")
		return q
	}
}

func appendTermsFilter(clauses []query.Query, field string, values []string) []query.Query {
	if len(values) == 0 {
		return clauses
	}
	terms := make([]query.Query, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		tq := bleve.NewTermQuery(v)
		tq.SetField(field)
		terms = append(terms, tq)
	}
	if len(terms) == 0 {
		return clauses
	}
	if len(terms) == 1 {
		return append(clauses, terms[0])
	}
	return append(clauses, bleve.NewDisjunctionQuery(terms...))
}

func normalizeLevels(levels []string) []string {
	if len(levels) == 0 {
		return nil
	}
	out := make([]string, 0, len(levels))
	for _, l := range levels {
		if n := models.NormalizeLevel(l); n != "" {
			out = append(out, string(n))
		}
	}
	return out
}

// luceneQuery recognizes Lucene-style field:value text and converts its AST
// into a bleve query. A query without a field separator, or one that fails to
// parse, reports ok=false so the caller falls back to plain mode matching.
func (s *RecentSearchService) luceneQuery(text string) (query.Query, bool) {
	if !strings.Contains(text, ":") || strings.ContainsAny(text, "{}") {
		return nil, false
	}
	parsed, err := lucene.Parse(text)
	if err != nil {
		s.logger.Debug("lucene parse failed, falling back", "query", text, "error", err)
		return nil, false
	}
	q, err := luceneToBleve(parsed)
	if err != nil {
		s.logger.Debug("lucene conversion failed, falling back", "query", text, "error", err)
		return nil, false
	}
	return q, true
}

func luceneToBleve(e *expr.Expression) (query.Query, error) {
	switch e.Op {
	case expr.And:
		left, err := luceneOperand(e.Left)
		if err != nil {
			return nil, err
		}
		right, err := luceneOperand(e.Right)
		if err != nil {
			return nil, err
		}
		return bleve.NewConjunctionQuery(left, right), nil

	case expr.Or:
		left, err := luceneOperand(e.Left)
		if err != nil {
			return nil, err
		}
		right, err := luceneOperand(e.Right)
		if err != nil {
			return nil, err
		}
		return bleve.NewDisjunctionQuery(left, right), nil

	case expr.Not:
		inner, err := luceneOperand(e.Right)
		if err != nil {
			return nil, err
		}
		bq := bleve.NewBooleanQuery()
		bq.AddMust(bleve.NewMatchAllQuery())
		bq.AddMustNot(inner)
		return bq, nil

	case expr.Equals:
		field, value, ok := luceneFieldValue(e)
		if !ok {
			return nil, fmt.Errorf("malformed field expression")
		}
		return fieldQuery(field, value), nil

	case expr.Like:
		field, pattern, ok := luceneFieldWildcard(e)
		if !ok {
			return nil, fmt.Errorf("malformed wildcard expression")
		}
		wq := bleve.NewWildcardQuery(strings.ToLower(pattern))
		wq.SetField(field)
		return wq, nil

	case expr.Literal:
		if str, ok := e.Left.(string); ok {
			q := bleve.NewMatchQuery(strings.Trim(str, `"`))
			q.SetField("message")
			return q, nil
		}
		return nil, fmt.Errorf("unsupported literal operand")

	default:
		return nil, fmt.Errorf("unsupported lucene operator: %v", e.Op)
	}
}

func luceneOperand(v interface{}) (query.Query, error) {
	sub, ok := v.(*expr.Expression)
	if !ok {
		return nil, fmt.Errorf("expected expression operand")
	}
	return luceneToBleve(sub)
}

func luceneFieldValue(e *expr.Expression) (string, string, bool) {
	var field, value string
	if leftExpr, ok := e.Left.(*expr.Expression); ok && leftExpr.Op == expr.Literal {
		if col, ok := leftExpr.Left.(expr.Column); ok {
			field = string(col)
		}
	}
	if rightExpr, ok := e.Right.(*expr.Expression); ok && rightExpr.Op == expr.Literal {
		if str, ok := rightExpr.Left.(string); ok {
			value = str
		}
	}
	return field, value, field != "" && value != ""
}

func luceneFieldWildcard(e *expr.Expression) (string, string, bool) {
	var field, pattern string
	if leftExpr, ok := e.Left.(*expr.Expression); ok && leftExpr.Op == expr.Literal {
		if col, ok := leftExpr.Left.(expr.Column); ok {
			field = string(col)
		}
	}
	if rightExpr, ok := e.Right.(*expr.Expression); ok && rightExpr.Op == expr.Wild {
		if str, ok := rightExpr.Left.(string); ok {
			pattern = str
		}
	}
	return field, pattern, field != "" && pattern != ""
}

// fieldQuery picks term matching for keyword-mapped fields and analyzed
// matching for everything else. Level values are normalized to the canonical
// labels so level:error works.
func fieldQuery(field, value string) query.Query {
	field = strings.ToLower(field)
	for _, kw := range recentKeywordFields {
		if field == kw {
			if field == "level" {
				if n := models.NormalizeLevel(value); n != "" {
					value = string(n)
				}
			}
			tq := bleve.NewTermQuery(value)
			tq.SetField(field)
			return tq
		}
	}
	mq := bleve.NewMatchQuery(strings.Trim(value, `"`))
	mq.SetField(field)
	return mq
}

// DocCount reports how many documents the index currently holds.
func (s *RecentSearchService) DocCount() (uint64, error) {
	return s.index.DocCount()
}

// HealthCheck verifies the index answers a doc count.
func (s *RecentSearchService) HealthCheck(ctx context.Context) error {
	_, err := s.index.DocCount()
	if err != nil {
		return fmt.Errorf("recent index health check failed: %w", err)
	}
	return nil
}

// Close releases the index.
func (s *RecentSearchService) Close() error {
	return s.index.Close()
}
