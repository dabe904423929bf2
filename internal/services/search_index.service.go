package services

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/platformbuilds/atalaya/internal/config"
	"github.com/platformbuilds/atalaya/internal/models"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

// indexMapping is applied when the target index does not exist yet. Fields the
// translator filters or sorts on are keyword/date typed; free text stays
// analyzed for FULL_TEXT and highlighting.
const indexMapping = `{
  "settings": {"number_of_shards": 1, "number_of_replicas": 1},
  "mappings": {
    "properties": {
      "timestamp":      {"type": "date"},
      "level":          {"type": "keyword"},
      "severity":       {"type": "integer"},
      "message":        {"type": "text"},
      "source":         {"type": "keyword"},
      "host":           {"type": "keyword"},
      "application":    {"type": "keyword"},
      "environment":    {"type": "keyword"},
      "logger":         {"type": "keyword"},
      "thread":         {"type": "keyword"},
      "httpMethod":     {"type": "keyword"},
      "httpUrl":        {"type": "keyword"},
      "httpStatus":     {"type": "integer"},
      "responseTimeMs": {"type": "long"},
      "stackTrace":     {"type": "text"},
      "originalFormat": {"type": "keyword"},
      "tags":           {"type": "keyword"}
    }
  }
}`

// SearchIndexService talks to an OpenSearch-compatible cluster over HTTP.
// Endpoints are rotated round-robin per request; responses may arrive
// gzip-compressed.
type SearchIndexService struct {
	endpoints []string
	indexName string
	timeout   time.Duration
	client    *http.Client
	logger    logger.Logger
	current   int
	mu        sync.Mutex

	username string
	password string
}

func NewSearchIndexService(cfg config.IndexConfig, log logger.Logger) *SearchIndexService {
	return &SearchIndexService{
		endpoints: cfg.Endpoints,
		indexName: cfg.IndexName,
		timeout:   time.Duration(cfg.Timeout) * time.Millisecond,
		client: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Millisecond,
		},
		logger:   log,
		username: cfg.Username,
		password: cfg.Password,
	}
}

func (s *SearchIndexService) selectEndpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.endpoints) == 0 {
		return ""
	}
	ep := s.endpoints[s.current%len(s.endpoints)]
	s.current++
	return strings.TrimRight(ep, "/")
}

// ReplaceEndpoints swaps the endpoint list (used by discovery).
func (s *SearchIndexService) ReplaceEndpoints(eps []string) {
	s.mu.Lock()
	s.endpoints = append([]string(nil), eps...)
	s.current = 0
	s.mu.Unlock()
	s.logger.Info("search index endpoints updated", "count", len(eps))
}

// ConfigureTLS swaps the HTTP client for one carrying the given TLS settings.
// Called at boot and again whenever the CA bundle reloads.
func (s *SearchIndexService) ConfigureTLS(tlsCfg *tls.Config) {
	client := &http.Client{
		Timeout:   s.timeout,
		Transport: &http.Transport{TLSClientConfig: tlsCfg},
	}
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
}

// httpClient returns the current client; held behind the mutex so a CA bundle
// reload mid-flight never races an in-progress request.
func (s *SearchIndexService) httpClient() *http.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// IndexName returns the target index the service writes to and queries.
func (s *SearchIndexService) IndexName() string {
	return s.indexName
}

// EnsureIndex creates the log index with its mapping when it does not exist.
func (s *SearchIndexService) EnsureIndex(ctx context.Context) error {
	base := s.selectEndpoint()
	if base == "" {
		return errors.New("no search index endpoint configured")
	}

	headReq, err := http.NewRequestWithContext(ctx, http.MethodHead, base+"/"+s.indexName, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	s.authorize(headReq)

	resp, err := s.httpClient().Do(headReq)
	if err != nil {
		return fmt.Errorf("index lookup failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		// fall through to create
	default:
		return fmt.Errorf("index lookup returned status %d", resp.StatusCode)
	}

	putReq, err := http.NewRequestWithContext(ctx, http.MethodPut, base+"/"+s.indexName, strings.NewReader(indexMapping))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	putReq.Header.Set("Content-Type", "application/json")
	s.authorize(putReq)

	resp, err = s.httpClient().Do(putReq)
	if err != nil {
		return fmt.Errorf("index create failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		if msg := readErrBody(resp.Body); msg != "" {
			// Another instance may have created it between HEAD and PUT.
			if strings.Contains(msg, "resource_already_exists_exception") {
				return nil
			}
			return fmt.Errorf("index create %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("index create returned status %d", resp.StatusCode)
	}

	s.logger.Info("search index created", "index", s.indexName)
	return nil
}

// IndexRecord writes a single record, addressed by its id so retries are
// idempotent.
func (s *SearchIndexService) IndexRecord(ctx context.Context, record *models.LogRecord) error {
	if record == nil || record.ID == "" {
		return errors.New("record with id required")
	}
	base := s.selectEndpoint()
	if base == "" {
		return errors.New("no search index endpoint configured")
	}

	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	url := fmt.Sprintf("%s/%s/_doc/%s", base, s.indexName, record.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("index write failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		if msg := readErrBody(resp.Body); msg != "" {
			return fmt.Errorf("search index %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("search index returned status %d", resp.StatusCode)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// bulkResponse is the subset of the _bulk reply needed to count item failures.
type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// BulkIndex writes a batch of records through the _bulk NDJSON endpoint.
// Transport and whole-request failures return an error; per-item rejections
// are counted and reported as one aggregate error so the caller can log and
// move on.
func (s *SearchIndexService) BulkIndex(ctx context.Context, records []*models.LogRecord) error {
	if len(records) == 0 {
		return nil
	}
	base := s.selectEndpoint()
	if base == "" {
		return errors.New("no search index endpoint configured")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if rec == nil || rec.ID == "" {
			continue
		}
		action := map[string]map[string]string{
			"index": {"_index": s.indexName, "_id": rec.ID},
		}
		if err := enc.Encode(action); err != nil {
			return fmt.Errorf("encode bulk action: %w", err)
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode bulk document: %w", err)
		}
	}
	if buf.Len() == 0 {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/_bulk", &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	req.Header.Set("Accept-Encoding", "gzip")
	s.authorize(req)

	resp, err := s.httpClient().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("bulk request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if msg := readErrBody(resp.Body); msg != "" {
			return fmt.Errorf("search index %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("search index returned status %d", resp.StatusCode)
	}

	payload, err := decodeBody(resp)
	if err != nil {
		return err
	}

	var br bulkResponse
	if err := json.Unmarshal(payload, &br); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !br.Errors {
		return nil
	}

	failed := 0
	firstReason := ""
	for _, item := range br.Items {
		for _, r := range item {
			if r.Status >= 300 {
				failed++
				if firstReason == "" && r.Error != nil {
					firstReason = r.Error.Reason
				}
			}
		}
	}
	if failed == 0 {
		return nil
	}
	if firstReason != "" {
		return fmt.Errorf("bulk index rejected %d of %d documents: %s", failed, len(records), firstReason)
	}
	return fmt.Errorf("bulk index rejected %d of %d documents", failed, len(records))
}

// Search POSTs a translated query body to _search and returns the raw JSON
// response for the translator's response mapper.
func (s *SearchIndexService) Search(ctx context.Context, body map[string]interface{}) ([]byte, error) {
	base := s.selectEndpoint()
	if base == "" {
		return nil, errors.New("no search index endpoint configured")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	url := fmt.Sprintf("%s/%s/_search", base, s.indexName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	s.authorize(req)

	resp, err := s.httpClient().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if msg := readErrBody(resp.Body); msg != "" {
			return nil, fmt.Errorf("search index %d: %s", resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("search index returned status %d", resp.StatusCode)
	}

	return decodeBody(resp)
}

// DeleteRecord removes a document by id. Missing documents are not an error.
func (s *SearchIndexService) DeleteRecord(ctx context.Context, id string) error {
	base := s.selectEndpoint()
	if base == "" {
		return errors.New("no search index endpoint configured")
	}

	url := fmt.Sprintf("%s/%s/_doc/%s", base, s.indexName, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	s.authorize(req)

	resp, err := s.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("search index returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *SearchIndexService) HealthCheck(ctx context.Context) error {
	base := s.selectEndpoint()
	if base == "" {
		return errors.New("no search index endpoint configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/_cluster/health", nil)
	if err != nil {
		return err
	}
	s.authorize(req)

	resp, err := s.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("search index health check failed: status %d", resp.StatusCode)
	}
	return nil
}

func (s *SearchIndexService) authorize(req *http.Request) {
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}
}

// readErrBody extracts a useful message from an error response, capped so a
// misbehaving server cannot balloon memory.
func readErrBody(r io.Reader) string {
	const max = 64 * 1024
	b, _ := io.ReadAll(io.LimitReader(r, max))
	s := strings.TrimSpace(string(b))
	if s == "" {
		return ""
	}
	var m map[string]any
	if json.Unmarshal(b, &m) == nil {
		if e, ok := m["error"].(map[string]any); ok {
			if msg, ok := e["reason"].(string); ok && msg != "" {
				return msg
			}
			if msg, ok := e["type"].(string); ok && msg != "" {
				return msg
			}
		}
		if msg, ok := m["error"].(string); ok && msg != "" {
			return msg
		}
		if msg, ok := m["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return s
}

// decodeBody reads a response body, transparently unwrapping gzip.
func decodeBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Encoding")), "gzip") {
		gr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gr.Close()
		reader = gr
	}
	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return payload, nil
}
