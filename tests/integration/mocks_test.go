package integration

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

/* -------------------------------------------------------------------------- */
/*              Fake search index (OpenSearch-compatible surface)             */
/* -------------------------------------------------------------------------- */

// fakeIndex emulates the small slice of the index API the service uses:
// existence check, index creation, _doc writes, _bulk NDJSON, _search and
// _cluster/health. Documents are stored verbatim and echoed back as hits, so
// a record indexed by the pipeline round-trips through search unchanged.
type fakeIndex struct {
	mu      sync.Mutex
	created bool
	docs    map[string]json.RawMessage
	order   []string

	server *httptest.Server
}

func newFakeIndex() *fakeIndex {
	f := &fakeIndex{docs: make(map[string]json.RawMessage)}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

func (f *fakeIndex) URL() string { return f.server.URL }
func (f *fakeIndex) Close()      { f.server.Close() }

func (f *fakeIndex) DocCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

func (f *fakeIndex) put(id string, doc json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.docs[id]; !exists {
		f.order = append(f.order, id)
	}
	f.docs[id] = doc
}

func (f *fakeIndex) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/_cluster/health":
		writeJSON(w, http.StatusOK, map[string]any{"status": "green", "number_of_nodes": 1})

	case r.Method == http.MethodHead:
		f.mu.Lock()
		created := f.created
		f.mu.Unlock()
		if created {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}

	case r.Method == http.MethodPut && !strings.Contains(r.URL.Path, "/_doc/"):
		f.mu.Lock()
		f.created = true
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})

	case r.Method == http.MethodPut && strings.Contains(r.URL.Path, "/_doc/"):
		id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		var doc json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		f.put(id, doc)
		writeJSON(w, http.StatusCreated, map[string]any{"result": "created", "_id": id})

	case r.Method == http.MethodPost && r.URL.Path == "/_bulk":
		f.handleBulk(w, r)

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/_search"):
		f.handleSearch(w, r)

	case r.Method == http.MethodDelete && strings.Contains(r.URL.Path, "/_doc/"):
		id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		f.mu.Lock()
		_, found := f.docs[id]
		delete(f.docs, id)
		f.mu.Unlock()
		if found {
			writeJSON(w, http.StatusOK, map[string]any{"result": "deleted"})
		} else {
			writeJSON(w, http.StatusNotFound, map[string]any{"result": "not_found"})
		}

	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no handler for " + r.Method + " " + r.URL.Path})
	}
}

// handleBulk consumes NDJSON action/document pairs the way the real _bulk
// endpoint does and stores every document.
func (f *fakeIndex) handleBulk(w http.ResponseWriter, r *http.Request) {
	type bulkAction struct {
		Index struct {
			ID string `json:"_id"`
		} `json:"index"`
	}

	items := make([]map[string]any, 0, 16)
	scanner := bufio.NewScanner(r.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var pendingID string
	expectDoc := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !expectDoc {
			var action bulkAction
			if err := json.Unmarshal(line, &action); err != nil || action.Index.ID == "" {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed bulk action"})
				return
			}
			pendingID = action.Index.ID
			expectDoc = true
			continue
		}
		doc := make(json.RawMessage, len(line))
		copy(doc, line)
		f.put(pendingID, doc)
		items = append(items, map[string]any{"index": map[string]any{"_id": pendingID, "status": 201}})
		expectDoc = false
	}

	writeJSON(w, http.StatusOK, map[string]any{"took": 1, "errors": false, "items": items})
}

// handleSearch returns the stored documents newest-first as hits. Only the
// size field of the query body is honored; these tests assert on transport
// and mapping, not on index-side query semantics.
func (f *fakeIndex) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Size int `json:"size"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Size <= 0 {
		body.Size = 10
	}

	f.mu.Lock()
	hits := make([]map[string]any, 0, body.Size)
	for i := len(f.order) - 1; i >= 0 && len(hits) < body.Size; i-- {
		id := f.order[i]
		hits = append(hits, map[string]any{"_id": id, "_source": f.docs[id]})
	}
	total := len(f.docs)
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"took":      1,
		"timed_out": false,
		"hits": map[string]any{
			"total": map[string]any{"value": total},
			"hits":  hits,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
