package search

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/platformbuilds/atalaya/internal/models"
)

// Translator converts structural SearchRequests into OpenSearch-compatible
// `_search` bodies and maps raw index responses back into the canonical
// result shape. It is pure: execution lives in the search service.
type Translator struct {
	defaultSize int
	maxSize     int
}

func NewTranslator(defaultSize, maxSize int) *Translator {
	if defaultSize <= 0 {
		defaultSize = 20
	}
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Translator{defaultSize: defaultSize, maxSize: maxSize}
}

// Translate builds the query body. The only rejected input is an unknown
// aggregation type; everything else translates.
func (t *Translator) Translate(req *models.SearchRequest) (map[string]interface{}, error) {
	page, size := t.pageSize(req)

	body := map[string]interface{}{
		"from":             (page - 1) * size,
		"size":             size,
		"query":            t.buildQuery(req),
		"sort":             buildSort(req.Sort),
		"track_total_hits": true,
	}

	if req.Highlight {
		body["highlight"] = map[string]interface{}{
			"fields": map[string]interface{}{
				"message":    map[string]interface{}{},
				"stackTrace": map[string]interface{}{},
			},
		}
	}

	if len(req.Aggregations) > 0 {
		aggs, err := buildAggregations(req.Aggregations)
		if err != nil {
			return nil, err
		}
		body["aggs"] = aggs
	}

	return body, nil
}

// pageSize applies the 1-indexed page and size defaults/caps.
func (t *Translator) pageSize(req *models.SearchRequest) (int, int) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.Size
	if size <= 0 {
		size = t.defaultSize
	}
	if size > t.maxSize {
		size = t.maxSize
	}
	return page, size
}

// buildQuery assembles the conjunctive bool query: one mode-dependent text
// clause (match_all when the text is absent) plus filters for the time range
// and each non-empty field set.
func (t *Translator) buildQuery(req *models.SearchRequest) map[string]interface{} {
	must := []interface{}{textClause(req.Query, req.Mode)}

	var filter []interface{}
	if req.StartTime != nil && req.EndTime != nil {
		filter = append(filter, map[string]interface{}{
			"range": map[string]interface{}{
				"timestamp": map[string]interface{}{
					"gte": req.StartTime.UTC().Format(time.RFC3339Nano),
					"lte": req.EndTime.UTC().Format(time.RFC3339Nano),
				},
			},
		})
	}

	filter = appendTerms(filter, "level", req.Levels)
	filter = appendTerms(filter, "source", req.Sources)
	filter = appendTerms(filter, "host", req.Hosts)
	filter = appendTerms(filter, "application", req.Applications)
	filter = appendTerms(filter, "environment", req.Environments)

	// arbitrary field filters in deterministic order
	fields := make([]string, 0, len(req.FieldFilters))
	for field := range req.FieldFilters {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		filter = appendTerms(filter, field, req.FieldFilters[field])
	}

	boolQuery := map[string]interface{}{"must": must}
	if len(filter) > 0 {
		boolQuery["filter"] = filter
	}
	return map[string]interface{}{"bool": boolQuery}
}

func textClause(text string, mode models.SearchMode) map[string]interface{} {
	text = strings.TrimSpace(text)
	if text == "" {
		return map[string]interface{}{"match_all": map[string]interface{}{}}
	}

	switch mode {
	case models.SearchExactMatch:
		return map[string]interface{}{
			"match_phrase": map[string]interface{}{"message": text},
		}
	case models.SearchWildcard:
		return map[string]interface{}{
			"wildcard": map[string]interface{}{
				"message": map[string]interface{}{"value": text},
			},
		}
	case models.SearchRegex:
		return map[string]interface{}{
			"regexp": map[string]interface{}{
				"message": map[string]interface{}{"value": text},
			},
		}
	case models.SearchFuzzy:
		return map[string]interface{}{
			"fuzzy": map[string]interface{}{
				"message": map[string]interface{}{"value": text, "fuzziness": "AUTO"},
			},
		}
	default: // FULL_TEXT
		return map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  text,
				"fields": []string{"message^3", "stackTrace^2", "logger", "source"},
			},
		}
	}
}

func appendTerms(filter []interface{}, field string, values []string) []interface{} {
	if len(values) == 0 {
		return filter
	}
	return append(filter, map[string]interface{}{
		"terms": map[string]interface{}{field: values},
	})
}

func buildSort(fields []models.SortField) []interface{} {
	if len(fields) == 0 {
		return []interface{}{
			map[string]interface{}{"timestamp": map[string]interface{}{"order": models.SortDesc}},
		}
	}
	out := make([]interface{}, 0, len(fields))
	for _, f := range fields {
		order := f.Order
		if order == "" {
			order = models.SortDesc
		}
		out = append(out, map[string]interface{}{
			f.Field: map[string]interface{}{"order": order},
		})
	}
	return out
}

func buildAggregations(reqs []models.AggregationRequest) (map[string]interface{}, error) {
	aggs := make(map[string]interface{}, len(reqs))
	for _, a := range reqs {
		if a.Name == "" || a.Field == "" {
			return nil, fmt.Errorf("aggregation needs a name and a field")
		}
		switch a.Type {
		case models.AggTerms:
			size := a.Size
			if size <= 0 {
				size = 10
			}
			aggs[a.Name] = map[string]interface{}{
				"terms": map[string]interface{}{"field": a.Field, "size": size},
			}
		case models.AggDateHistogram:
			interval := a.Interval
			if interval == "" {
				interval = "1h"
			}
			aggs[a.Name] = map[string]interface{}{
				"date_histogram": map[string]interface{}{"field": a.Field, "fixed_interval": interval},
			}
		case models.AggHistogram:
			width := a.Width
			if width <= 0 {
				width = 100
			}
			aggs[a.Name] = map[string]interface{}{
				"histogram": map[string]interface{}{"field": a.Field, "interval": width},
			}
		case models.AggStats:
			aggs[a.Name] = map[string]interface{}{
				"stats": map[string]interface{}{"field": a.Field},
			}
		case models.AggCardinality:
			aggs[a.Name] = map[string]interface{}{
				"cardinality": map[string]interface{}{"field": a.Field},
			}
		case models.AggPercentiles:
			percents := a.Percents
			if len(percents) == 0 {
				percents = []float64{50, 90, 95, 99}
			}
			aggs[a.Name] = map[string]interface{}{
				"percentiles": map[string]interface{}{"field": a.Field, "percents": percents},
			}
		default:
			return nil, fmt.Errorf("unsupported aggregation type: %s", a.Type)
		}
	}
	return aggs, nil
}
