package search

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/platformbuilds/atalaya/internal/models"
)

// IndexResponse is the subset of the index's `_search` reply the mapper
// consumes. Aggregations stay raw until decoded per shape.
type IndexResponse struct {
	Took     int64 `json:"took"`
	TimedOut bool  `json:"timed_out"`
	Hits     struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []IndexHit `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations"`
}

type IndexHit struct {
	ID        string              `json:"_id"`
	Source    json.RawMessage     `json:"_source"`
	Highlight map[string][]string `json:"highlight"`
}

// MapResponse converts a raw index reply into the canonical SearchResponse.
// A timed-out reply maps to a partial result with TimedOut set, never an
// error.
func (t *Translator) MapResponse(req *models.SearchRequest, raw *IndexResponse) *models.SearchResponse {
	page, size := t.pageSize(req)
	out := &models.SearchResponse{
		Total:    raw.Hits.Total.Value,
		Records:  make([]*models.LogRecord, 0, len(raw.Hits.Hits)),
		Page:     page,
		Size:     size,
		TookMs:   raw.Took,
		TimedOut: raw.TimedOut,
	}

	for _, hit := range raw.Hits.Hits {
		var record models.LogRecord
		if err := json.Unmarshal(hit.Source, &record); err != nil {
			continue
		}
		if record.ID == "" {
			record.ID = hit.ID
		}
		out.Records = append(out.Records, &record)

		for field, fragments := range hit.Highlight {
			if out.Highlights == nil {
				out.Highlights = make(map[string][]string)
			}
			out.Highlights[record.ID+"."+field] = fragments
		}
	}

	if len(raw.Aggregations) > 0 {
		out.Aggregations = make(map[string]*models.AggregationResult, len(raw.Aggregations))
		for name, rawAgg := range raw.Aggregations {
			if result := decodeAggregation(rawAgg); result != nil {
				out.Aggregations[name] = result
			}
		}
	}

	return out
}

// decodeAggregation recognizes the aggregation reply by shape: bucket lists
// (terms/histograms), percentile value maps, stats envelopes, and single
// values (cardinality).
func decodeAggregation(raw json.RawMessage) *models.AggregationResult {
	var probe struct {
		Buckets []struct {
			Key         interface{} `json:"key"`
			KeyAsString string      `json:"key_as_string"`
			DocCount    int64       `json:"doc_count"`
		} `json:"buckets"`
		Values map[string]*float64 `json:"values"`
		Count  *int64              `json:"count"`
		Min    float64             `json:"min"`
		Max    float64             `json:"max"`
		Avg    float64             `json:"avg"`
		Sum    float64             `json:"sum"`
		Value  *float64            `json:"value"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil
	}

	switch {
	case probe.Buckets != nil:
		result := &models.AggregationResult{
			Buckets: make([]models.AggregationBucket, 0, len(probe.Buckets)),
		}
		for _, b := range probe.Buckets {
			key := b.KeyAsString
			if key == "" {
				key = stringifyKey(b.Key)
			}
			result.Buckets = append(result.Buckets, models.AggregationBucket{Key: key, Count: b.DocCount})
		}
		return result

	case probe.Values != nil:
		percentiles := make(map[string]float64, len(probe.Values))
		for k, v := range probe.Values {
			if v != nil {
				percentiles[k] = *v
			}
		}
		return &models.AggregationResult{Percentiles: percentiles}

	case probe.Count != nil:
		return &models.AggregationResult{Stats: &models.StatsValues{
			Count: *probe.Count,
			Min:   probe.Min,
			Max:   probe.Max,
			Avg:   probe.Avg,
			Sum:   probe.Sum,
		}}

	case probe.Value != nil:
		return &models.AggregationResult{Value: probe.Value}
	}

	return &models.AggregationResult{}
}

func stringifyKey(v interface{}) string {
	switch key := v.(type) {
	case string:
		return key
	case float64:
		if key == math.Trunc(key) {
			return strconv.FormatInt(int64(key), 10)
		}
		return strconv.FormatFloat(key, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", key)
	}
}
