package models

import "time"

// SearchMode controls how free query text is interpreted.
type SearchMode string

const (
	SearchFullText   SearchMode = "FULL_TEXT"
	SearchExactMatch SearchMode = "EXACT_MATCH"
	SearchWildcard   SearchMode = "WILDCARD"
	SearchRegex      SearchMode = "REGEX"
	SearchFuzzy      SearchMode = "FUZZY"
)

type AggregationType string

const (
	AggTerms         AggregationType = "TERMS"
	AggDateHistogram AggregationType = "DATE_HISTOGRAM"
	AggHistogram     AggregationType = "HISTOGRAM"
	AggStats         AggregationType = "STATS"
	AggCardinality   AggregationType = "CARDINALITY"
	AggPercentiles   AggregationType = "PERCENTILES"
)

const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

type SortField struct {
	Field string `json:"field"`
	Order string `json:"order"` // asc|desc, desc when empty
}

// AggregationRequest names one aggregation to compute over the result set.
// Interval applies to DATE_HISTOGRAM (e.g. "1h") and HISTOGRAM (numeric
// bucket width); Percents applies to PERCENTILES; Size caps TERMS buckets.
type AggregationRequest struct {
	Name     string          `json:"name"`
	Type     AggregationType `json:"type"`
	Field    string          `json:"field"`
	Interval string          `json:"interval,omitempty"`
	Width    float64         `json:"width,omitempty"`
	Percents []float64       `json:"percents,omitempty"`
	Size     int             `json:"size,omitempty"`
}

// SearchRequest is the structural search shape accepted by the API and
// translated for the external index. Page is 1-indexed.
type SearchRequest struct {
	Query string     `json:"query,omitempty"`
	Mode  SearchMode `json:"mode,omitempty"`

	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`

	Levels       []string            `json:"levels,omitempty"`
	Sources      []string            `json:"sources,omitempty"`
	Hosts        []string            `json:"hosts,omitempty"`
	Applications []string            `json:"applications,omitempty"`
	Environments []string            `json:"environments,omitempty"`
	FieldFilters map[string][]string `json:"fieldFilters,omitempty"`

	Sort []SortField `json:"sort,omitempty"`
	Page int         `json:"page,omitempty"`
	Size int         `json:"size,omitempty"`

	Highlight    bool                 `json:"highlight,omitempty"`
	Aggregations []AggregationRequest `json:"aggregations,omitempty"`
}

// AggregationBucket is one key/count pair of a bucketing aggregation.
type AggregationBucket struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// StatsValues carries the result of a STATS aggregation.
type StatsValues struct {
	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Sum   float64 `json:"sum"`
}

// AggregationResult holds whichever shape the aggregation type produces.
type AggregationResult struct {
	Buckets     []AggregationBucket `json:"buckets,omitempty"`
	Stats       *StatsValues        `json:"stats,omitempty"`
	Value       *float64            `json:"value,omitempty"`
	Percentiles map[string]float64  `json:"percentiles,omitempty"`
}

// SearchResponse is the canonical result shape handed back to callers.
// Highlights are keyed "recordId.fieldName". TimedOut marks a partial result
// returned because the index hit the query deadline.
type SearchResponse struct {
	Total        int64                         `json:"total"`
	Records      []*LogRecord                  `json:"records"`
	Aggregations map[string]*AggregationResult `json:"aggregations,omitempty"`
	Highlights   map[string][]string           `json:"highlights,omitempty"`
	Page         int                           `json:"page"`
	Size         int                           `json:"size"`
	TookMs       int64                         `json:"tookMs"`
	TimedOut     bool                          `json:"timedOut"`
}
