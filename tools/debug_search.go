//go:build ignore

// Prints the lucene AST for live-tail query strings and the index DSL
// produced by the structural translator. Run with:
//
//	go run tools/debug_search.go

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/grindlemire/go-lucene"
	"github.com/grindlemire/go-lucene/pkg/lucene/expr"

	"github.com/platformbuilds/atalaya/internal/models"
	"github.com/platformbuilds/atalaya/internal/search"
)

func printAST(e *expr.Expression, indent int) {
	indentStr := ""
	for i := 0; i < indent; i++ {
		indentStr += "  "
	}

	fmt.Printf("%sOp: %v\n", indentStr, e.Op)
	if e.Left != nil {
		fmt.Printf("%sLeft:\n", indentStr)
		if leftExpr, ok := e.Left.(*expr.Expression); ok {
			printAST(leftExpr, indent+1)
		} else {
			fmt.Printf("%s  %T: %+v\n", indentStr, e.Left, e.Left)
		}
	}
	if e.Right != nil {
		fmt.Printf("%sRight:\n", indentStr)
		if rightExpr, ok := e.Right.(*expr.Expression); ok {
			printAST(rightExpr, indent+1)
		} else {
			fmt.Printf("%s  %T: %+v\n", indentStr, e.Right, e.Right)
		}
	}
}

func main() {
	testQueries := []string{
		"level:error",
		"level:error AND source:nginx",
		"level:error OR level:fatal",
		"message:timeout",
		`level:error AND (message:"connection refused" OR message:"timeout")`,
		"application:pay*",
		"NOT level:debug",
	}

	fmt.Println("=== Lucene ASTs (live-tail query path) ===")
	for _, q := range testQueries {
		parsed, err := lucene.Parse(q)
		if err != nil {
			fmt.Printf("Error parsing '%s': %v\n", q, err)
		} else {
			fmt.Printf("Query: '%s'\n", q)
			printAST(parsed, 0)
			fmt.Println()
		}
	}

	fmt.Println("=== Translated index DSL (structural search path) ===")
	now := time.Now().UTC()
	hourAgo := now.Add(-1 * time.Hour)
	testRequests := []*models.SearchRequest{
		{Query: "connection refused", Mode: models.SearchFullText},
		{Query: "panic*", Mode: models.SearchWildcard, Levels: []string{"ERROR", "FATAL"}},
		{
			Query:     "timeout",
			StartTime: &hourAgo,
			EndTime:   &now,
			Sources:   []string{"api-gateway"},
			Aggregations: []models.AggregationRequest{
				{Name: "by_level", Type: models.AggTerms, Field: "level"},
				{Name: "over_time", Type: models.AggDateHistogram, Field: "timestamp", Interval: "5m"},
			},
		},
	}

	translator := search.NewTranslator(20, 1000)
	for _, req := range testRequests {
		body, err := translator.Translate(req)
		if err != nil {
			fmt.Printf("Error translating %+v: %v\n", req, err)
			continue
		}
		out, _ := json.MarshalIndent(body, "", "  ")
		fmt.Printf("Request query=%q mode=%q:\n%s\n\n", req.Query, req.Mode, out)
	}
}
