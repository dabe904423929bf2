package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// linePattern is one synthetic log shape with a relative weight.
type linePattern struct {
	template string
	weight   int
}

// Default line mix approximates real traffic: mostly structured app logs,
// some access logs, a trickle of errors and plain text.
var defaultLinePatterns = []linePattern{
	{`{"timestamp":"%s","level":"info","message":"request served","service":"api-gateway","response_time_ms":%d}`, 35},
	{`{"timestamp":"%s","level":"error","message":"upstream call failed","service":"payments","response_time_ms":%d}`, 10},
	{`time=%s level=info msg="order processed" service=order-service duration=%dms`, 20},
	{`%s INFO  [main] c.a.OrderController - processed order in %dms`, 15},
	{`10.0.0.7 - - [%s] "GET /api/v1/items HTTP/1.1" 200 %d`, 15},
	{`worker %s finished batch in %dms`, 5},
}

type loadResult struct {
	Duration        string  `json:"duration"`
	TotalRequests   int64   `json:"total_requests"`
	SuccessRequests int64   `json:"success_requests"`
	FailedRequests  int64   `json:"failed_requests"`
	LinesSent       int64   `json:"lines_sent"`
	AvgLatency      string  `json:"avg_latency"`
	P95Latency      string  `json:"p95_latency"`
	P99Latency      string  `json:"p99_latency"`
	RPS             float64 `json:"rps"`
	Errors          int     `json:"errors"`
}

func main() {
	target := flag.String("target", "http://localhost:8080", "Base URL of the ingestion API")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	workers := flag.Int("workers", 8, "Number of concurrent senders")
	batchSize := flag.Int("batch", 100, "Lines per bulk request")
	source := flag.String("source", "loadtest", "Source tag attached to every batch")
	outputFile := flag.String("output", "loadtest-results.json", "Output file for results")

	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	url := strings.TrimRight(*target, "/") + "/api/v1/logs/bulk"
	client := &http.Client{Timeout: 30 * time.Second}

	var (
		mu        sync.Mutex
		latencies []time.Duration
		errs      []error
		total     int64
		success   int64
		lines     int64
	)

	fmt.Printf("Starting ingest load test against %s with %d workers for %v...\n", url, *workers, *duration)
	start := time.Now()

	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for ctx.Err() == nil {
				body, n := buildBatch(rng, *source, *batchSize)
				begin := time.Now()
				resp, err := client.Post(url, "application/json", bytes.NewReader(body))
				elapsed := time.Since(begin)

				mu.Lock()
				total++
				latencies = append(latencies, elapsed)
				if err != nil {
					if ctx.Err() == nil {
						errs = append(errs, err)
					}
				} else {
					if resp.StatusCode == http.StatusAccepted {
						success++
						lines += int64(n)
					} else {
						errs = append(errs, fmt.Errorf("status %d", resp.StatusCode))
					}
					resp.Body.Close()
				}
				mu.Unlock()
			}
		}(time.Now().UnixNano() + int64(w))
	}
	wg.Wait()

	elapsed := time.Since(start)
	result := summarize(elapsed, total, success, lines, latencies, errs)

	fmt.Printf("\nLoad Test Results:\n")
	fmt.Printf("================\n")
	fmt.Printf("Duration: %s\n", result.Duration)
	fmt.Printf("Total Requests: %d\n", result.TotalRequests)
	fmt.Printf("Successful Requests: %d\n", result.SuccessRequests)
	fmt.Printf("Failed Requests: %d\n", result.FailedRequests)
	fmt.Printf("Lines Sent: %d\n", result.LinesSent)
	fmt.Printf("Average Latency: %s\n", result.AvgLatency)
	fmt.Printf("95th Percentile: %s\n", result.P95Latency)
	fmt.Printf("99th Percentile: %s\n", result.P99Latency)
	fmt.Printf("RPS: %.2f\n", result.RPS)

	if len(errs) > 0 {
		fmt.Printf("Errors: %d\n", len(errs))
		for i, err := range errs {
			if i >= 5 {
				fmt.Printf("... and %d more errors\n", len(errs)-5)
				break
			}
			fmt.Printf("  - %v\n", err)
		}
	}

	if err := saveResultsToFile(result, *outputFile); err != nil {
		log.Printf("Failed to save results to file: %v", err)
	} else {
		fmt.Printf("Results saved to %s\n", *outputFile)
	}
}

// buildBatch renders a weighted random batch as a bulk ingest payload.
func buildBatch(rng *rand.Rand, source string, size int) ([]byte, int) {
	totalWeight := 0
	for _, p := range defaultLinePatterns {
		totalWeight += p.weight
	}

	out := make([]string, 0, size)
	for i := 0; i < size; i++ {
		pick := rng.Intn(totalWeight)
		for _, p := range defaultLinePatterns {
			pick -= p.weight
			if pick < 0 {
				ts := time.Now().UTC().Format(time.RFC3339)
				out = append(out, fmt.Sprintf(p.template, ts, rng.Intn(2000)))
				break
			}
		}
	}

	payload := map[string]interface{}{"source": source, "lines": out}
	body, _ := json.Marshal(payload)
	return body, len(out)
}

func summarize(elapsed time.Duration, total, success, lines int64, latencies []time.Duration, errs []error) *loadResult {
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg, p95, p99 := time.Duration(0), time.Duration(0), time.Duration(0)
	if n := len(latencies); n > 0 {
		avg = sum / time.Duration(n)
		p95 = latencies[n*95/100]
		p99 = latencies[n*99/100]
	}

	return &loadResult{
		Duration:        elapsed.String(),
		TotalRequests:   total,
		SuccessRequests: success,
		FailedRequests:  total - success,
		LinesSent:       lines,
		AvgLatency:      avg.String(),
		P95Latency:      p95.String(),
		P99Latency:      p99.String(),
		RPS:             float64(total) / elapsed.Seconds(),
		Errors:          len(errs),
	}
}

func saveResultsToFile(result *loadResult, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
