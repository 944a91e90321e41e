// Loadtest is a concurrent HTTP load testing tool that measures throughput,
// latency percentiles, and per-target distribution through the gateway.
//
// Usage:
//
//	go run ./scripts/loadtest -url http://localhost:8080/orders -concurrency 10 -requests 1000
//	go run ./scripts/loadtest -url http://localhost:8080/orders -requests 5000 -out summary.json
//
// The summary separates circuit rejections (503) and upstream timeouts (504)
// from ordinary failures, which makes breaker trips visible in the output.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// TargetStats tracks statistics for one upstream target seen via the
// X-Upstream-Target response header.
type TargetStats struct {
	Count     int32           `json:"count"`
	Success   int32           `json:"success"`
	Failure   int32           `json:"failure"`
	Latencies []time.Duration `json:"-"`
}

func main() {
	var (
		url         = flag.String("url", "http://localhost:8080/orders", "Target URL")
		concurrency = flag.Int("concurrency", 10, "Number of concurrent workers")
		requests    = flag.Int("requests", 100, "Total number of requests to send")
		method      = flag.String("method", "POST", "HTTP method")
		body        = flag.String("body", `{"item":"book","qty":2}`, "Request body")
		contentType = flag.String("content-type", "application/json", "Content-Type header")
		timeoutSec  = flag.Int("timeout", 10, "Per-request timeout in seconds")
		outJSON     = flag.String("out", "", "Write JSON summary to this file (optional)")
		verbose     = flag.Bool("v", false, "Verbose per-request logging to stdout")
	)
	flag.Parse()

	client := &http.Client{Timeout: time.Duration(*timeoutSec) * time.Second}

	jobs := make(chan int)
	var wg sync.WaitGroup

	var total, success, failure int32
	var rejected, timedOut int32

	targetStats := make(map[string]*TargetStats)
	var targetMu sync.Mutex

	var allLatencies []time.Duration
	var latMu sync.Mutex

	statusCodes := make(map[int]int32)
	var statusMu sync.Mutex

	testStart := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for idx := range jobs {
				atomic.AddInt32(&total, 1)
				start := time.Now()

				req, err := http.NewRequest(*method, *url, bytes.NewBufferString(*body))
				if err != nil {
					atomic.AddInt32(&failure, 1)
					continue
				}
				req.Header.Set("Content-Type", *contentType)

				resp, err := client.Do(req)
				dur := time.Since(start)

				latMu.Lock()
				allLatencies = append(allLatencies, dur)
				latMu.Unlock()

				if err != nil {
					atomic.AddInt32(&failure, 1)
					if *verbose {
						fmt.Printf("[%d] idx=%d error=%v\n", workerID, idx, err)
					}
					continue
				}

				statusMu.Lock()
				statusCodes[resp.StatusCode]++
				statusMu.Unlock()

				ok := resp.StatusCode >= 200 && resp.StatusCode <= 299
				switch {
				case ok:
					atomic.AddInt32(&success, 1)
				case resp.StatusCode == http.StatusServiceUnavailable:
					atomic.AddInt32(&rejected, 1)
					atomic.AddInt32(&failure, 1)
				case resp.StatusCode == http.StatusGatewayTimeout:
					atomic.AddInt32(&timedOut, 1)
					atomic.AddInt32(&failure, 1)
				default:
					atomic.AddInt32(&failure, 1)
				}

				target := resp.Header.Get("X-Upstream-Target")
				if target == "" {
					target = "(unknown)"
				}

				targetMu.Lock()
				ts, found := targetStats[target]
				if !found {
					ts = &TargetStats{}
					targetStats[target] = ts
				}
				ts.Count++
				if ok {
					ts.Success++
				} else {
					ts.Failure++
				}
				ts.Latencies = append(ts.Latencies, dur)
				targetMu.Unlock()

				if *verbose {
					fmt.Printf("[%d] idx=%d target=%s status=%d dur=%v\n", workerID, idx, target, resp.StatusCode, dur)
				}

				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
		}(i)
	}

	go func() {
		for i := 0; i < *requests; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	wg.Wait()
	totalDuration := time.Since(testStart)
	throughput := float64(total) / totalDuration.Seconds()

	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s\n", *url)
	fmt.Printf("Requests: %d  Concurrency: %d\n", *requests, *concurrency)
	fmt.Printf("Total sent: %d  Success: %d  Failure: %d\n", total, success, failure)
	fmt.Printf("Circuit rejections (503): %d  Upstream timeouts (504): %d\n", rejected, timedOut)
	fmt.Printf("Duration: %v  Throughput: %.2f req/s\n", totalDuration, throughput)

	fmt.Println("\nStatus codes:")
	var scKeys []int
	for k := range statusCodes {
		scKeys = append(scKeys, k)
	}
	sort.Ints(scKeys)
	for _, k := range scKeys {
		fmt.Printf("  %d -> %d\n", k, statusCodes[k])
	}

	fmt.Println("\nTarget distribution & stats:")
	var targetKeys []string
	for k := range targetStats {
		targetKeys = append(targetKeys, k)
	}
	sort.Strings(targetKeys)
	for _, k := range targetKeys {
		ts := targetStats[k]
		fmt.Printf("  %s -> total=%d success=%d failure=%d\n", k, ts.Count, ts.Success, ts.Failure)
		if len(ts.Latencies) > 0 {
			p50, p90, p95, p99 := percentiles(ts.Latencies)
			fmt.Printf("    latencies: samples=%d p50=%v p90=%v p95=%v p99=%v\n",
				len(ts.Latencies), p50, p90, p95, p99)
		}
	}

	if len(allLatencies) > 0 {
		p50, p90, p95, p99 := percentiles(allLatencies)
		fmt.Println("\nOverall latencies:")
		fmt.Printf("  samples=%d p50=%v p90=%v p95=%v p99=%v\n", len(allLatencies), p50, p90, p95, p99)
	}

	if *outJSON != "" {
		writeSummary(*outJSON, map[string]interface{}{
			"target":          *url,
			"requests":        *requests,
			"concurrency":     *concurrency,
			"total_sent":      total,
			"success":         success,
			"failure":         failure,
			"rejected_503":    rejected,
			"timed_out_504":   timedOut,
			"duration_ms":     totalDuration.Milliseconds(),
			"throughput_rps":  throughput,
			"status_codes":    statusCodes,
			"target_requests": targetCounts(targetStats),
		})
	}

	if failure > 0 {
		os.Exit(2)
	}
}

func percentiles(latencies []time.Duration) (p50, p90, p95, p99 time.Duration) {
	tmp := make([]time.Duration, len(latencies))
	copy(tmp, latencies)
	sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })
	pick := func(pct float64) time.Duration {
		idx := int(float64(len(tmp)-1) * pct)
		return tmp[idx]
	}
	return pick(0.50), pick(0.90), pick(0.95), pick(0.99)
}

func targetCounts(stats map[string]*TargetStats) map[string]int32 {
	counts := make(map[string]int32, len(stats))
	for k, v := range stats {
		counts[k] = v.Count
	}
	return counts
}

func writeSummary(path string, report map[string]interface{}) {
	f, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	enc.Encode(report)
	fmt.Printf("\nWrote JSON summary to %s\n", path)
}
