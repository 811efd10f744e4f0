package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for the scraping engine.
// This is intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	crawlJobsTotal  = make(map[string]int64)
	pagesTotal      = make(map[string]int64)
	cacheOpsTotal   = make(map[cacheKey]int64)
	cacheCleanedTot int64
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type cacheKey struct {
	Op      string
	Outcome string
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordCrawlJob increments the counter for a job reaching a status
// (done, error, skipped).
func RecordCrawlJob(status string) {
	mu.Lock()
	defer mu.Unlock()
	crawlJobsTotal[status]++
}

// RecordPage counts one rendered page by outcome: "ok", "render_failed",
// or "unparseable".
func RecordPage(outcome string) {
	mu.Lock()
	defer mu.Unlock()
	pagesTotal[outcome]++
}

// RecordCacheOp counts a cache operation ("load", "store", ...) by
// outcome ("hit", "miss", "ok", "error").
func RecordCacheOp(op, outcome string) {
	mu.Lock()
	defer mu.Unlock()
	cacheOpsTotal[cacheKey{Op: op, Outcome: outcome}]++
}

// RecordCacheCleaned adds to the count of expired file-tier entries
// removed by sweeps.
func RecordCacheCleaned(n int) {
	if n <= 0 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	cacheCleanedTot += int64(n)
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP trawler_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE trawler_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		v := requestsTotal[k]
		fmt.Fprintf(&b, "trawler_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, v)
	}

	b.WriteString("# HELP trawler_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE trawler_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP trawler_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE trawler_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		fmt.Fprintf(&b, "trawler_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsSum[k])
		fmt.Fprintf(&b, "trawler_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsCount[k])
	}

	b.WriteString("# HELP trawler_crawl_jobs_total Total crawl jobs by terminal status\n")
	b.WriteString("# TYPE trawler_crawl_jobs_total counter\n")

	var statuses []string
	for s := range crawlJobsTotal {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Fprintf(&b, "trawler_crawl_jobs_total{status=\"%s\"} %d\n", s, crawlJobsTotal[s])
	}

	b.WriteString("# HELP trawler_pages_total Total pages rendered by outcome\n")
	b.WriteString("# TYPE trawler_pages_total counter\n")

	var outcomes []string
	for o := range pagesTotal {
		outcomes = append(outcomes, o)
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Fprintf(&b, "trawler_pages_total{outcome=\"%s\"} %d\n", o, pagesTotal[o])
	}

	b.WriteString("# HELP trawler_cache_ops_total Total cache operations by op and outcome\n")
	b.WriteString("# TYPE trawler_cache_ops_total counter\n")

	var cacheKeys []cacheKey
	for k := range cacheOpsTotal {
		cacheKeys = append(cacheKeys, k)
	}
	sort.Slice(cacheKeys, func(i, j int) bool {
		if cacheKeys[i].Op != cacheKeys[j].Op {
			return cacheKeys[i].Op < cacheKeys[j].Op
		}
		return cacheKeys[i].Outcome < cacheKeys[j].Outcome
	})
	for _, k := range cacheKeys {
		fmt.Fprintf(&b, "trawler_cache_ops_total{op=\"%s\",outcome=\"%s\"} %d\n",
			k.Op, k.Outcome, cacheOpsTotal[k])
	}

	b.WriteString("# HELP trawler_cache_cleaned_total Total expired cache entries removed by sweeps\n")
	b.WriteString("# TYPE trawler_cache_cleaned_total counter\n")
	fmt.Fprintf(&b, "trawler_cache_cleaned_total %d\n", cacheCleanedTot)

	return b.String()
}
