// Package telemetry provides observability for the Parley backend.
package telemetry

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Metrics collects Prometheus-style metrics for the chat backend.
type Metrics struct {
	mu sync.RWMutex

	// Counters
	requestsTotal    map[string]int64 // key: route,status
	chatsTotal       map[string]int64 // key: model,status
	tokensTotal      map[string]int64 // key: model,type
	webSearchesTotal map[string]int64 // key: status
	analysesTotal    map[string]int64 // key: type,status
	rateLimitedTotal int64
	sessionsEvicted  int64

	// Histograms (simplified: bucket counts + sum + count)
	chatDurations map[string]*histogram // key: model
}

type histogram struct {
	buckets []float64
	counts  []int64
	sum     float64
	count   int64
}

var defaultBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

func newHistogram() *histogram {
	return &histogram{
		buckets: defaultBuckets,
		counts:  make([]int64, len(defaultBuckets)+1), // +1 for +Inf
	}
}

func (h *histogram) observe(value float64) {
	h.sum += value
	h.count++
	for i, b := range h.buckets {
		if value <= b {
			h.counts[i]++
		}
	}
	h.counts[len(h.buckets)]++ // +Inf always counts
}

// NewMetrics creates a new Metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		requestsTotal:    make(map[string]int64),
		chatsTotal:       make(map[string]int64),
		tokensTotal:      make(map[string]int64),
		webSearchesTotal: make(map[string]int64),
		analysesTotal:    make(map[string]int64),
		chatDurations:    make(map[string]*histogram),
	}
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(route, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requestsTotal[fmt.Sprintf("%s,%s", route, status)]++
}

// RecordChat records a completed chat turn.
func (m *Metrics) RecordChat(model, status string, duration time.Duration, inputTokens, outputTokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Increment chat counter
	key := fmt.Sprintf("%s,%s", model, status)
	m.chatsTotal[key]++

	// Record duration
	h, ok := m.chatDurations[model]
	if !ok {
		h = newHistogram()
		m.chatDurations[model] = h
	}
	h.observe(duration.Seconds())

	// Record tokens
	m.tokensTotal[fmt.Sprintf("%s,input", model)] += int64(inputTokens)
	m.tokensTotal[fmt.Sprintf("%s,output", model)] += int64(outputTokens)
}

// RecordWebSearch records a web search attempt.
func (m *Metrics) RecordWebSearch(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.webSearchesTotal[status]++
}

// RecordFileAnalysis records a file analysis.
func (m *Metrics) RecordFileAnalysis(fileType, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.analysesTotal[fmt.Sprintf("%s,%s", fileType, status)]++
}

// RecordRateLimited records a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimited() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rateLimitedTotal++
}

// RecordSessionsEvicted records sessions dropped by the registry cap.
func (m *Metrics) RecordSessionsEvicted(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessionsEvicted += int64(n)
}

// Handler returns an HTTP handler that serves Prometheus-format metrics.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder

		// HTTP request counter
		sb.WriteString("# HELP parley_http_requests_total Total HTTP requests\n")
		sb.WriteString("# TYPE parley_http_requests_total counter\n")
		for _, key := range sortedKeys(m.requestsTotal) {
			parts := strings.SplitN(key, ",", 2)
			fmt.Fprintf(&sb, "parley_http_requests_total{route=%q,status=%q} %d\n",
				parts[0], parts[1], m.requestsTotal[key])
		}
		sb.WriteString("\n")

		// Chat counter
		sb.WriteString("# HELP parley_chats_total Total chat turns\n")
		sb.WriteString("# TYPE parley_chats_total counter\n")
		for _, key := range sortedKeys(m.chatsTotal) {
			parts := strings.SplitN(key, ",", 2)
			fmt.Fprintf(&sb, "parley_chats_total{model=%q,status=%q} %d\n",
				parts[0], parts[1], m.chatsTotal[key])
		}
		sb.WriteString("\n")

		// Duration histogram
		sb.WriteString("# HELP parley_chat_duration_seconds Chat turn duration\n")
		sb.WriteString("# TYPE parley_chat_duration_seconds histogram\n")
		for _, model := range sortedMapKeys(m.chatDurations) {
			h := m.chatDurations[model]
			cumulative := int64(0)
			for i, b := range h.buckets {
				cumulative += h.counts[i]
				fmt.Fprintf(&sb, "parley_chat_duration_seconds_bucket{model=%q,le=\"%.3g\"} %d\n",
					model, b, cumulative)
			}
			cumulative += h.counts[len(h.buckets)]
			fmt.Fprintf(&sb, "parley_chat_duration_seconds_bucket{model=%q,le=\"+Inf\"} %d\n",
				model, cumulative)
			fmt.Fprintf(&sb, "parley_chat_duration_seconds_sum{model=%q} %.6f\n",
				model, h.sum)
			fmt.Fprintf(&sb, "parley_chat_duration_seconds_count{model=%q} %d\n",
				model, h.count)
		}
		sb.WriteString("\n")

		// Tokens counter
		sb.WriteString("# HELP parley_tokens_total Tokens consumed\n")
		sb.WriteString("# TYPE parley_tokens_total counter\n")
		for _, key := range sortedKeys(m.tokensTotal) {
			parts := strings.SplitN(key, ",", 2)
			fmt.Fprintf(&sb, "parley_tokens_total{model=%q,type=%q} %d\n",
				parts[0], parts[1], m.tokensTotal[key])
		}
		sb.WriteString("\n")

		// Web search counter
		sb.WriteString("# HELP parley_web_searches_total Web search attempts\n")
		sb.WriteString("# TYPE parley_web_searches_total counter\n")
		for _, key := range sortedKeys(m.webSearchesTotal) {
			fmt.Fprintf(&sb, "parley_web_searches_total{status=%q} %d\n",
				key, m.webSearchesTotal[key])
		}
		sb.WriteString("\n")

		// File analysis counter
		sb.WriteString("# HELP parley_file_analyses_total File analyses\n")
		sb.WriteString("# TYPE parley_file_analyses_total counter\n")
		for _, key := range sortedKeys(m.analysesTotal) {
			parts := strings.SplitN(key, ",", 2)
			fmt.Fprintf(&sb, "parley_file_analyses_total{type=%q,status=%q} %d\n",
				parts[0], parts[1], m.analysesTotal[key])
		}
		sb.WriteString("\n")

		// Rate limiter counter
		sb.WriteString("# HELP parley_rate_limited_total Requests rejected by the rate limiter\n")
		sb.WriteString("# TYPE parley_rate_limited_total counter\n")
		fmt.Fprintf(&sb, "parley_rate_limited_total %d\n", m.rateLimitedTotal)
		sb.WriteString("\n")

		// Session eviction counter
		sb.WriteString("# HELP parley_sessions_evicted_total Sessions dropped by the registry cap\n")
		sb.WriteString("# TYPE parley_sessions_evicted_total counter\n")
		fmt.Fprintf(&sb, "parley_sessions_evicted_total %d\n", m.sessionsEvicted)

		_, _ = w.Write([]byte(sb.String()))
	})
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedMapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
