package tracker

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Tracker tracks usage statistics per external provider. It is also a
// prometheus.Collector so the counters show up on /metrics.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*ProviderStats
}

// ProviderStats holds metrics for a specific provider.
// Fields are accessed atomically.
type ProviderStats struct {
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	APISuccess  int64 `json:"api_success"`
	APIFailures int64 `json:"api_failures"`
	Retries     int64 `json:"retries"`
}

var (
	cacheDesc = prometheus.NewDesc("matcher_provider_cache_total",
		"Cache lookups per provider.", []string{"provider", "result"}, nil)
	requestDesc = prometheus.NewDesc("matcher_provider_requests_total",
		"Completed requests per provider.", []string{"provider", "result"}, nil)
	retryDesc = prometheus.NewDesc("matcher_provider_retries_total",
		"Retried attempts per provider.", []string{"provider"}, nil)
)

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*ProviderStats),
	}
}

// getStats returns the stats object for a provider, creating it if needed.
func (t *Tracker) getStats(provider string) *ProviderStats {
	t.mu.RLock()
	s, ok := t.stats[provider]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok = t.stats[provider]; ok {
		return s
	}
	s = &ProviderStats{}
	t.stats[provider] = s
	return s
}

func (t *Tracker) TrackCacheHit(provider string) {
	atomic.AddInt64(&t.getStats(provider).CacheHits, 1)
}

func (t *Tracker) TrackCacheMiss(provider string) {
	atomic.AddInt64(&t.getStats(provider).CacheMisses, 1)
}

func (t *Tracker) TrackAPISuccess(provider string) {
	atomic.AddInt64(&t.getStats(provider).APISuccess, 1)
}

func (t *Tracker) TrackAPIFailure(provider string) {
	atomic.AddInt64(&t.getStats(provider).APIFailures, 1)
}

func (t *Tracker) TrackRetry(provider string) {
	atomic.AddInt64(&t.getStats(provider).Retries, 1)
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]ProviderStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]ProviderStats, len(t.stats))
	for k, v := range t.stats {
		result[k] = ProviderStats{
			CacheHits:   atomic.LoadInt64(&v.CacheHits),
			CacheMisses: atomic.LoadInt64(&v.CacheMisses),
			APISuccess:  atomic.LoadInt64(&v.APISuccess),
			APIFailures: atomic.LoadInt64(&v.APIFailures),
			Retries:     atomic.LoadInt64(&v.Retries),
		}
	}
	return result
}

// Describe implements prometheus.Collector.
func (t *Tracker) Describe(ch chan<- *prometheus.Desc) {
	ch <- cacheDesc
	ch <- requestDesc
	ch <- retryDesc
}

// Collect implements prometheus.Collector.
func (t *Tracker) Collect(ch chan<- prometheus.Metric) {
	snap := t.Snapshot()
	providers := make([]string, 0, len(snap))
	for p := range snap {
		providers = append(providers, p)
	}
	sort.Strings(providers)

	for _, p := range providers {
		s := snap[p]
		ch <- prometheus.MustNewConstMetric(cacheDesc, prometheus.CounterValue, float64(s.CacheHits), p, "hit")
		ch <- prometheus.MustNewConstMetric(cacheDesc, prometheus.CounterValue, float64(s.CacheMisses), p, "miss")
		ch <- prometheus.MustNewConstMetric(requestDesc, prometheus.CounterValue, float64(s.APISuccess), p, "success")
		ch <- prometheus.MustNewConstMetric(requestDesc, prometheus.CounterValue, float64(s.APIFailures), p, "failure")
		ch <- prometheus.MustNewConstMetric(retryDesc, prometheus.CounterValue, float64(s.Retries), p)
	}
}
