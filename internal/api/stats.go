package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/tilmanb/osm-wikidata/pkg/tracker"
)

// StatsHandler reports per-provider request statistics.
type StatsHandler struct {
	tracker *tracker.Tracker
	started time.Time
}

// NewStatsHandler creates a stats handler.
func NewStatsHandler(t *tracker.Tracker) *StatsHandler {
	return &StatsHandler{tracker: t, started: time.Now()}
}

type ProviderStatsDTO struct {
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	APISuccess  int64 `json:"api_success"`
	APIFailures int64 `json:"api_errors"`
	Retries     int64 `json:"retries"`
	HitRate     int64 `json:"hit_rate"`
}

type StatsResponse struct {
	UptimeSec  int64                       `json:"uptime_sec"`
	MemoryMB   uint64                      `json:"memory_mb"`
	Goroutines int                         `json:"goroutines"`
	Providers  map[string]ProviderStatsDTO `json:"providers"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := StatsResponse{
		UptimeSec:  int64(time.Since(h.started).Seconds()),
		MemoryMB:   mem.Alloc / 1024 / 1024,
		Goroutines: runtime.NumGoroutine(),
		Providers:  make(map[string]ProviderStatsDTO),
	}

	for provider, stats := range h.tracker.Snapshot() {
		totalCache := stats.CacheHits + stats.CacheMisses
		hitRate := int64(0)
		if totalCache > 0 {
			hitRate = (stats.CacheHits * 100) / totalCache
		}
		resp.Providers[provider] = ProviderStatsDTO{
			CacheHits:   stats.CacheHits,
			CacheMisses: stats.CacheMisses,
			APISuccess:  stats.APISuccess,
			APIFailures: stats.APIFailures,
			Retries:     stats.Retries,
			HitRate:     hitRate,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
