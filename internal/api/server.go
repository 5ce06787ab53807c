package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tilmanb/osm-wikidata/pkg/version"
)

// Handlers bundles the endpoint handlers. Only Places and Changes are required.
type Handlers struct {
	Places   *PlaceHandler
	Progress *ProgressHandler
	Items    *ItemHandler
	Changes  *ChangesHandler
	Criteria *CriteriaHandler
	Settings *SettingsHandler
	Stats    *StatsHandler
	Metrics  prometheus.Gatherer
}

// NewServer creates and configures the HTTP server.
func NewServer(addr string, h Handlers, shutdown func()) *http.Server {
	return &http.Server{
		Addr:        addr,
		Handler:     NewMux(h, shutdown),
		ReadTimeout: 15 * time.Second,
		// Stage requests run whole pipeline steps.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

// NewMux registers every route.
func NewMux(h Handlers, shutdown func()) *http.ServeMux {
	mux := http.NewServeMux()

	// 1. Health and version
	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/version", handleVersion)
	mux.HandleFunc("GET /api/log", handleLog)

	// 2. Places
	mux.HandleFunc("GET /api/places", h.Places.HandleList)
	mux.HandleFunc("GET /api/places/{id}", h.Places.HandleGet)
	mux.HandleFunc("POST /api/places/{id}/load/{stage}", h.Places.HandleLoad)
	mux.HandleFunc("POST /api/places/{id}/items/{item}/match", h.Places.HandleMatchItem)
	mux.HandleFunc("GET /api/places/{id}/candidates", h.Places.HandleCandidates)
	mux.HandleFunc("GET /api/places/{id}/export.osm", h.Places.HandleExport)
	mux.HandleFunc("GET /api/places/{id}/no_match", h.Places.HandleNoMatch)
	mux.HandleFunc("GET /api/places/{id}/already_tagged", h.Places.HandleAlreadyTagged)
	mux.HandleFunc("POST /api/places/{id}/add_tags", h.Places.HandleAddTags)
	mux.HandleFunc("POST /api/places/{id}/update_tags", h.Places.HandleUpdateTags)
	if h.Progress != nil {
		mux.Handle("/api/places/{id}/progress", h.Progress)
	}

	// 3. Items
	if h.Items != nil {
		mux.HandleFunc("GET /api/item/{qid}", h.Items.HandleFind)
		mux.HandleFunc("POST /api/item/{qid}/tag", h.Items.HandleTag)
	}

	// 4. Changes, criteria, settings, stats
	mux.Handle("GET /api/changes", h.Changes)
	mux.HandleFunc("GET /api/changes/{id}/edits", h.Changes.HandleEdits)
	if h.Criteria != nil {
		mux.Handle("GET /api/criteria", h.Criteria)
	}
	if h.Settings != nil {
		mux.HandleFunc("GET /api/settings", h.Settings.HandleGet)
		mux.HandleFunc("PUT /api/settings", h.Settings.HandleSet)
	}
	if h.Stats != nil {
		mux.Handle("GET /api/stats", h.Stats)
	}

	// 5. Metrics
	if h.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.Metrics, promhttp.HandlerOpts{}))
	}

	// 6. Shutdown
	if shutdown != nil {
		mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
			slog.Info("Graceful shutdown initiated via API")
			w.WriteHeader(http.StatusOK)
			if _, err := w.Write([]byte("Shutting down...")); err != nil {
				slog.Error("Failed to write shutdown response", "error", err)
			}
			// Let the response flush first.
			go func() {
				time.Sleep(100 * time.Millisecond)
				shutdown()
			}()
		})
	}
	return mux
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}
