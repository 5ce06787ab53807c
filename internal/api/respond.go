package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/tilmanb/osm-wikidata/pkg/overpass"
	"github.com/tilmanb/osm-wikidata/pkg/pipeline"
	"github.com/tilmanb/osm-wikidata/pkg/store"
	"github.com/tilmanb/osm-wikidata/pkg/upload"
	"github.com/tilmanb/osm-wikidata/pkg/wikidata"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, wikidata.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrInvalidTransition), errors.Is(err, upload.ErrNoEditNeeded):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrAreaTooLarge), errors.Is(err, pipeline.ErrNoReply):
		return http.StatusUnprocessableEntity
	case errors.Is(err, overpass.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, upload.ErrNoPairs):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrEditsPaused):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}
