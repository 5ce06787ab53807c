package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/tilmanb/osm-wikidata/pkg/model"
	"github.com/tilmanb/osm-wikidata/pkg/osmapi"
	"github.com/tilmanb/osm-wikidata/pkg/store"
)

// ChangesetSource downloads what an upload changed on the map.
type ChangesetSource interface {
	ChangesetEdits(ctx context.Context, id int64) ([]osmapi.Edit, error)
}

// ChangesHandler lists recorded uploads.
type ChangesHandler struct {
	store store.ChangesetStore
	edits ChangesetSource
}

// NewChangesHandler creates a changes handler. edits may be nil.
func NewChangesHandler(s store.ChangesetStore, edits ChangesetSource) *ChangesHandler {
	return &ChangesHandler{store: s, edits: edits}
}

// ServeHTTP handles GET /api/changes?limit=N.
func (h *ChangesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 || v > 1000 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = v
	}
	list, err := h.store.ListChangesets(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*model.Changeset{}
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleEdits handles GET /api/changes/{id}/edits. It lists the wikidata
// tags the changeset added, read back from the map API.
func (h *ChangesHandler) HandleEdits(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "invalid changeset id", http.StatusBadRequest)
		return
	}
	if h.edits == nil {
		http.Error(w, "map API not configured", http.StatusNotImplemented)
		return
	}
	edits, err := h.edits.ChangesetEdits(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if edits == nil {
		edits = []osmapi.Edit{}
	}
	writeJSON(w, http.StatusOK, edits)
}
