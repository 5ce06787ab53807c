package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"github.com/tilmanb/osm-wikidata/pkg/finder"
	"github.com/tilmanb/osm-wikidata/pkg/model"
	"github.com/tilmanb/osm-wikidata/pkg/store"
)

var reQID = regexp.MustCompile(`^Q\d+$`)

// ItemFinder is the match interface of *finder.Finder.
type ItemFinder interface {
	Find(ctx context.Context, qid string, radius int) (*finder.Result, error)
	Refresh(ctx context.Context, qid string, radius int) (*finder.Result, error)
}

// EntitySource fetches items that were never loaded with a place.
type EntitySource interface {
	GetEntity(ctx context.Context, qid string) (*model.Entity, error)
}

// ItemHandler serves single-item matching and tagging.
type ItemHandler struct {
	finder   ItemFinder
	items    store.ItemStore
	entities EntitySource
	uploads  Uploader
}

// NewItemHandler creates an item handler.
func NewItemHandler(f ItemFinder, items store.ItemStore, entities EntitySource, uploads Uploader) *ItemHandler {
	return &ItemHandler{finder: f, items: items, entities: entities, uploads: uploads}
}

// HandleFind handles GET /api/item/{qid}?radius=N. With ?refresh=1 the
// cached element query for the item is dropped first.
func (h *ItemHandler) HandleFind(w http.ResponseWriter, r *http.Request) {
	qid := r.PathValue("qid")
	if !reQID.MatchString(qid) {
		http.Error(w, "invalid item id", http.StatusBadRequest)
		return
	}
	radius := 0
	if s := r.URL.Query().Get("radius"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			http.Error(w, "invalid radius", http.StatusBadRequest)
			return
		}
		radius = v
	}

	find := h.finder.Find
	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		find = h.finder.Refresh
	}
	res, err := find(r.Context(), qid, radius)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	writeJSON(w, http.StatusOK, res)
}

// TagRequest names the element to tag with the item.
type TagRequest struct {
	OSMType string `json:"osm_type"`
	OSMID   int64  `json:"osm_id"`
	User    string `json:"user"`
}

// HandleTag handles POST /api/item/{qid}/tag.
func (h *ItemHandler) HandleTag(w http.ResponseWriter, r *http.Request) {
	qid := r.PathValue("qid")
	id, err := model.ParseQID(qid)
	if err != nil {
		http.Error(w, "invalid item id", http.StatusBadRequest)
		return
	}
	var req TagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	switch req.OSMType {
	case "node", "way", "relation":
	default:
		http.Error(w, "invalid osm_type", http.StatusBadRequest)
		return
	}

	item, err := h.item(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := h.uploads.AddSingleTag(r.Context(), item, model.ElementKey{Type: req.OSMType, ID: req.OSMID}, req.User)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// item returns the stored item, or one built from the fetched entity when
// the item was never loaded with a place.
func (h *ItemHandler) item(ctx context.Context, id int64) (*model.Item, error) {
	item, err := h.items.GetItem(ctx, id)
	if !errors.Is(err, store.ErrNotFound) || h.entities == nil {
		return item, err
	}
	e, err := h.entities.GetEntity(ctx, model.QID(id))
	if err != nil {
		return nil, err
	}
	item = &model.Item{ItemID: id, Label: e.Label(), Entity: e}
	if lat, lon, ok := e.Coordinates(); ok {
		item.Lat, item.Lon = lat, lon
	}
	return item, nil
}
