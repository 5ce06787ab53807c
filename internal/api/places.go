package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/tilmanb/osm-wikidata/pkg/matcher"
	"github.com/tilmanb/osm-wikidata/pkg/model"
	"github.com/tilmanb/osm-wikidata/pkg/pipeline"
	"github.com/tilmanb/osm-wikidata/pkg/store"
	"github.com/tilmanb/osm-wikidata/pkg/upload"
)

// Pipeline is the stage interface of *pipeline.Runner.
type Pipeline interface {
	Run(ctx context.Context, placeID int64) (*pipeline.Result, error)
	LoadWikidata(ctx context.Context, placeID int64) (*pipeline.Result, error)
	CheckOverpass(ctx context.Context, placeID int64) (string, error)
	RunOverpass(ctx context.Context, placeID int64) (*pipeline.Result, error)
	SubmitOverpass(ctx context.Context, placeID int64, body []byte) (*pipeline.Result, error)
	OverpassTimeout(ctx context.Context, placeID int64) (*pipeline.Result, error)
	LoadOSM2PGSQL(ctx context.Context, placeID int64) (*pipeline.Result, error)
	Match(ctx context.Context, placeID int64) (*pipeline.Result, error)
	MatchItem(ctx context.Context, placeID, itemID int64) (*pipeline.Result, error)
	Ready(ctx context.Context, placeID int64) (*pipeline.Result, error)
	Refresh(ctx context.Context, placeID int64) (*pipeline.Result, error)
}

// Uploader is the upload interface of *upload.Workflow.
type Uploader interface {
	Run(ctx context.Context, req upload.Request) (*upload.Report, error)
	AddSingleTag(ctx context.Context, item *model.Item, key model.ElementKey, user string) (*upload.Report, error)
}

// Exporter writes matched elements as a file for a desktop editor.
type Exporter interface {
	Export(ctx context.Context, tagged map[model.ElementKey]string) ([]byte, error)
}

// PlaceHandler exposes place stages, review lists and uploads.
type PlaceHandler struct {
	runner   Pipeline
	store    store.Store
	uploads  Uploader
	tags     upload.TagSource
	maxReply int64
	logger   *slog.Logger

	// Exporter, when set, serves the JOSM file of a place.
	Exporter Exporter
}

// NewPlaceHandler creates a place handler.
func NewPlaceHandler(runner Pipeline, s store.Store, uploads Uploader, tags upload.TagSource, logger *slog.Logger) *PlaceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaceHandler{
		runner:   runner,
		store:    s,
		uploads:  uploads,
		tags:     tags,
		maxReply: 512 << 20,
		logger:   logger.With("component", "api"),
	}
}

// HandleList handles GET /api/places?filter=name. The filter matches the
// display name case-insensitively; underscores stand for spaces.
func (h *PlaceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	places, err := h.store.ListPlaces(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if f := nameFilter(r.URL.Query().Get("filter")); f != "" {
		kept := places[:0]
		for _, p := range places {
			if containsFold(p.DisplayName, f) {
				kept = append(kept, p)
			}
		}
		places = kept
	}
	writeJSON(w, http.StatusOK, places)
}

func nameFilter(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// HandleGet handles GET /api/places/{id}.
func (h *PlaceHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "invalid place id", http.StatusBadRequest)
		return
	}
	p, err := h.store.GetPlace(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleLoad handles POST /api/places/{id}/load/{stage}.
func (h *PlaceHandler) HandleLoad(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "invalid place id", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	var (
		res *pipeline.Result
		err error
	)
	switch stage := r.PathValue("stage"); stage {
	case "matcher":
		res, err = h.runner.Run(ctx, id)
	case "wbgetentities":
		res, err = h.runner.LoadWikidata(ctx, id)
	case "check_overpass":
		var status string
		if status, err = h.runner.CheckOverpass(ctx, id); err == nil {
			res = &pipeline.Result{PlaceID: id, Status: status}
		}
	case "overpass":
		res, err = h.runner.RunOverpass(ctx, id)
	case "overpass_reply":
		var body []byte
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxReply))
		if err == nil {
			res, err = h.runner.SubmitOverpass(ctx, id, body)
		}
	case "overpass_timeout":
		res, err = h.runner.OverpassTimeout(ctx, id)
	case "osm2pgsql":
		res, err = h.runner.LoadOSM2PGSQL(ctx, id)
	case "match":
		res, err = h.runner.Match(ctx, id)
	case "ready":
		res, err = h.runner.Ready(ctx, id)
	case "refresh":
		res, err = h.runner.Refresh(ctx, id)
	default:
		http.Error(w, fmt.Sprintf("unknown stage %q", stage), http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleMatchItem handles POST /api/places/{id}/items/{item}/match.
func (h *PlaceHandler) HandleMatchItem(w http.ResponseWriter, r *http.Request) {
	id, ok1 := pathID(r, "id")
	itemID, ok2 := pathID(r, "item")
	if !ok1 || !ok2 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	res, err := h.runner.MatchItem(r.Context(), id, itemID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ItemView is one item with its candidates.
type ItemView struct {
	QID        string             `json:"qid"`
	Label      string             `json:"label"`
	Lat        float64            `json:"lat"`
	Lon        float64            `json:"lon"`
	Tags       []string           `json:"tags,omitempty"`
	Candidates []*model.Candidate `json:"candidates"`
}

func (h *PlaceHandler) itemCandidates(ctx context.Context, placeID int64) ([]matcher.ItemCandidates, error) {
	if _, err := h.store.GetPlace(ctx, placeID); err != nil {
		return nil, err
	}
	items, err := h.store.PlaceItems(ctx, placeID)
	if err != nil {
		return nil, err
	}
	byItem, err := h.store.PlaceCandidates(ctx, placeID)
	if err != nil {
		return nil, err
	}
	ret := make([]matcher.ItemCandidates, 0, len(items))
	for _, item := range items {
		ret = append(ret, matcher.ItemCandidates{Item: item, Candidates: byItem[item.ItemID]})
	}
	sort.SliceStable(ret, func(i, j int) bool { return ret[i].Item.ItemID < ret[j].Item.ItemID })
	return ret, nil
}

func (h *PlaceHandler) list(keep func(matcher.ItemCandidates) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			http.Error(w, "invalid place id", http.StatusBadRequest)
			return
		}
		all, err := h.itemCandidates(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		views := []ItemView{}
		for _, ic := range all {
			if !keep(ic) {
				continue
			}
			cands := ic.Candidates
			if cands == nil {
				cands = []*model.Candidate{}
			}
			views = append(views, ItemView{
				QID:        ic.Item.QID(),
				Label:      ic.Item.Label,
				Lat:        ic.Item.Lat,
				Lon:        ic.Item.Lon,
				Tags:       ic.Item.Tags,
				Candidates: cands,
			})
		}
		writeJSON(w, http.StatusOK, views)
	}
}

// HandleCandidates handles GET /api/places/{id}/candidates. With
// ?multiple=1 only items with more than one candidate are listed.
// ?name_filter= keeps items whose label or a candidate name contains the
// filter.
func (h *PlaceHandler) HandleCandidates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	multiple, _ := strconv.ParseBool(q.Get("multiple"))
	filter := nameFilter(q.Get("name_filter"))

	h.list(func(ic matcher.ItemCandidates) bool {
		if len(ic.Candidates) == 0 || matcher.AlreadyTagged(ic) {
			return false
		}
		if multiple && len(ic.Candidates) < 2 {
			return false
		}
		return filter == "" || itemNamed(ic, filter)
	})(w, r)
}

func itemNamed(ic matcher.ItemCandidates, filter string) bool {
	if containsFold(ic.Item.Label, filter) {
		return true
	}
	for _, c := range ic.Candidates {
		if containsFold(c.Tags["name"], filter) {
			return true
		}
	}
	return false
}

// HandleExport handles GET /api/places/{id}/export.osm. The file holds the
// elements an upload would tag, each carrying its wikidata tag.
func (h *PlaceHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "invalid place id", http.StatusBadRequest)
		return
	}
	if h.Exporter == nil {
		http.Error(w, "export not configured", http.StatusNotImplemented)
		return
	}
	ctx := r.Context()
	place, err := h.store.GetPlace(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	all, err := h.itemCandidates(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	pairs := matcher.FilterCandidates(all)
	if len(pairs) == 0 {
		http.Error(w, "nothing to export", http.StatusNotFound)
		return
	}
	tagged := make(map[model.ElementKey]string, len(pairs))
	for _, p := range pairs {
		tagged[p.Candidate.Key()] = p.Item.QID()
	}

	data, err := h.Exporter.Export(ctx, tagged)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="wikidata_%s_%d.osm"`, place.OSMType, place.OSMID))
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("Failed to write export", "place_id", id, "error", err)
	}
}

// HandleNoMatch handles GET /api/places/{id}/no_match.
func (h *PlaceHandler) HandleNoMatch(w http.ResponseWriter, r *http.Request) {
	h.list(func(ic matcher.ItemCandidates) bool { return len(ic.Candidates) == 0 })(w, r)
}

// HandleAlreadyTagged handles GET /api/places/{id}/already_tagged.
func (h *PlaceHandler) HandleAlreadyTagged(w http.ResponseWriter, r *http.Request) {
	h.list(matcher.AlreadyTagged)(w, r)
}

// AddTagsRequest confirms matches for upload. Include limits the upload to
// the listed items; empty means every uploadable item.
type AddTagsRequest struct {
	Include []string `json:"include"`
	Comment string   `json:"comment"`
	User    string   `json:"user"`
}

// HandleAddTags handles POST /api/places/{id}/add_tags.
func (h *PlaceHandler) HandleAddTags(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "invalid place id", http.StatusBadRequest)
		return
	}
	var req AddTagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Comment == "" {
		http.Error(w, "comment is required", http.StatusBadRequest)
		return
	}

	all, err := h.itemCandidates(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	pairs := matcher.FilterCandidates(all)
	if len(req.Include) > 0 {
		include := make(map[string]bool, len(req.Include))
		for _, q := range req.Include {
			include[q] = true
		}
		kept := pairs[:0]
		for _, p := range pairs {
			if include[p.Item.QID()] {
				kept = append(kept, p)
			}
		}
		pairs = kept
	}

	report, err := h.uploads.Run(r.Context(), upload.Request{PlaceID: &id, Pairs: pairs, Comment: req.Comment, User: req.User})
	if err != nil {
		if report != nil {
			// Partial upload: the report says which elements were written.
			h.logger.Error("Upload stopped", "place_id", id, "error", err)
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "report": report})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleUpdateTags handles POST /api/places/{id}/update_tags.
func (h *PlaceHandler) HandleUpdateTags(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		http.Error(w, "invalid place id", http.StatusBadRequest)
		return
	}
	n, err := upload.RefreshTags(r.Context(), h.tags, h.store, id, h.logger)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}
