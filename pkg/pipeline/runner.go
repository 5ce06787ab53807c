package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tilmanb/osm-wikidata/pkg/config"
	"github.com/tilmanb/osm-wikidata/pkg/geo"
	"github.com/tilmanb/osm-wikidata/pkg/matcher"
	"github.com/tilmanb/osm-wikidata/pkg/model"
	"github.com/tilmanb/osm-wikidata/pkg/overpass"
	"github.com/tilmanb/osm-wikidata/pkg/store"
	"github.com/tilmanb/osm-wikidata/pkg/tracker"
)

// KnowledgeBase loads items and entity detail.
type KnowledgeBase interface {
	PlaceItems(ctx context.Context, p *model.Place, boundary *geo.Boundary) ([]*model.Item, error)
	GetEntities(ctx context.Context, ids []string) (map[string]*model.Entity, error)
}

// CategorySource returns page categories by article title.
type CategorySource interface {
	PageCategories(ctx context.Context, titles []string) (map[string][]string, error)
}

// SpatialQuery runs and stores the bulk query of a place.
type SpatialQuery interface {
	PlaceDone(ctx context.Context, placeID int64) bool
	PlaceQuery(ctx context.Context, placeID int64, oql string) error
	SavePlace(ctx context.Context, placeID int64, body []byte) error
	LoadPlace(ctx context.Context, placeID int64) ([]model.Element, error)
	DropPlace(placeID int64) error
}

// MapData holds the locally loaded elements of a place.
type MapData interface {
	TablesExist(ctx context.Context, prefix string) (bool, error)
	Load(ctx context.Context, prefix string, elements []model.Element) (int, error)
	Nearby(ctx context.Context, prefix string, lat, lon, radius float64, criteria []string) ([]model.Element, error)
	Drop(ctx context.Context, prefix string) error
}

// Config holds the limits of a runner.
type Config struct {
	MaxAreaKm2    float64
	Radius        float64 // meters around each item
	ServerTimeout int     // seconds
}

// ConfigFrom extracts the runner settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		MaxAreaKm2:    cfg.Matcher.MaxAreaKm2,
		Radius:        cfg.Overpass.Radius.Meters(),
		ServerTimeout: cfg.Overpass.ServerTimeout,
	}
}

// Settings supplies runtime overrides of the runner limits.
type Settings interface {
	Radius(ctx context.Context) float64
	MaxAreaKm2(ctx context.Context) float64
	OverpassServerTimeout(ctx context.Context) int
}

// Deps are the collaborators of a runner. Settings, Metrics, Sink and Logger
// are optional.
type Deps struct {
	Store    store.Store
	KB       KnowledgeBase
	Wiki     CategorySource
	Overpass SpatialQuery
	MapData  MapData
	Types    config.EntityTypes
	Settings Settings
	Metrics  *tracker.Metrics
	Sink     ProgressSink
	Logger   *slog.Logger
}

// Runner drives places through the stages. One runner serves all places;
// each place must only be driven by one call at a time.
type Runner struct {
	store    store.Store
	kb       KnowledgeBase
	wiki     CategorySource
	overpass SpatialQuery
	mapdata  MapData
	types    config.EntityTypes
	cfg      Config
	settings Settings
	metrics  *tracker.Metrics
	sink     ProgressSink
	logger   *slog.Logger
}

// NewRunner creates a runner.
func NewRunner(d Deps, cfg Config) *Runner {
	if cfg.Radius <= 0 {
		cfg.Radius = 1000
	}
	if cfg.ServerTimeout <= 0 {
		cfg.ServerTimeout = 300
	}
	sink := d.Sink
	if sink == nil {
		sink = nopSink{}
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:    d.Store,
		kb:       d.KB,
		wiki:     d.Wiki,
		overpass: d.Overpass,
		mapdata:  d.MapData,
		types:    d.Types,
		cfg:      cfg,
		settings: d.Settings,
		metrics:  d.Metrics,
		sink:     sink,
		logger:   logger.With("component", "pipeline"),
	}
}

// Result is the status signal returned by every stage entry point.
type Result struct {
	PlaceID    int64       `json:"place_id"`
	State      model.State `json:"state"`
	Status     string      `json:"status"`
	Items      int         `json:"items,omitempty"`
	Candidates int         `json:"candidates,omitempty"`
	Failed     int         `json:"failed,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type run struct {
	r       *Runner
	id      string
	place   *model.Place
	limits  Config
	stage   string
	logger  *slog.Logger
	started time.Time
}

func (r *Runner) begin(ctx context.Context, p *model.Place, stage string) *run {
	id := uuid.NewString()
	return &run{
		r:       r,
		id:      id,
		place:   p,
		limits:  r.limits(ctx),
		stage:   stage,
		logger:  r.logger.With("place_id", p.PlaceID, "run_id", id, "stage", stage),
		started: time.Now(),
	}
}

func (rn *run) progress(msg string, done, total int) {
	rn.r.sink.Publish(Progress{
		PlaceID: rn.place.PlaceID,
		RunID:   rn.id,
		Stage:   rn.stage,
		Message: msg,
		Done:    done,
		Total:   total,
		Time:    time.Now(),
	})
}

func (rn *run) finish(err error) {
	result := "ok"
	if err != nil {
		result = "error"
		rn.logger.Error("Stage failed", "error", err, "duration", time.Since(rn.started))
		rn.r.sink.Publish(Progress{PlaceID: rn.place.PlaceID, RunID: rn.id, Stage: rn.stage, Error: err.Error(), Time: time.Now()})
	} else {
		rn.logger.Info("Stage finished", "state", rn.place.State, "duration", time.Since(rn.started))
		rn.progress("done", 0, 0)
	}
	rn.r.metrics.ObserveStage(rn.stage, result, rn.started)
}

// step applies ev: the action runs first and the new state is committed only
// when it succeeds.
func (rn *run) step(ctx context.Context, ev Event, action func(context.Context) error) error {
	next, _, err := Transition(rn.place.State, ev)
	if err != nil {
		return err
	}
	if action != nil {
		if err := action(ctx); err != nil {
			return err
		}
	}
	return rn.commit(ctx, next, "")
}

func (rn *run) commit(ctx context.Context, next model.State, overpassError string) error {
	if err := rn.r.store.SetPlaceState(ctx, rn.place.PlaceID, next, overpassError); err != nil {
		return fmt.Errorf("failed to set state %s: %w", next, err)
	}
	rn.place.State = next
	rn.place.OverpassError = overpassError
	return nil
}

func (rn *run) result(status string) *Result {
	return &Result{PlaceID: rn.place.PlaceID, State: rn.place.State, Status: status}
}

// limits returns the configured limits with any runtime overrides applied.
func (r *Runner) limits(ctx context.Context) Config {
	if r.settings == nil {
		return r.cfg
	}
	cfg := Config{
		MaxAreaKm2:    r.settings.MaxAreaKm2(ctx),
		Radius:        r.settings.Radius(ctx),
		ServerTimeout: r.settings.OverpassServerTimeout(ctx),
	}
	if cfg.Radius <= 0 {
		cfg.Radius = r.cfg.Radius
	}
	if cfg.ServerTimeout <= 0 {
		cfg.ServerTimeout = r.cfg.ServerTimeout
	}
	return cfg
}

// TooLarge reports whether the place exceeds the area limit. Node places have no area.
func (r *Runner) TooLarge(ctx context.Context, p *model.Place) bool {
	limit := r.limits(ctx).MaxAreaKm2
	return p.OSMType != "node" && limit > 0 && p.AreaKm2() > limit
}

// Run loads the items of a place and derives their tags, resuming from the
// stored state. Places past the tags stage are returned unchanged.
func (r *Runner) Run(ctx context.Context, placeID int64) (res *Result, err error) {
	p, err := r.store.GetPlace(ctx, placeID)
	if err != nil {
		return nil, err
	}
	if r.TooLarge(ctx, p) {
		return nil, fmt.Errorf("%s: %w", p.Name(), ErrAreaTooLarge)
	}

	rn := r.begin(ctx, p, "run")
	defer func() { rn.finish(err) }()

	if Allowed(p.State, EventLoadItems) {
		rn.stage = string(model.StateWikipedia)
		if err := rn.step(ctx, EventLoadItems, rn.loadItems); err != nil {
			return nil, err
		}
	}
	if p.State == model.StateWikipedia {
		rn.stage = string(model.StateTags)
		if err := rn.step(ctx, EventDeriveTags, rn.deriveTags); err != nil {
			return nil, err
		}
	}
	return rn.result("done"), nil
}

func (rn *run) boundary() *geo.Boundary {
	if rn.place.Boundary == "" {
		return nil
	}
	b, err := geo.ParseBoundary([]byte(rn.place.Boundary))
	if err != nil {
		rn.logger.Warn("Ignoring unusable boundary", "error", err)
		return nil
	}
	return b
}

func (rn *run) loadItems(ctx context.Context) error {
	rn.progress("loading items", 0, 0)
	items, err := rn.r.kb.PlaceItems(ctx, rn.place, rn.boundary())
	if err != nil {
		return fmt.Errorf("failed to load items: %w", err)
	}
	if err := rn.r.store.AddPlaceItems(ctx, rn.place.PlaceID, items); err != nil {
		return fmt.Errorf("failed to save items: %w", err)
	}
	rn.logger.Info("Loaded items", "count", len(items))
	rn.progress(fmt.Sprintf("loaded %d items", len(items)), len(items), len(items))
	return nil
}

func (rn *run) deriveTags(ctx context.Context) error {
	items, err := rn.r.store.PlaceItems(ctx, rn.place.PlaceID)
	if err != nil {
		return err
	}

	var titles []string
	for _, item := range items {
		if item.Enwiki != "" {
			titles = append(titles, item.Enwiki)
		}
	}
	rn.progress("loading categories", 0, len(titles))
	cats, err := rn.r.wiki.PageCategories(ctx, titles)
	if err != nil {
		return fmt.Errorf("failed to load categories: %w", err)
	}

	lookup := matcher.NewEndingLookup(rn.r.types)
	tagged := 0
	err = rn.r.store.WithTx(ctx, func(tx store.Store) error {
		for _, item := range items {
			c := cats[item.Enwiki]
			tags := lookup.TagsForCategories(c)
			if len(tags) > 0 {
				tagged++
			}
			if err := tx.SetItemTags(ctx, item.ItemID, tags, c); err != nil {
				return fmt.Errorf("failed to save tags of %s: %w", item.QID(), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	rn.logger.Info("Derived item tags", "items", len(items), "tagged", tagged)
	rn.progress(fmt.Sprintf("tagged %d of %d items", tagged, len(items)), len(items), len(items))
	return nil
}

// LoadWikidata fetches entity detail for every item lacking it. Outside the
// tags state it does nothing.
func (r *Runner) LoadWikidata(ctx context.Context, placeID int64) (res *Result, err error) {
	p, err := r.store.GetPlace(ctx, placeID)
	if err != nil {
		return nil, err
	}
	rn := r.begin(ctx, p, string(model.StateWbgetentities))
	if p.State != model.StateTags {
		return rn.result("skipped"), nil
	}
	defer func() { rn.finish(err) }()

	if err := rn.step(ctx, EventFetchEntities, rn.fetchEntities); err != nil {
		return nil, err
	}
	return rn.result("done"), nil
}

func (rn *run) fetchEntities(ctx context.Context) error {
	missing, err := rn.r.store.ItemsMissingEntity(ctx, rn.place.PlaceID)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}
	ids := make([]string, len(missing))
	for i, item := range missing {
		ids[i] = item.QID()
	}
	rn.progress("loading entities", 0, len(ids))
	entities, err := rn.r.kb.GetEntities(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load entities: %w", err)
	}
	err = rn.r.store.WithTx(ctx, func(tx store.Store) error {
		for _, item := range missing {
			e, ok := entities[item.QID()]
			if !ok {
				continue
			}
			if err := tx.SetItemEntity(ctx, item.ItemID, e); err != nil {
				return fmt.Errorf("failed to save entity %s: %w", item.QID(), err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	rn.logger.Info("Loaded entities", "requested", len(ids), "found", len(entities))
	return nil
}

// CheckOverpass answers "got" when the bulk reply is stored and "get" otherwise.
func (r *Runner) CheckOverpass(ctx context.Context, placeID int64) (string, error) {
	if _, err := r.store.GetPlace(ctx, placeID); err != nil {
		return "", err
	}
	if r.overpass.PlaceDone(ctx, placeID) {
		return "got", nil
	}
	return "get", nil
}

// PlaceCriteria is the union of the criteria of every item of the place.
func PlaceCriteria(items []*model.Item) []string {
	set := make(map[string]struct{})
	for _, item := range items {
		for _, c := range matcher.DeriveCriteria(item.Entity, nil, item.Tags) {
			set[c] = struct{}{}
		}
	}
	ret := make([]string, 0, len(set))
	for c := range set {
		ret = append(ret, c)
	}
	sort.Strings(ret)
	return ret
}

var emptyReply = []byte(`{"elements":[]}`)

// RunOverpass submits the bulk spatial query for the place. A server
// timeout or error reply is recorded as a state, not returned as an error;
// rate limiting is returned and leaves the state unchanged.
func (r *Runner) RunOverpass(ctx context.Context, placeID int64) (res *Result, err error) {
	p, err := r.store.GetPlace(ctx, placeID)
	if err != nil {
		return nil, err
	}
	rn := r.begin(ctx, p, string(model.StateOverpass))
	if p.State == model.StateOverpass && r.overpass.PlaceDone(ctx, placeID) {
		return rn.result("got"), nil
	}
	if !Allowed(p.State, EventOverpassDone) {
		return nil, &TransitionError{From: p.State, Event: EventOverpassDone}
	}
	defer func() { rn.finish(err) }()

	items, err := r.store.PlaceItems(ctx, placeID)
	if err != nil {
		return nil, err
	}
	oql, ok := matcher.BuildPlaceQuery(p, PlaceCriteria(items), rn.limits.ServerTimeout)
	if !ok {
		rn.logger.Info("No criteria, storing empty reply")
		err = r.overpass.SavePlace(ctx, placeID, emptyReply)
	} else {
		rn.progress("running overpass query", 0, 0)
		err = r.overpass.PlaceQuery(ctx, placeID, oql)
	}
	return rn.recordOverpass(ctx, err)
}

// SubmitOverpass stores a bulk reply fetched by the client and advances the
// place as RunOverpass would.
func (r *Runner) SubmitOverpass(ctx context.Context, placeID int64, body []byte) (res *Result, err error) {
	p, err := r.store.GetPlace(ctx, placeID)
	if err != nil {
		return nil, err
	}
	if !Allowed(p.State, EventOverpassDone) {
		return nil, &TransitionError{From: p.State, Event: EventOverpassDone}
	}
	rn := r.begin(ctx, p, string(model.StateOverpass))
	defer func() { rn.finish(err) }()
	return rn.recordOverpass(ctx, r.overpass.SavePlace(ctx, placeID, body))
}

func (rn *run) recordOverpass(ctx context.Context, queryErr error) (*Result, error) {
	var respErr *overpass.ResponseError
	switch {
	case queryErr == nil:
		if err := rn.step(ctx, EventOverpassDone, nil); err != nil {
			return nil, err
		}
		return rn.result("done"), nil
	case errors.Is(queryErr, overpass.ErrTimeout):
		rn.logger.Warn("Overpass timeout")
		if err := rn.event(ctx, EventOverpassTimeout, ""); err != nil {
			return nil, err
		}
		return rn.result("timeout"), nil
	case errors.As(queryErr, &respErr):
		rn.logger.Warn("Overpass error", "status", respErr.Status)
		if err := rn.event(ctx, EventOverpassError, respErr.Body); err != nil {
			return nil, err
		}
		res := rn.result("error")
		res.Error = respErr.Body
		return res, nil
	}
	return nil, queryErr
}

func (rn *run) event(ctx context.Context, ev Event, overpassError string) error {
	next, _, err := Transition(rn.place.State, ev)
	if err != nil {
		return err
	}
	return rn.commit(ctx, next, overpassError)
}

// OverpassTimeout records a timeout observed by the client.
func (r *Runner) OverpassTimeout(ctx context.Context, placeID int64) (*Result, error) {
	p, err := r.store.GetPlace(ctx, placeID)
	if err != nil {
		return nil, err
	}
	rn := r.begin(ctx, p, string(model.StateOverpassTimeout))
	if err := rn.event(ctx, EventOverpassTimeout, ""); err != nil {
		return nil, err
	}
	rn.logger.Info("Timeout noted")
	return rn.result("timeout noted"), nil
}

// LoadOSM2PGSQL loads the stored bulk reply into the place tables, unless
// they already exist.
func (r *Runner) LoadOSM2PGSQL(ctx context.Context, placeID int64) (res *Result, err error) {
	p, err := r.store.GetPlace(ctx, placeID)
	if err != nil {
		return nil, err
	}
	rn := r.begin(ctx, p, string(model.StateOSM2PGSQL))
	defer func() { rn.finish(err) }()

	if err := rn.step(ctx, EventLoadTables, rn.loadTables); err != nil {
		return nil, err
	}
	return rn.result("done"), nil
}

func (rn *run) loadTables(ctx context.Context) error {
	prefix := rn.place.Prefix()
	exists, err := rn.r.mapdata.TablesExist(ctx, prefix)
	if err != nil {
		return err
	}
	if exists {
		rn.logger.Debug("Tables present, skipping load", "prefix", prefix)
		return nil
	}
	elements, err := rn.r.overpass.LoadPlace(ctx, rn.place.PlaceID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoReply, err)
	}
	n, err := rn.r.mapdata.Load(ctx, prefix, elements)
	if err != nil {
		return fmt.Errorf("failed to load map data: %w", err)
	}
	rn.progress(fmt.Sprintf("loaded %d elements", n), n, len(elements))
	return nil
}

// Match evaluates every item with entity detail against the loaded map data.
// A failing item is logged and counted; it never aborts the stage.
func (r *Runner) Match(ctx context.Context, placeID int64) (res *Result, err error) {
	p, err := r.store.GetPlace(ctx, placeID)
	if err != nil {
		return nil, err
	}
	rn := r.begin(ctx, p, string(model.StateMatch))
	defer func() { rn.finish(err) }()

	var matched, failed, candidates int
	err = rn.step(ctx, EventMatch, func(ctx context.Context) error {
		items, err := r.store.PlaceItems(ctx, placeID)
		if err != nil {
			return err
		}
		var ready []*model.Item
		for _, item := range items {
			if item.HasEntity() {
				ready = append(ready, item)
			}
		}

		lookup := matcher.NewEndingLookup(r.types)
		locations := rn.locationNames(ctx, ready)
		for i, item := range ready {
			n, err := rn.matchItem(ctx, item, lookup, locations)
			if err != nil {
				failed++
				rn.logger.Warn("Item match failed", "item", item.QID(), "error", err)
				continue
			}
			if n > 0 {
				matched++
				candidates += n
				r.metrics.ObserveMatched()
			}
			rn.progress(item.QID(), i+1, len(ready))
		}
		rn.logger.Info("Matched items", "items", len(ready), "matched", matched, "failed", failed)
		return nil
	})
	if err != nil {
		return nil, err
	}
	res = rn.result("done")
	res.Items = matched
	res.Candidates = candidates
	res.Failed = failed
	return res, nil
}

// MatchItem re-runs matching for one item of the place.
func (r *Runner) MatchItem(ctx context.Context, placeID, itemID int64) (*Result, error) {
	p, err := r.store.GetPlace(ctx, placeID)
	if err != nil {
		return nil, err
	}
	item, err := r.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if !item.HasEntity() {
		return nil, fmt.Errorf("%s has no entity detail", item.QID())
	}
	rn := r.begin(ctx, p, string(model.StateMatch))
	items := []*model.Item{item}
	n, err := rn.matchItem(ctx, item, matcher.NewEndingLookup(r.types), rn.locationNames(ctx, items))
	if err != nil {
		return nil, err
	}
	res := rn.result("done")
	res.Candidates = n
	return res, nil
}

// locationNames fetches the names of every containing entity in one batch.
// Without them matching still works, only without location trimming.
func (rn *run) locationNames(ctx context.Context, items []*model.Item) map[string][]string {
	seen := make(map[string]bool)
	var ids []string
	for _, item := range items {
		for _, id := range item.Entity.LocatedIn() {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	ret := make(map[string][]string, len(ids))
	if len(ids) == 0 {
		return ret
	}
	entities, err := rn.r.kb.GetEntities(ctx, ids)
	if err != nil {
		rn.logger.Warn("Failed to load location names", "error", err)
		return ret
	}
	for id, e := range entities {
		set := make(map[string]bool)
		for _, l := range e.Labels {
			if !set[l] {
				set[l] = true
				ret[id] = append(ret[id], l)
			}
		}
		sort.Strings(ret[id])
	}
	return ret
}

func (rn *run) matchItem(ctx context.Context, item *model.Item, lookup *matcher.EndingLookup, locationNames map[string][]string) (int, error) {
	criteria := matcher.DeriveCriteria(item.Entity, nil, item.Tags)
	if len(criteria) == 0 {
		return 0, nil
	}
	lat, lon := item.Lat, item.Lon
	if elat, elon, ok := item.Entity.Coordinates(); ok {
		lat, lon = elat, elon
	} else if lat == 0 && lon == 0 {
		return 0, nil
	}

	elements, err := rn.r.mapdata.Nearby(ctx, rn.place.Prefix(), lat, lon, rn.limits.Radius, criteria)
	if err != nil {
		return 0, err
	}
	if len(elements) == 0 {
		return 0, nil
	}

	var locs []string
	for _, id := range item.Entity.LocatedIn() {
		locs = append(locs, locationNames[id]...)
	}
	subject := matcher.Subject{
		Names:     matcher.EntityNames(item.Entity, locs),
		Endings:   lookup.Endings(criteria, item.Categories),
		Locations: locs,
	}
	centre := &model.Item{ItemID: item.ItemID, Lat: lat, Lon: lon}
	cands := matcher.Candidates(centre, subject, elements)
	if len(cands) == 0 {
		return 0, nil
	}

	err = rn.r.store.WithTx(ctx, func(tx store.Store) error {
		for _, c := range cands {
			if err := tx.UpsertCandidate(ctx, c); err != nil {
				return fmt.Errorf("failed to save candidate %s: %w", c.Key(), err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(cands), nil
}

// Ready recomputes the counters and marks the place ready.
func (r *Runner) Ready(ctx context.Context, placeID int64) (res *Result, err error) {
	p, err := r.store.GetPlace(ctx, placeID)
	if err != nil {
		return nil, err
	}
	rn := r.begin(ctx, p, string(model.StateReady))
	defer func() { rn.finish(err) }()

	var items, candidates int
	err = rn.step(ctx, EventReady, func(ctx context.Context) error {
		var err error
		items, candidates, err = r.store.RecountPlace(ctx, placeID)
		return err
	})
	if err != nil {
		return nil, err
	}
	res = rn.result("done")
	res.Items = items
	res.Candidates = candidates
	return res, nil
}

// Refresh discards the stored spatial reply and map data and resets the
// place so the next run starts over.
func (r *Runner) Refresh(ctx context.Context, placeID int64) (*Result, error) {
	p, err := r.store.GetPlace(ctx, placeID)
	if err != nil {
		return nil, err
	}
	rn := r.begin(ctx, p, string(model.StateRefresh))
	if err := r.overpass.DropPlace(placeID); err != nil {
		return nil, fmt.Errorf("failed to drop overpass reply: %w", err)
	}
	if err := r.mapdata.Drop(ctx, p.Prefix()); err != nil {
		return nil, fmt.Errorf("failed to drop map data: %w", err)
	}
	if err := rn.event(ctx, EventRefresh, ""); err != nil {
		return nil, err
	}
	rn.logger.Info("Place refreshed")
	return rn.result("refreshed"), nil
}
