package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tilmanb/osm-wikidata/pkg/matcher"
	"github.com/tilmanb/osm-wikidata/pkg/model"
	"github.com/tilmanb/osm-wikidata/pkg/osmapi"
	"github.com/tilmanb/osm-wikidata/pkg/store"
	"github.com/tilmanb/osm-wikidata/pkg/tracker"
)

// WikidataTag is the correlation tag written to elements.
const WikidataTag = "wikidata"

// EditAPI is the part of the map edit API an upload needs.
type EditAPI interface {
	CreateChangeset(ctx context.Context, comment string) (int64, error)
	GetElement(ctx context.Context, key model.ElementKey) (*osmapi.Element, error)
	UpdateElement(ctx context.Context, el *osmapi.Element) (int, error)
	CloseChangeset(ctx context.Context, id int64) error
}

// Store is the persistence an upload needs.
type Store interface {
	UpdateCandidateTags(ctx context.Context, itemID int64, key model.ElementKey, tags model.Tags) error
	SaveChangeset(ctx context.Context, cs *model.Changeset) error
}

var _ Store = (store.Store)(nil)

// Settings reports whether uploads are switched off.
type Settings interface {
	EditsPaused(ctx context.Context) bool
}

// Request is one confirmed upload. Exactly one of PlaceID and ItemID is set.
type Request struct {
	PlaceID *int64
	ItemID  *int64
	Pairs   []matcher.Pair
	Comment string
	User    string
}

// ElementResult reports the outcome for one pair.
type ElementResult struct {
	Item    string           `json:"item"`
	Key     model.ElementKey `json:"element"`
	Outcome Outcome          `json:"outcome"`
	Version int              `json:"version,omitempty"`
	Error   string           `json:"error,omitempty"`

	// StoreError is set when the element was updated but its stored
	// candidate tags could not be refreshed.
	StoreError string `json:"store_error,omitempty"`
}

// Report is the result of an upload.
type Report struct {
	ChangesetID int64           `json:"changeset_id"`
	UpdateCount int             `json:"update_count"`
	Elements    []ElementResult `json:"elements"`
	StaleTags   int             `json:"stale_tags,omitempty"` // updated elements whose stored tags are out of date
}

// Workflow uploads confirmed matches in one changeset.
type Workflow struct {
	api     EditAPI
	store   Store
	metrics *tracker.Metrics
	logger  *slog.Logger
	now     func() time.Time

	// Settings, when set, can pause all uploads.
	Settings Settings
}

// New creates an upload workflow. metrics may be nil.
func New(api EditAPI, s Store, metrics *tracker.Metrics, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		api:     api,
		store:   s,
		metrics: metrics,
		logger:  logger.With("component", "upload"),
		now:     time.Now,
	}
}

// Run opens a changeset, tags every pair it can and closes the changeset.
// Each successful element is committed locally straight away. Elements that
// are already tagged, deleted or empty are skipped. A protocol violation
// stops the loop; the changeset is still closed and recorded with the
// updates made so far, and the ProtocolError is returned with the report.
func (w *Workflow) Run(ctx context.Context, req Request) (*Report, error) {
	if len(req.Pairs) == 0 {
		return nil, ErrNoPairs
	}
	if w.paused(ctx) {
		return nil, ErrEditsPaused
	}

	csID, err := w.api.CreateChangeset(ctx, req.Comment)
	if err != nil {
		return nil, fmt.Errorf("failed to open changeset: %w", err)
	}
	logger := w.logger.With("changeset", csID)
	report := &Report{ChangesetID: csID, Elements: make([]ElementResult, 0, len(req.Pairs))}

	var fatal error
	for _, pair := range req.Pairs {
		if fatal != nil {
			report.Elements = append(report.Elements, ElementResult{
				Item: pair.Item.QID(), Key: pair.Candidate.Key(), Outcome: NotAttempted,
			})
			continue
		}

		res, err := w.apply(ctx, csID, pair)
		if err != nil {
			res.Error = err.Error()
		}
		report.Elements = append(report.Elements, res)
		w.metrics.ObserveUpload(string(res.Outcome))

		switch res.Outcome {
		case Updated:
			report.UpdateCount++
			if res.StoreError != "" {
				report.StaleTags++
				logger.Warn("Stored candidate tags are stale", "element", res.Key, "error", res.StoreError)
			}
		case Fatal:
			logger.Error("Edit API protocol violation, stopping upload", "element", res.Key, "error", err)
			fatal = err
		case RetryLater:
			logger.Warn("Element update failed", "element", res.Key, "error", err)
		default:
			logger.Debug("Element skipped", "element", res.Key, "outcome", res.Outcome)
		}
	}

	closeErr := w.api.CloseChangeset(ctx, csID)
	if closeErr != nil {
		logger.Error("Failed to close changeset", "error", closeErr)
	}

	cs := &model.Changeset{
		ID:          csID,
		PlaceID:     req.PlaceID,
		ItemID:      req.ItemID,
		Created:     w.now().UTC(),
		Comment:     req.Comment,
		UpdateCount: report.UpdateCount,
		UserID:      req.User,
	}
	if err := w.store.SaveChangeset(ctx, cs); err != nil {
		return report, fmt.Errorf("failed to record changeset %d: %w", csID, err)
	}
	logger.Info("Upload finished", "updated", report.UpdateCount, "pairs", len(req.Pairs))

	if fatal != nil {
		return report, fatal
	}
	if closeErr != nil {
		return report, closeErr
	}
	return report, nil
}

func (w *Workflow) apply(ctx context.Context, csID int64, pair matcher.Pair) (ElementResult, error) {
	qid := pair.Item.QID()
	key := pair.Candidate.Key()
	res := ElementResult{Item: qid, Key: key}

	el, err := w.api.GetElement(ctx, key)
	switch {
	case errors.Is(err, osmapi.ErrGone):
		res.Outcome = SkippedGone
		return res, nil
	case errors.Is(err, osmapi.ErrEmpty):
		res.Outcome = SkippedEmpty
		return res, nil
	case err != nil:
		res.Outcome = RetryLater
		return res, err
	}

	if el.HasTag(WikidataTag) {
		res.Outcome = SkippedTagged
		return res, nil
	}

	el.SetTag(WikidataTag, qid)
	el.SetChangeset(csID)
	version, err := w.api.UpdateElement(ctx, el)
	if err != nil {
		if osmapi.IsProtocolError(err) {
			res.Outcome = Fatal
		} else {
			res.Outcome = RetryLater
		}
		return res, err
	}
	res.Version = version

	// The edit is live; a failing local write is reported next to it.
	// Elements tagged from the item page may have no stored candidate.
	err = w.store.UpdateCandidateTags(ctx, pair.Item.ItemID, key, model.Tags(el.Tags()))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		res.StoreError = err.Error()
	}
	res.Outcome = Updated
	return res, nil
}

// AddSingleTag tags one element from the item page in its own changeset.
// It returns ErrNoEditNeeded without opening a changeset when the element
// already carries a wikidata tag.
func (w *Workflow) AddSingleTag(ctx context.Context, item *model.Item, key model.ElementKey, user string) (*Report, error) {
	if w.paused(ctx) {
		return nil, ErrEditsPaused
	}
	el, err := w.api.GetElement(ctx, key)
	if err != nil {
		return nil, err
	}
	if el.HasTag(WikidataTag) {
		return nil, ErrNoEditNeeded
	}

	itemID := item.ItemID
	return w.Run(ctx, Request{
		ItemID:  &itemID,
		Pairs:   []matcher.Pair{{Item: item, Candidate: &model.Candidate{ItemID: itemID, OSMType: key.Type, OSMID: key.ID}}},
		Comment: "add wikidata tag",
		User:    user,
	})
}

func (w *Workflow) paused(ctx context.Context) bool {
	return w.Settings != nil && w.Settings.EditsPaused(ctx)
}
