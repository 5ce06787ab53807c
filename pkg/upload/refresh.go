package upload

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tilmanb/osm-wikidata/pkg/model"
)

// TagSource fetches current tags for a set of elements.
type TagSource interface {
	Tags(ctx context.Context, keys []model.ElementKey) ([]model.Element, error)
}

// CandidateStore is the persistence RefreshTags needs.
type CandidateStore interface {
	PlaceCandidates(ctx context.Context, placeID int64) (map[int64][]*model.Candidate, error)
	UpdateCandidateTags(ctx context.Context, itemID int64, key model.ElementKey, tags model.Tags) error
}

// RefreshTags re-reads the tags of every candidate of a place so the review
// page shows elements tagged elsewhere since the match ran. It returns the
// number of candidates whose tags were replaced.
func RefreshTags(ctx context.Context, src TagSource, s CandidateStore, placeID int64, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	byItem, err := s.PlaceCandidates(ctx, placeID)
	if err != nil {
		return 0, err
	}

	owners := make(map[model.ElementKey][]int64)
	var keys []model.ElementKey
	for itemID, cands := range byItem {
		for _, c := range cands {
			k := c.Key()
			if _, seen := owners[k]; !seen {
				keys = append(keys, k)
			}
			owners[k] = append(owners[k], itemID)
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}

	elements, err := src.Tags(ctx, keys)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch tags for place %d: %w", placeID, err)
	}

	updated := 0
	for i := range elements {
		el := &elements[i]
		for _, itemID := range owners[el.Key()] {
			if err := s.UpdateCandidateTags(ctx, itemID, el.Key(), model.Tags(el.Tags)); err != nil {
				return updated, err
			}
			updated++
		}
	}
	logger.Debug("Refreshed candidate tags", "place_id", placeID, "elements", len(elements), "updated", updated)
	return updated, nil
}
