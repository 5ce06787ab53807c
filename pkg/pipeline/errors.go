package pipeline

import (
	"errors"
	"fmt"

	"github.com/tilmanb/osm-wikidata/pkg/model"
)

var (
	// ErrAreaTooLarge is returned for places bigger than the configured limit.
	ErrAreaTooLarge = errors.New("area is too large for matcher")
	// ErrNoReply is returned when the map data stage runs before a spatial reply is stored.
	ErrNoReply = errors.New("no overpass reply stored")
)

// TransitionError reports an event that is not allowed in the current state.
type TransitionError struct {
	From  model.State
	Event Event
}

func (e *TransitionError) Error() string {
	from := string(e.From)
	if from == "" {
		from = "null"
	}
	return fmt.Sprintf("invalid transition: %s in state %s", e.Event, from)
}

// ErrInvalidTransition matches any TransitionError with errors.Is.
var ErrInvalidTransition = errors.New("invalid transition")

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
