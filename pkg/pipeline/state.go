package pipeline

import "github.com/tilmanb/osm-wikidata/pkg/model"

// Event is a request to move a place to its next stage.
type Event string

const (
	EventLoadItems       Event = "load_items"
	EventDeriveTags      Event = "derive_tags"
	EventFetchEntities   Event = "fetch_entities"
	EventOverpassDone    Event = "overpass_done"
	EventOverpassTimeout Event = "overpass_timeout"
	EventOverpassError   Event = "overpass_error"
	EventLoadTables      Event = "load_tables"
	EventMatch           Event = "match"
	EventReady           Event = "ready"
	EventRefresh         Event = "refresh"
)

// Action is the work a runner performs before committing the new state.
type Action string

const (
	ActionNone          Action = ""
	ActionLoadItems     Action = "load_items"
	ActionDeriveTags    Action = "derive_tags"
	ActionFetchEntities Action = "fetch_entities"
	ActionLoadTables    Action = "load_tables"
	ActionMatch         Action = "match"
	ActionRecount       Action = "recount"
	ActionDropData      Action = "drop_data"
)

type edge struct {
	from  model.State
	event Event
}

type target struct {
	to     model.State
	action Action
}

var overpassSources = []model.State{model.StateTags, model.StateWbgetentities, model.StateOverpass}

var transitions = func() map[edge]target {
	t := map[edge]target{
		{model.StateNone, EventLoadItems}:         {model.StateWikipedia, ActionLoadItems},
		{model.StateRefresh, EventLoadItems}:      {model.StateWikipedia, ActionLoadItems},
		{model.StateWikipedia, EventDeriveTags}:   {model.StateTags, ActionDeriveTags},
		{model.StateTags, EventFetchEntities}:     {model.StateWbgetentities, ActionFetchEntities},
		{model.StateOverpass, EventLoadTables}:    {model.StateOSM2PGSQL, ActionLoadTables},
		{model.StateOSM2PGSQL, EventLoadTables}:   {model.StateOSM2PGSQL, ActionLoadTables},
		{model.StateOSM2PGSQL, EventMatch}:        {model.StateMatch, ActionMatch},
		{model.StateMatch, EventMatch}:            {model.StateMatch, ActionMatch},
		{model.StateMatch, EventReady}:            {model.StateReady, ActionRecount},
		{model.StateReady, EventReady}:            {model.StateReady, ActionRecount},
	}
	for _, from := range overpassSources {
		t[edge{from, EventOverpassDone}] = target{model.StateOverpass, ActionNone}
		t[edge{from, EventOverpassTimeout}] = target{model.StateOverpassTimeout, ActionNone}
		t[edge{from, EventOverpassError}] = target{model.StateOverpassError, ActionNone}
	}
	return t
}()

// Transition returns the state reached by applying ev in state from, and the
// action to run first. Refresh is accepted in every state; anything else not
// in the stage ordering is a TransitionError. Transition has no side effects.
func Transition(from model.State, ev Event) (model.State, Action, error) {
	if ev == EventRefresh {
		return model.StateRefresh, ActionDropData, nil
	}
	t, ok := transitions[edge{from, ev}]
	if !ok {
		return from, ActionNone, &TransitionError{From: from, Event: ev}
	}
	return t.to, t.action, nil
}

// Allowed reports whether ev may be applied in state from.
func Allowed(from model.State, ev Event) bool {
	_, _, err := Transition(from, ev)
	return err == nil
}

// Order is the position of a state in the stage sequence. The overpass
// failure states share the position of overpass.
func Order(s model.State) int {
	switch s {
	case model.StateNone, model.StateRefresh:
		return 0
	case model.StateWikipedia:
		return 1
	case model.StateTags:
		return 2
	case model.StateWbgetentities:
		return 3
	case model.StateOverpass, model.StateOverpassError, model.StateOverpassTimeout:
		return 4
	case model.StateOSM2PGSQL:
		return 5
	case model.StateMatch:
		return 6
	case model.StateReady:
		return 7
	}
	return -1
}
