package upload

import "errors"

var (
	// ErrNoPairs is returned when an upload has nothing to do.
	ErrNoPairs = errors.New("no confirmed matches to upload")
	// ErrNoEditNeeded is returned by AddSingleTag when the element already has a wikidata tag.
	ErrNoEditNeeded = errors.New("no edit needed: OSM element already had wikidata tag")
	// ErrEditsPaused is returned while uploads are switched off at runtime.
	ErrEditsPaused = errors.New("edits are paused")
)
