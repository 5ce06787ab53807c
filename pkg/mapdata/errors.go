package mapdata

import (
	"errors"
	"fmt"
)

// ErrMissingTables is returned when a place has no loaded map data.
var ErrMissingTables = errors.New("map data tables missing")

// SQLError wraps a failed statement.
type SQLError struct {
	Query string
	Err   error
}

func (e *SQLError) Error() string {
	return fmt.Sprintf("SQL Error: %s in query %s", e.Err, e.Query)
}

func (e *SQLError) Unwrap() error {
	return e.Err
}
