package osmapi

import (
	"errors"
	"fmt"
)

var (
	// ErrGone is returned when the element has been deleted (HTTP 410).
	ErrGone = errors.New("element deleted")
	// ErrEmpty is returned when the element fetch returned no body.
	ErrEmpty = errors.New("empty element response")
)

// ProtocolError means the edit API answered a write with something other than
// a numeric token. The upload can not continue safely.
type ProtocolError struct {
	Op   string
	Body string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("osm api %s: unexpected response %q", e.Op, e.Body)
}
