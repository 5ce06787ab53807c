package overpass

import (
	"errors"
	"strconv"
)

var (
	// ErrRateLimited is returned when the server answers 429.
	ErrRateLimited = errors.New("overpass rate limited")
	// ErrTimeout is returned when the query ran past the server-side timeout.
	ErrTimeout = errors.New("overpass timeout")
)

// ResponseError carries the raw text of an error reply so it can be shown to users.
type ResponseError struct {
	Status int
	Body   string
}

func (e *ResponseError) Error() string {
	if e.Status != 0 {
		return "overpass error: status " + strconv.Itoa(e.Status)
	}
	return "overpass error: malformed response"
}
