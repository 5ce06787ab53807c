package wikidata

import (
	"errors"
	"fmt"
)

var (
	// ErrParse indicates a failure to parse the response.
	ErrParse = errors.New("wikidata parse error")
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("wikidata entity not found")
)

// QueryError wraps a failed call to the query service. Pipeline stages abort on it.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("wikidata %s: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func queryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &QueryError{Op: op, Err: err}
}
