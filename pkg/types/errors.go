package types

import "errors"

// Domain errors for type validation
var (
	ErrInvalidSimilarity = errors.New("similarity must be between -1 and 1")
	ErrEmptyContent      = errors.New("content cannot be empty")

	// ErrMalformedRow marks a stored row whose serialized fields cannot be decoded
	ErrMalformedRow = errors.New("malformed stored row")
)

// SearchError is returned when a search cannot produce any result set
type SearchError struct {
	Op  string
	Err error
}

func (e *SearchError) Error() string {
	return "search failed: " + e.Err.Error()
}

func (e *SearchError) Unwrap() error { return e.Err }
