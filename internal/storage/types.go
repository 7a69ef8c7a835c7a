package storage

import "errors"

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// TimestampLayout is the canonical wire format for every timestamp column:
// RFC 3339 in UTC. RFC 3339 strings sort lexicographically in time order, so
// ORDER BY on these columns is chronological in both engines.
const TimestampLayout = "2006-01-02T15:04:05Z07:00"

// DayLayout is the format of token_usage day keys.
const DayLayout = "2006-01-02"
