package tracestore

import "errors"

// ErrNotFound is returned when a requested run does not exist.
var ErrNotFound = errors.New("tracestore: not found")

// ErrUnknownField is returned by UpdateRunField for a field name that is not
// an updatable run column.
var ErrUnknownField = errors.New("tracestore: unknown run field")
