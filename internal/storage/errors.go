package storage

import (
	"errors"
	"fmt"
)

// ErrNoRows is returned by Row.Scan when a single-row query matched nothing.
// Both adapters translate their driver's native sentinel into this one.
var ErrNoRows = errors.New("storage: no rows")

// ConfigError reports invalid storage parameters. It is fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("storage: invalid %s: %s", e.Field, e.Reason)
}
