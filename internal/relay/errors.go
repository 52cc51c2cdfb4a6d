package relay

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected = errors.New("upstream connection is not open")
	ErrClosed       = errors.New("relay closed")
)

// ConfigurationError reports missing or invalid settings detected at connect time.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("relay configuration: %s %s", e.Field, e.Reason)
}

// ValidationError reports a bad injection request. Nothing is sent upstream
// when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
