package ir

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an invalid flow definition detected before any
// run starts: a malformed trigger condition, a duplicate or unknown method,
// or a structured state schema without an identity field.
type ConfigurationError struct {
	Flow    string
	Method  string
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	switch {
	case e.Flow != "" && e.Method != "":
		return fmt.Sprintf("configuration error: %s (flow=%s, method=%s)", e.Message, e.Flow, e.Method)
	case e.Flow != "":
		return fmt.Sprintf("configuration error: %s (flow=%s)", e.Message, e.Flow)
	default:
		return "configuration error: " + e.Message
	}
}

// IsConfigurationError returns true if err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
