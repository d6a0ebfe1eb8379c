package param

import "fmt"

// ValidationError reports a configuration or parameter space that violates its schema.
type ValidationError struct {
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Param == "" {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error: %s: %s", e.Param, e.Reason)
}
