package onah

import "fmt"

// LocationError reports a location that cannot be used for astronomical
// calculations.
type LocationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *LocationError) Error() string {
	return fmt.Sprintf("invalid location %s %q: %s", e.Field, e.Value, e.Reason)
}
