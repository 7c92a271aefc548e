package odds

import "fmt"

// InvalidOddsError reports a price that cannot be interpreted as odds.
type InvalidOddsError struct {
	Value  string
	Reason string
}

func (e *InvalidOddsError) Error() string {
	return fmt.Sprintf("invalid odds %q: %s", e.Value, e.Reason)
}

// InvalidInputError reports an argument that is structurally unusable.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}
