package acquisition

import (
	"errors"
	"fmt"
)

// ErrInsufficientData is reported when no source produced a single event.
var ErrInsufficientData = errors.New("insufficient data: no events available")

// ProviderFetchError describes one failed provider call. It is logged and
// absorbed; it never escapes Acquire.
type ProviderFetchError struct {
	Op        string
	Sport     string
	Bookmaker string
	Err       error
}

func (e *ProviderFetchError) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.Sport, e.Bookmaker, e.Err)
}

func (e *ProviderFetchError) Unwrap() error { return e.Err }
