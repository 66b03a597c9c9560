package selector

import (
	"fmt"
	"strings"
)

// ResolutionError is returned when a selector cannot be parsed or
// evaluated. Zero matches is not a ResolutionError.
type ResolutionError struct {
	Selector string
	Kind     Kind
	Reason   string
	Err      error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("resolve %s selector %q: %s", e.Kind, e.Selector, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Resolution builds a ResolutionError for c.
func Resolution(c Candidate, format string, args ...any) *ResolutionError {
	return &ResolutionError{Selector: c.Value, Kind: c.Kind, Reason: fmt.Sprintf(format, args...)}
}

// PersistenceError reports a failed profile flush. It never reaches
// RecordOutcome callers.
type PersistenceError struct {
	Op      string
	Domains []string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s [%s]: %v", e.Op, strings.Join(e.Domains, ","), e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
