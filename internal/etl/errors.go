package etl

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds surfaced by a load run. Concrete errors wrap one of these so
// callers can classify failures with errors.Is.
var (
	ErrFetch                = errors.New("fetch failure")
	ErrParse                = errors.New("parse failure")
	ErrUnresolvedForeignKey = errors.New("unresolved foreign key")
	ErrWrite                = errors.New("write failure")
)

// ParseError reports a raw field that could not be normalized.
type ParseError struct {
	EntryID int64
	Field   string
	Value   string
	Err     error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("record %d: field %s: cannot parse %q", e.EntryID, e.Field, e.Value)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrParse}
	}
	return []error{ErrParse, e.Err}
}

// Unresolved describes one row whose natural key had no dimension match.
type Unresolved struct {
	Table     string // table the row was destined for
	Dimension string // dimension table that was consulted
	Key       string // natural key that failed to resolve
	RowKey    Key
}

func (u Unresolved) String() string {
	return fmt.Sprintf("%s -> %s[%s]", u.Table, u.Dimension, u.Key)
}

// UnresolvedError is returned in strict mode when any row was rejected
// because a foreign key could not be resolved.
type UnresolvedError struct {
	Rows []Unresolved
}

func (e *UnresolvedError) Error() string {
	const maxShown = 5
	parts := make([]string, 0, maxShown)
	for i, u := range e.Rows {
		if i == maxShown {
			parts = append(parts, fmt.Sprintf("... %d more", len(e.Rows)-maxShown))
			break
		}
		parts = append(parts, u.String())
	}
	return fmt.Sprintf("%d row(s) with unresolved foreign keys: %s", len(e.Rows), strings.Join(parts, ", "))
}

func (e *UnresolvedError) Unwrap() error { return ErrUnresolvedForeignKey }

// StageError wraps a failure with the pipeline stage it occurred in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// writeError marks err as a WriteFailure while keeping the underlying cause.
type writeError struct {
	table string
	err   error
}

func (e *writeError) Error() string {
	return fmt.Sprintf("appending to %s: %v", e.table, e.err)
}

func (e *writeError) Unwrap() []error { return []error{ErrWrite, e.err} }

// fetchError marks err as a FetchFailure while keeping the underlying cause.
type fetchError struct {
	what string
	err  error
}

func (e *fetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.what, e.err)
}

func (e *fetchError) Unwrap() []error { return []error{ErrFetch, e.err} }
