// Package engineerr defines the closed error taxonomy shared by every
// component of the generative table execution core. Callers classify a
// failure by wrapping one of the sentinel values below with fmt.Errorf's
// %w verb; callers test for a category with errors.Is, never by string
// matching.
package engineerr

import "errors"

var (
	// ErrBadInput covers schema validation failures: unknown column
	// references, reference cycles, malformed requests, row-count limits.
	ErrBadInput = errors.New("bad input")

	// ErrUpgradeTier is raised when an organization's plan tier lacks a
	// capability (not merely a balance), e.g. multi_turn chat tables.
	ErrUpgradeTier = errors.New("upgrade tier required")

	// ErrInsufficientCredits is raised when both the monthly grant and
	// pay-as-you-go overage for a quota category are exhausted.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrNotFound covers missing tables, rows, columns, or knowledge bases.
	ErrNotFound = errors.New("not found")

	// ErrConflict covers schema or row mutations that collide with an
	// invariant or a concurrent writer.
	ErrConflict = errors.New("conflict")

	// ErrCancelled marks graceful request cancellation. It is never
	// surfaced to the client as a terminal error event; it suppresses the
	// [DONE] marker instead.
	ErrCancelled = errors.New("cancelled")

	// ErrInternal covers faults outside single-cell granularity: storage
	// write failures, panics recovered from a dispatcher, programmer
	// errors. Where such a fault is confined to one cell, generators wrap
	// it in a CellError instead of terminating the request.
	ErrInternal = errors.New("internal error")
)

// CellError is a fatal, cell-scoped failure recorded into a column's state
// entry. It never aborts sibling columns at the same DAG level; it only
// marks strict downstream dependents as skipped.
type CellError struct {
	Column string
	Cause  error
}

func (e *CellError) Error() string {
	return "column " + e.Column + ": " + e.Cause.Error()
}

func (e *CellError) Unwrap() error {
	return e.Cause
}

// NewCellError wraps cause as a CellError for the named column.
func NewCellError(column string, cause error) *CellError {
	return &CellError{Column: column, Cause: cause}
}

// SkippedError marks a column whose execution was skipped because a
// column it depends on failed.
type SkippedError struct {
	Column        string
	FailedUpstream string
}

func (e *SkippedError) Error() string {
	return "upstream column " + e.FailedUpstream + " failed"
}

// NewSkippedError reports column as skipped due to a failure in upstream.
func NewSkippedError(column, upstream string) *SkippedError {
	return &SkippedError{Column: column, FailedUpstream: upstream}
}
