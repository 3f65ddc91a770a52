package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedDataType is returned when an aggregation meets a DataType it
// has no reduction for.
var ErrUnsupportedDataType = errors.New("unsupported data type")

// maxReportedKeys caps how many offending keys an error message lists. The
// error value itself keeps all of them.
const maxReportedKeys = 5

// FormatError reports a malformed pathname or composite label.
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed %q: %s", e.Input, e.Reason)
}

// MissingPartError reports pathname parts that could not be resolved from a
// row or the supplied overrides.
type MissingPartError struct {
	Parts []Level
}

func (e *MissingPartError) Error() string {
	names := make([]string, len(e.Parts))
	for i, p := range e.Parts {
		names[i] = string(p)
	}
	return fmt.Sprintf("cannot build pathname: no value for %s; supply them as overrides", strings.Join(names, ", "))
}

// UnrecognizedFormatError reports a table that does not satisfy the layout an
// operation requires. Want is ShapeUnknown when no layout matched at all.
type UnrecognizedFormatError struct {
	Want   Shape
	Reason string
}

func (e *UnrecognizedFormatError) Error() string {
	if e.Want == ShapeUnknown {
		return "table matches no recognized format: " + e.Reason
	}
	return fmt.Sprintf("table is not in %s format: %s", e.Want, e.Reason)
}

// DuplicateKeyError reports tidy rows sharing a key, or pivoted tables with
// repeated column labels or index timestamps. Keys lists every offender.
type DuplicateKeyError struct {
	Shape Shape
	What  string // "rows", "column labels" or "index timestamps"
	Keys  []string
}

func (e *DuplicateKeyError) Error() string {
	shown := e.Keys
	suffix := ""
	if len(shown) > maxReportedKeys {
		shown = shown[:maxReportedKeys]
		suffix = fmt.Sprintf(" (and %d more)", len(e.Keys)-maxReportedKeys)
	}
	return fmt.Sprintf("%s table contains duplicate %s: %s%s", e.Shape, e.What, strings.Join(shown, "; "), suffix)
}

// PartConflictError reports an override that contradicts the constant a
// condense table recorded when the part was dropped.
type PartConflictError struct {
	Part     Level
	Elided   string
	Override string
}

func (e *PartConflictError) Error() string {
	return fmt.Sprintf("override %s=%q conflicts with elided value %q", e.Part, e.Override, e.Elided)
}
