package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	wideLevelSet = []Level{LevelSource, LevelLocation, LevelCategory, LevelInterval, LevelScenario, LevelUnits, LevelDataType}

	// condenseLevelOrder is the canonical level order of a condense table;
	// any subset containing Location and Units & Type is valid.
	condenseLevelOrder = []Level{LevelStudy, LevelSource, LevelLocation, LevelCategory, LevelInterval, LevelScenario, LevelUnitsType}
)

// WideLevels returns the wide label levels in canonical order.
func WideLevels(withStudy bool) []Level {
	levels := make([]Level, 0, len(wideLevelSet)+1)
	if withStudy {
		levels = append(levels, LevelStudy)
	}
	return append(levels, wideLevelSet...)
}

// IsTidy reports whether t satisfies the tidy layout.
func IsTidy(t *TidyTable) bool { return ValidateTidy(t) == nil }

// IsWide reports whether t satisfies the wide layout.
func IsWide(t *WideTable) bool { return ValidateWide(t) == nil }

// IsCondense reports whether t satisfies the condense layout.
func IsCondense(t *CondenseTable) bool { return ValidateCondense(t) == nil }

// ValidateTidy explains the first violation of the tidy layout. Duplicate
// keys are reported as a *DuplicateKeyError listing every offending row; a
// wrong column set as an *UnrecognizedFormatError.
func ValidateTidy(t *TidyTable) error {
	if t == nil {
		return &UnrecognizedFormatError{Want: ShapeTidy, Reason: "table is nil"}
	}
	want := TidyColumns(t.HasStudy())
	if !sameStrings(t.Columns, want) {
		return &UnrecognizedFormatError{
			Want:   ShapeTidy,
			Reason: fmt.Sprintf("columns %v do not match %v", t.Columns, want),
		}
	}

	hasStudy := t.HasStudy()
	counts := make(map[tidyKey]int, len(t.Rows))
	for _, r := range t.Rows {
		counts[keyOf(r, hasStudy)]++
	}
	var dups []string
	for i, r := range t.Rows {
		if counts[keyOf(r, hasStudy)] > 1 {
			dups = append(dups, fmt.Sprintf("row %d: %s", i, describeRow(r, hasStudy)))
		}
	}
	if len(dups) > 0 {
		return &DuplicateKeyError{Shape: ShapeTidy, What: "rows", Keys: dups}
	}
	return nil
}

// ValidateWide explains the first violation of the wide layout.
func ValidateWide(t *WideTable) error {
	if t == nil {
		return &UnrecognizedFormatError{Want: ShapeWide, Reason: "table is nil"}
	}
	want := WideLevels(t.LevelIndex(LevelStudy) >= 0)
	if !sameLevels(t.Levels, want) {
		return &UnrecognizedFormatError{
			Want:   ShapeWide,
			Reason: fmt.Sprintf("label levels %v do not match %v", t.Levels, want),
		}
	}
	return validatePivot(&t.Pivot, ShapeWide)
}

// ValidateCondense explains the first violation of the condense layout.
func ValidateCondense(t *CondenseTable) error {
	if t == nil {
		return &UnrecognizedFormatError{Want: ShapeCondense, Reason: "table is nil"}
	}
	allowed := make(map[Level]bool, len(condenseLevelOrder))
	for _, l := range condenseLevelOrder {
		allowed[l] = true
	}
	seen := make(map[Level]bool, len(t.Levels))
	for _, l := range t.Levels {
		if !allowed[l] || seen[l] {
			return &UnrecognizedFormatError{
				Want:   ShapeCondense,
				Reason: fmt.Sprintf("label levels %v are not a subset of %v", t.Levels, condenseLevelOrder),
			}
		}
		seen[l] = true
	}
	if !seen[LevelLocation] || !seen[LevelUnitsType] {
		return &UnrecognizedFormatError{
			Want:   ShapeCondense,
			Reason: fmt.Sprintf("label levels %v must include %s and %s", t.Levels, LevelLocation, LevelUnitsType),
		}
	}
	return validatePivot(&t.Pivot, ShapeCondense)
}

// DetectShape validates t against the layout its type claims and returns it.
// Anything that fails is reported as an *UnrecognizedFormatError, except
// duplicate keys which keep their *DuplicateKeyError.
func DetectShape(t Table) (Shape, error) {
	var err error
	switch tt := t.(type) {
	case *TidyTable:
		err = ValidateTidy(tt)
	case *WideTable:
		err = ValidateWide(tt)
	case *CondenseTable:
		err = ValidateCondense(tt)
	case nil:
		return ShapeUnknown, &UnrecognizedFormatError{Reason: "table is nil"}
	default:
		return ShapeUnknown, &UnrecognizedFormatError{Reason: fmt.Sprintf("unsupported table type %T", t)}
	}
	if err != nil {
		return ShapeUnknown, err
	}
	return t.Shape(), nil
}

func validatePivot(p *Pivot, shape Shape) error {
	for i, c := range p.Columns {
		if len(c.Label) != len(p.Levels) {
			return &UnrecognizedFormatError{
				Want:   shape,
				Reason: fmt.Sprintf("column %d has %d label values for %d levels", i, len(c.Label), len(p.Levels)),
			}
		}
		if len(c.Cells) != len(p.Index) {
			return &UnrecognizedFormatError{
				Want:   shape,
				Reason: fmt.Sprintf("column %d has %d cells for %d index entries", i, len(c.Cells), len(p.Index)),
			}
		}
	}

	labels := make(map[string]int, len(p.Columns))
	for _, c := range p.Columns {
		labels[labelKey(c.Label)]++
	}
	var dups []string
	for _, c := range p.Columns {
		if labels[labelKey(c.Label)] > 1 {
			dups = append(dups, "("+strings.Join(c.Label, ", ")+")")
		}
	}
	if len(dups) > 0 {
		return &DuplicateKeyError{Shape: shape, What: "column labels", Keys: dups}
	}

	stamps := make(map[int64]int, len(p.Index))
	for _, ts := range p.Index {
		stamps[ts.UnixNano()]++
	}
	for _, ts := range p.Index {
		if stamps[ts.UnixNano()] > 1 {
			dups = append(dups, ts.Format(time.RFC3339))
		}
	}
	if len(dups) > 0 {
		return &DuplicateKeyError{Shape: shape, What: "index timestamps", Keys: dups}
	}
	return nil
}

type tidyKey struct {
	study    string
	pathname string
	units    string
	dataType string
	ts       int64
}

func keyOf(r Row, hasStudy bool) tidyKey {
	k := tidyKey{pathname: r.Pathname, units: r.Units, dataType: r.DataType, ts: r.Timestamp.UnixNano()}
	if hasStudy {
		k.study = r.Study
	}
	return k
}

func describeRow(r Row, hasStudy bool) string {
	s := fmt.Sprintf("%s %s %s %s", r.Timestamp.Format(time.RFC3339), r.Pathname, r.Units, r.DataType)
	if hasStudy {
		s = r.Study + " " + s
	}
	return s
}

func labelKey(label []string) string {
	return strings.Join(label, "\x00")
}

func sameStrings(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	a := append([]string(nil), got...)
	b := append([]string(nil), want...)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sameLevels(got, want []Level) bool {
	a := make([]string, len(got))
	for i, l := range got {
		a[i] = string(l)
	}
	b := make([]string, len(want))
	for i, l := range want {
		b[i] = string(l)
	}
	return sameStrings(a, b)
}
