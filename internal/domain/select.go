package domain

import (
	"fmt"
	"strings"
)

// Filter selects series by pathname part. Each non-empty list restricts its
// part to the listed values; values are compared upper-cased. With Contains
// set a value matches any part containing it.
type Filter struct {
	Source   []string
	Location []string
	Category []string
	Interval []string
	Scenario []string
	Contains bool
}

func (f Filter) values(l Level) []string {
	switch l {
	case LevelSource:
		return f.Source
	case LevelLocation:
		return f.Location
	case LevelCategory:
		return f.Category
	case LevelInterval:
		return f.Interval
	case LevelScenario:
		return f.Scenario
	default:
		return nil
	}
}

// Empty reports whether the filter matches everything.
func (f Filter) Empty() bool {
	for _, l := range pathParts {
		if len(f.values(l)) > 0 {
			return false
		}
	}
	return true
}

func (f Filter) matchPart(l Level, v string) bool {
	want := f.values(l)
	if len(want) == 0 {
		return true
	}
	v = NormalizePart(v)
	for _, w := range want {
		w = NormalizePart(w)
		if v == w || (f.Contains && strings.Contains(v, w)) {
			return true
		}
	}
	return false
}

// Match reports whether every part of p passes the filter.
func (f Filter) Match(p Pathname) bool {
	for _, l := range pathParts {
		if !f.matchPart(l, p.Part(l)) {
			return false
		}
	}
	return true
}

// Select returns the series of t that pass f, in the layout of t. Condense
// parts that were elided are checked against the recorded constant when one
// is known and otherwise pass.
func Select(t Table, f Filter) (Table, error) {
	shape, err := DetectShape(t)
	if err != nil {
		return nil, err
	}
	switch shape {
	case ShapeTidy:
		return selectTidy(t.(*TidyTable), f)
	case ShapeWide:
		wt := t.(*WideTable)
		return &WideTable{Pivot: selectPivot(&wt.Pivot, f, nil)}, nil
	case ShapeCondense:
		ct := t.(*CondenseTable)
		out := ct.Clone()
		out.Pivot = selectPivot(&ct.Pivot, f, ct.Elided)
		return out, nil
	default:
		return nil, fmt.Errorf("select: unsupported format %s", shape)
	}
}

func selectTidy(t *TidyTable, f Filter) (*TidyTable, error) {
	out := &TidyTable{Columns: append([]string(nil), t.Columns...)}
	for i, r := range t.Rows {
		p, err := ParsePathname(r.Pathname)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if f.Match(p) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out, nil
}

func selectPivot(p *Pivot, f Filter, elided map[Level]string) Pivot {
	full := p.clone()
	out := Pivot{Levels: full.Levels, Index: full.Index}
	for _, c := range full.Columns {
		keep := true
		for _, l := range pathParts {
			v, ok := p.Part(c, l)
			if !ok {
				v, ok = elided[l]
			}
			if ok && !f.matchPart(l, v) {
				keep = false
				break
			}
		}
		if keep {
			out.Columns = append(out.Columns, c)
		}
	}
	return out
}
