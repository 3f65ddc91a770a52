package domain

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// TidyToWide pivots a tidy table into the wide layout: one column per series
// labelled by its full key, one row per timestamp. Cells the tidy table has no
// row for are left unrecorded.
func TidyToWide(t *TidyTable) (*WideTable, error) {
	if err := ValidateTidy(t); err != nil {
		return nil, err
	}
	hasStudy := t.HasStudy()
	b := newPivotBuilder(ShapeWide, WideLevels(hasStudy))
	for i, r := range t.Rows {
		p, err := ParsePathname(r.Pathname)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		label := make([]string, 0, len(b.levels))
		if hasStudy {
			label = append(label, r.Study)
		}
		label = append(label, p.Source, p.Location, p.Category, p.Interval, p.Scenario, r.Units, r.DataType)
		if err := b.add(label, r.Timestamp, r.Value); err != nil {
			return nil, err
		}
	}
	return &WideTable{Pivot: b.build()}, nil
}

// WideToTidy unpivots a wide table. Only recorded cells become rows, so a
// recorded missing value survives as a row with a missing Value while an
// unrecorded cell produces nothing.
func WideToTidy(t *WideTable) (*TidyTable, error) {
	if err := ValidateWide(t); err != nil {
		return nil, err
	}
	hasStudy := t.LevelIndex(LevelStudy) >= 0
	rows := make([]Row, 0, len(t.Columns)*len(t.Index))
	for _, c := range t.Columns {
		parts := make(map[Level]string, len(pathParts))
		for _, l := range pathParts {
			parts[l], _ = t.Part(c, l)
		}
		pathname, err := EncodePathname(parts, PartOverrides{})
		if err != nil {
			return nil, err
		}
		study, _ := t.Part(c, LevelStudy)
		units, _ := t.Part(c, LevelUnits)
		dataType, _ := t.Part(c, LevelDataType)
		rows = appendRecorded(rows, t.Index, c.Cells, Row{
			Study:    study,
			Pathname: pathname,
			Units:    units,
			DataType: dataType,
		})
	}
	return NewTidyTable(hasStudy, rows), nil
}

// TidyToCondense pivots a tidy table into the condense layout. Units and
// DataType merge into one "Units & Type" level, and every part other than
// Location that holds a single value across the table is dropped from the
// label set and kept in Elided.
func TidyToCondense(t *TidyTable) (*CondenseTable, error) {
	if err := ValidateTidy(t); err != nil {
		return nil, err
	}
	hasStudy := t.HasStudy()

	paths := make([]Pathname, len(t.Rows))
	for i, r := range t.Rows {
		p, err := ParsePathname(r.Pathname)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		paths[i] = p
	}

	partOf := func(i int, l Level) string {
		if l == LevelStudy {
			return t.Rows[i].Study
		}
		return paths[i].Part(l)
	}

	elided := make(map[Level]string)
	var levels []Level
	for _, l := range condenseLevelOrder {
		switch l {
		case LevelLocation, LevelUnitsType:
			levels = append(levels, l)
			continue
		case LevelStudy:
			if !hasStudy {
				continue
			}
		}
		if v, ok := constantPart(len(t.Rows), l, partOf); ok {
			elided[l] = v
			continue
		}
		levels = append(levels, l)
	}

	b := newPivotBuilder(ShapeCondense, levels)
	for i, r := range t.Rows {
		label := make([]string, len(levels))
		for j, l := range levels {
			if l == LevelUnitsType {
				label[j] = UnitsType(r.Units, r.DataType)
				continue
			}
			label[j] = partOf(i, l)
		}
		if err := b.add(label, r.Timestamp, r.Value); err != nil {
			return nil, err
		}
	}
	return &CondenseTable{Pivot: b.build(), Elided: elided}, nil
}

// CondenseToTidy unpivots a condense table. Parts that are not label levels
// come from o, then from the table's Elided metadata; an override that
// contradicts recorded metadata is a *PartConflictError. A missing Interval is
// inferred from the index spacing. Parts that resolve nowhere are reported
// together in a *MissingPartError.
func CondenseToTidy(t *CondenseTable, o PartOverrides) (*TidyTable, error) {
	if err := ValidateCondense(t); err != nil {
		return nil, err
	}

	study, studyKnown, err := resolveConstant(t, LevelStudy, o)
	if err != nil {
		return nil, err
	}
	hasStudy := t.LevelIndex(LevelStudy) >= 0 || studyKnown
	if len(t.Columns) == 0 {
		return NewTidyTable(hasStudy, nil), nil
	}

	fixed := make(map[Level]string, len(pathParts))
	var missing []Level
	for _, l := range pathParts {
		if t.LevelIndex(l) >= 0 {
			continue
		}
		v, known, err := resolveConstant(t, l, o)
		if err != nil {
			return nil, err
		}
		if !known && l == LevelInterval {
			v, known = InferInterval(t.Index)
		}
		if !known {
			missing = append(missing, l)
			continue
		}
		fixed[l] = v
	}
	if len(missing) > 0 {
		return nil, &MissingPartError{Parts: missing}
	}

	rows := make([]Row, 0, len(t.Columns)*len(t.Index))
	for _, c := range t.Columns {
		parts := maps.Clone(fixed)
		for _, l := range pathParts {
			if v, ok := t.Part(c, l); ok {
				parts[l] = v
			}
		}
		pathname, err := EncodePathname(parts, PartOverrides{})
		if err != nil {
			return nil, err
		}
		ut, _ := t.Part(c, LevelUnitsType)
		units, dataType, err := SplitUnitsType(ut)
		if err != nil {
			return nil, err
		}
		s := study
		if v, ok := t.Part(c, LevelStudy); ok {
			s = v
		}
		rows = appendRecorded(rows, t.Index, c.Cells, Row{
			Study:    s,
			Pathname: pathname,
			Units:    units,
			DataType: dataType,
		})
	}
	return NewTidyTable(hasStudy, rows), nil
}

// WideToCondense converts through the tidy layout.
func WideToCondense(t *WideTable) (*CondenseTable, error) {
	tidy, err := WideToTidy(t)
	if err != nil {
		return nil, err
	}
	return TidyToCondense(tidy)
}

// CondenseToWide converts through the tidy layout.
func CondenseToWide(t *CondenseTable, o PartOverrides) (*WideTable, error) {
	tidy, err := CondenseToTidy(t, o)
	if err != nil {
		return nil, err
	}
	return TidyToWide(tidy)
}

// Convert returns t in the requested layout. The input layout is checked
// first; a table already in the target layout is returned as a copy. o is only
// consulted when leaving the condense layout.
func Convert(t Table, to Shape, o PartOverrides) (Table, error) {
	from, err := DetectShape(t)
	if err != nil {
		return nil, err
	}

	var tidy *TidyTable
	switch from {
	case ShapeTidy:
		tidy = t.(*TidyTable)
	case ShapeWide:
		if to == ShapeWide {
			return t.(*WideTable).Clone(), nil
		}
		if tidy, err = WideToTidy(t.(*WideTable)); err != nil {
			return nil, err
		}
	case ShapeCondense:
		if to == ShapeCondense {
			return t.(*CondenseTable).Clone(), nil
		}
		if tidy, err = CondenseToTidy(t.(*CondenseTable), o); err != nil {
			return nil, err
		}
	}

	switch to {
	case ShapeTidy:
		if from == ShapeTidy {
			return tidy.Clone(), nil
		}
		return tidy, nil
	case ShapeWide:
		return TidyToWide(tidy)
	case ShapeCondense:
		return TidyToCondense(tidy)
	default:
		return nil, fmt.Errorf("convert to %s: unsupported target format", to)
	}
}

// SortRows orders rows by study, pathname, units, data type and timestamp.
func (t *TidyTable) SortRows() {
	slices.SortStableFunc(t.Rows, func(a, b Row) int {
		if c := strings.Compare(a.Study, b.Study); c != 0 {
			return c
		}
		if c := strings.Compare(a.Pathname, b.Pathname); c != 0 {
			return c
		}
		if c := strings.Compare(a.Units, b.Units); c != 0 {
			return c
		}
		if c := strings.Compare(a.DataType, b.DataType); c != 0 {
			return c
		}
		return a.Timestamp.Compare(b.Timestamp)
	})
}

func appendRecorded(rows []Row, index []time.Time, cells []Cell, key Row) []Row {
	for i, cell := range cells {
		if !cell.Recorded {
			continue
		}
		r := key
		r.Timestamp = index[i]
		r.Value = cell.Value
		rows = append(rows, r)
	}
	return rows
}

// constantPart reports the single value level l takes across n rows. An
// empty table has no constants.
func constantPart(n int, l Level, partOf func(int, Level) string) (string, bool) {
	if n == 0 {
		return "", false
	}
	v := partOf(0, l)
	for i := 1; i < n; i++ {
		if partOf(i, l) != v {
			return "", false
		}
	}
	return v, true
}

// resolveConstant returns the table-wide value of a level that is not a label
// level. A recorded empty value is resolved; known is false only when neither
// an override nor the Elided metadata supplies the level.
func resolveConstant(t *CondenseTable, l Level, o PartOverrides) (v string, known bool, err error) {
	if t.LevelIndex(l) >= 0 {
		return "", false, nil
	}
	override := o.Get(l)
	elided, recorded := t.Elided[l]
	if override != "" && recorded && override != elided {
		return "", false, &PartConflictError{Part: l, Elided: elided, Override: override}
	}
	if override != "" {
		return override, true, nil
	}
	return elided, recorded, nil
}

// pivotBuilder accumulates (label, timestamp, value) triples into a Pivot
// with columns sorted by label and the index sorted ascending.
type pivotBuilder struct {
	shape  Shape
	levels []Level
	cols   map[string]*pendingColumn
	times  map[int64]time.Time
}

type pendingColumn struct {
	label []string
	cells map[int64]Value
}

func newPivotBuilder(shape Shape, levels []Level) *pivotBuilder {
	return &pivotBuilder{
		shape:  shape,
		levels: levels,
		cols:   make(map[string]*pendingColumn),
		times:  make(map[int64]time.Time),
	}
}

func (b *pivotBuilder) add(label []string, ts time.Time, v Value) error {
	k := labelKey(label)
	c, ok := b.cols[k]
	if !ok {
		c = &pendingColumn{label: label, cells: make(map[int64]Value)}
		b.cols[k] = c
	}
	n := ts.UnixNano()
	if _, dup := c.cells[n]; dup {
		return &DuplicateKeyError{
			Shape: b.shape,
			What:  "column labels",
			Keys:  []string{fmt.Sprintf("(%s) at %s", strings.Join(label, ", "), ts.Format(time.RFC3339))},
		}
	}
	c.cells[n] = v
	if _, seen := b.times[n]; !seen {
		b.times[n] = ts
	}
	return nil
}

func (b *pivotBuilder) build() Pivot {
	index := make([]time.Time, 0, len(b.times))
	for _, ts := range b.times {
		index = append(index, ts)
	}
	slices.SortFunc(index, func(a, b time.Time) int { return a.Compare(b) })

	pending := make([]*pendingColumn, 0, len(b.cols))
	for _, c := range b.cols {
		pending = append(pending, c)
	}
	slices.SortFunc(pending, func(a, b *pendingColumn) int { return slices.Compare(a.label, b.label) })

	cols := make([]Column, len(pending))
	for i, pc := range pending {
		cells := make([]Cell, len(index))
		for j, ts := range index {
			if v, ok := pc.cells[ts.UnixNano()]; ok {
				cells[j] = RecordedCell(v)
			}
		}
		cols[i] = Column{Label: pc.label, Cells: cells}
	}
	return Pivot{Levels: append([]Level(nil), b.levels...), Index: index, Columns: cols}
}
