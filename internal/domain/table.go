package domain

import (
	"fmt"
	"strings"
	"time"
)

// Shape tags which of the three layouts a table is in.
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeTidy
	ShapeWide
	ShapeCondense
)

func (s Shape) String() string {
	switch s {
	case ShapeTidy:
		return "tidy"
	case ShapeWide:
		return "wide"
	case ShapeCondense:
		return "condense"
	default:
		return "unknown"
	}
}

// ParseShape parses "tidy", "wide" or "condense" (case-insensitive).
func ParseShape(s string) (Shape, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tidy":
		return ShapeTidy, nil
	case "wide":
		return ShapeWide, nil
	case "condense":
		return ShapeCondense, nil
	default:
		return ShapeUnknown, fmt.Errorf("unknown table format %q", s)
	}
}

// Table is a tabular value in one of the three layouts. The concrete types
// are *TidyTable, *WideTable and *CondenseTable; [DetectShape] confirms the
// claimed layout.
type Table interface {
	Shape() Shape
	Len() int
}

// Tidy column names.
const (
	ColTimestamp = "Timestamp"
	ColPathname  = "Pathname"
	ColUnits     = "Units"
	ColDataType  = "DataType"
	ColValue     = "Value"
	ColStudy     = "Study"
)

var tidyColumns = []string{ColTimestamp, ColPathname, ColUnits, ColDataType, ColValue}

// TidyColumns returns the canonical tidy column names.
func TidyColumns(withStudy bool) []string {
	cols := append([]string(nil), tidyColumns...)
	if withStudy {
		cols = append(cols, ColStudy)
	}
	return cols
}

// Row is one observation of a tidy table. Study is only meaningful when the
// table carries a Study column.
type Row struct {
	Timestamp time.Time
	Study     string
	Pathname  string
	Units     string
	DataType  string
	Value     Value
}

// TidyTable is the record-oriented layout. Columns holds the column names the
// producer claims; readers copy them from file headers so validation can
// reject foreign layouts.
type TidyTable struct {
	Columns []string
	Rows    []Row
}

// NewTidyTable builds a tidy table with the canonical columns.
func NewTidyTable(withStudy bool, rows []Row) *TidyTable {
	return &TidyTable{Columns: TidyColumns(withStudy), Rows: rows}
}

func (t *TidyTable) Shape() Shape { return ShapeTidy }
func (t *TidyTable) Len() int     { return len(t.Rows) }

// HasStudy reports whether the table carries a Study column.
func (t *TidyTable) HasStudy() bool {
	for _, c := range t.Columns {
		if c == ColStudy {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (t *TidyTable) Clone() *TidyTable {
	return &TidyTable{
		Columns: append([]string(nil), t.Columns...),
		Rows:    append([]Row(nil), t.Rows...),
	}
}

// Column is one series of a pivoted table. Label is aligned with the owning
// table's Levels and Cells with its Index.
type Column struct {
	Label []string
	Cells []Cell
}

// Pivot is the shared body of the wide and condense layouts.
type Pivot struct {
	Levels  []Level
	Index   []time.Time
	Columns []Column
}

// LevelIndex returns the position of l in Levels, or -1.
func (p *Pivot) LevelIndex(l Level) int {
	for i, lv := range p.Levels {
		if lv == l {
			return i
		}
	}
	return -1
}

// Part returns column c's value for level l.
func (p *Pivot) Part(c Column, l Level) (string, bool) {
	i := p.LevelIndex(l)
	if i < 0 || i >= len(c.Label) {
		return "", false
	}
	return c.Label[i], true
}

func (p *Pivot) clone() Pivot {
	out := Pivot{
		Levels:  append([]Level(nil), p.Levels...),
		Index:   append([]time.Time(nil), p.Index...),
		Columns: make([]Column, len(p.Columns)),
	}
	for i, c := range p.Columns {
		out.Columns[i] = Column{
			Label: append([]string(nil), c.Label...),
			Cells: append([]Cell(nil), c.Cells...),
		}
	}
	return out
}

// WideTable is the pivoted layout with the full label set.
type WideTable struct {
	Pivot
}

func (t *WideTable) Shape() Shape { return ShapeWide }
func (t *WideTable) Len() int     { return len(t.Index) }

// Clone returns a deep copy.
func (t *WideTable) Clone() *WideTable {
	return &WideTable{Pivot: t.clone()}
}

// CondenseTable is the compact pivoted layout. Elided holds the constants
// dropped from the label set when the table was built by [TidyToCondense]; it
// is empty for tables read from files.
type CondenseTable struct {
	Pivot
	Elided map[Level]string
}

func (t *CondenseTable) Shape() Shape { return ShapeCondense }
func (t *CondenseTable) Len() int     { return len(t.Index) }

// Clone returns a deep copy.
func (t *CondenseTable) Clone() *CondenseTable {
	out := &CondenseTable{Pivot: t.clone()}
	if t.Elided != nil {
		out.Elided = make(map[Level]string, len(t.Elided))
		for k, v := range t.Elided {
			out.Elided[k] = v
		}
	}
	return out
}

// UnitsType merges units and data type into a condense "Units & Type" label.
func UnitsType(units, dataType string) string {
	return units + " " + dataType
}

// SplitUnitsType reverses [UnitsType], splitting at the last space since data
// type tokens never contain one.
func SplitUnitsType(s string) (units, dataType string, err error) {
	i := strings.LastIndex(s, " ")
	if i < 0 {
		return "", "", &FormatError{Input: s, Reason: "expected \"<units> <data type>\""}
	}
	return s[:i], s[i+1:], nil
}
