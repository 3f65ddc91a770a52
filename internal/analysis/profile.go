package analysis

import (
	"time"

	"github.com/couchcryptid/calsim-tables/internal/domain"
	"github.com/montanaflynn/stats"
)

// Profile is a pivoted result whose index is not a timestamp: a month of the
// water year or an exceedance probability. Columns keep the labels of the
// input table and every cell is recorded.
type Profile[K any] struct {
	IndexName string
	Levels    []domain.Level
	Index     []K
	Columns   []domain.Column
}

// ProfileRow is one cell of a Profile in long form.
type ProfileRow[K any] struct {
	Index K
	Label []string
	Value domain.Value
}

// Rows flattens the profile column by column.
func (p *Profile[K]) Rows() []ProfileRow[K] {
	rows := make([]ProfileRow[K], 0, len(p.Columns)*len(p.Index))
	for _, c := range p.Columns {
		for i, k := range p.Index {
			rows = append(rows, ProfileRow[K]{Index: k, Label: c.Label, Value: c.Cells[i].Value})
		}
	}
	return rows
}

// Summary holds one value per series.
type Summary struct {
	Levels []domain.Level
	Series []SeriesValue
}

// SeriesValue is a labelled scalar.
type SeriesValue struct {
	Label []string
	Value domain.Value
}

// pivotOf returns the pivoted body of t, building it from a tidy table when
// needed.
func pivotOf(t domain.Table) (*domain.Pivot, error) {
	shape, err := domain.DetectShape(t)
	if err != nil {
		return nil, err
	}
	switch shape {
	case domain.ShapeTidy:
		w, err := domain.TidyToWide(t.(*domain.TidyTable))
		if err != nil {
			return nil, err
		}
		return &w.Pivot, nil
	case domain.ShapeWide:
		return &t.(*domain.WideTable).Pivot, nil
	case domain.ShapeCondense:
		return &t.(*domain.CondenseTable).Pivot, nil
	default:
		return nil, &domain.UnrecognizedFormatError{Reason: "unsupported table"}
	}
}

// PeriodMean averages the water-year aggregates of each series over all
// water years.
func PeriodMean(t domain.Table, eom time.Month) (*Summary, error) {
	annual, err := AggregateAnnual(t, eom)
	if err != nil {
		return nil, err
	}
	p, err := pivotOf(annual)
	if err != nil {
		return nil, err
	}
	out := &Summary{Levels: append([]domain.Level(nil), p.Levels...)}
	for _, c := range p.Columns {
		out.Series = append(out.Series, SeriesValue{Label: append([]string(nil), c.Label...), Value: meanOf(c.Cells)})
	}
	return out, nil
}

// MonthlyMean averages each series by month of year across all years. Rows
// follow the water-year order October through September. The result is always
// pivoted with one column per series, whatever the layout of t; use Rows for
// the long form.
func MonthlyMean(t domain.Table) (*Profile[time.Month], error) {
	p, err := pivotOf(t)
	if err != nil {
		return nil, err
	}
	months := WaterMonths(time.September)
	out := &Profile[time.Month]{
		IndexName: "Month",
		Levels:    append([]domain.Level(nil), p.Levels...),
		Index:     months,
	}
	for _, c := range p.Columns {
		byMonth := make(map[time.Month][]domain.Cell, 12)
		for i, ts := range p.Index {
			byMonth[ts.Month()] = append(byMonth[ts.Month()], c.Cells[i])
		}
		cells := make([]domain.Cell, len(months))
		for i, m := range months {
			cells[i] = domain.RecordedCell(meanOf(byMonth[m]))
		}
		out.Columns = append(out.Columns, domain.Column{Label: append([]string(nil), c.Label...), Cells: cells})
	}
	return out, nil
}

func meanOf(cells []domain.Cell) domain.Value {
	values := make([]domain.Value, len(cells))
	for i, c := range cells {
		values[i] = c.Value
	}
	m, err := stats.Mean(validData(values))
	if err != nil {
		return domain.Missing()
	}
	return domain.Float(m)
}
