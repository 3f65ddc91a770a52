package analysis

import (
	"cmp"
	"slices"
	"time"

	"github.com/couchcryptid/calsim-tables/internal/domain"
)

// MonthlyExceedance re-indexes every series of t by exceedance probability.
// Tidy input is pivoted first, so the result has one column per series; Rows
// gives the long form.
func MonthlyExceedance(t domain.Table) (*Profile[float64], error) {
	p, err := pivotOf(t)
	if err != nil {
		return nil, err
	}
	return exceedance(p), nil
}

// AnnualExceedance computes exceedance over the water-year aggregates of t.
// Like MonthlyExceedance it returns a pivoted Profile for every layout.
func AnnualExceedance(t domain.Table, eom time.Month) (*Profile[float64], error) {
	annual, err := AggregateAnnual(t, eom)
	if err != nil {
		return nil, err
	}
	p, err := pivotOf(annual)
	if err != nil {
		return nil, err
	}
	return exceedance(p), nil
}

// exceedance ranks each column's valid values in descending order, ties kept
// in order of appearance, and places the value of rank r of n at probability
// r/(n+1). Columns share the union of all probabilities; gaps are back-filled
// and then forward-filled.
func exceedance(p *domain.Pivot) *Profile[float64] {
	ranked := make([]map[float64]float64, len(p.Columns))
	probs := make(map[float64]struct{})
	for i, c := range p.Columns {
		var vals []float64
		for _, cell := range c.Cells {
			if cell.Valid {
				vals = append(vals, cell.Float64)
			}
		}
		slices.SortStableFunc(vals, func(a, b float64) int { return cmp.Compare(b, a) })

		ranked[i] = make(map[float64]float64, len(vals))
		n := float64(len(vals))
		for r, v := range vals {
			prob := float64(r+1) / (n + 1)
			ranked[i][prob] = v
			probs[prob] = struct{}{}
		}
	}

	index := make([]float64, 0, len(probs))
	for prob := range probs {
		index = append(index, prob)
	}
	slices.Sort(index)

	out := &Profile[float64]{
		IndexName: "Exceedance",
		Levels:    append([]domain.Level(nil), p.Levels...),
		Index:     index,
	}
	for i, c := range p.Columns {
		cells := make([]domain.Cell, len(index))
		for j, prob := range index {
			if v, ok := ranked[i][prob]; ok {
				cells[j] = domain.RecordedCell(domain.Float(v))
			}
		}
		fillGaps(cells)
		out.Columns = append(out.Columns, domain.Column{Label: append([]string(nil), c.Label...), Cells: cells})
	}
	return out
}

// fillGaps back-fills unrecorded cells from the next recorded one, then
// forward-fills what remains at the end. A column with nothing recorded
// becomes all missing.
func fillGaps(cells []domain.Cell) {
	next := domain.Cell{}
	for j := len(cells) - 1; j >= 0; j-- {
		if cells[j].Recorded {
			next = cells[j]
			continue
		}
		if next.Recorded {
			cells[j] = next
		}
	}
	prev := domain.RecordedCell(domain.Missing())
	for j := range cells {
		if cells[j].Recorded {
			prev = cells[j]
			continue
		}
		cells[j] = prev
	}
}
