// Package analysis computes derived tables from tidy, wide and condense
// tables: water-year aggregates, period and monthly means, exceedance curves
// and study comparisons.
package analysis

import (
	"fmt"
	"time"

	"github.com/couchcryptid/calsim-tables/internal/domain"
	"github.com/montanaflynn/stats"
)

// DSS data type tokens.
const (
	PerAver = "PER-AVER"
	PerCum  = "PER-CUM"
	InstVal = "INST-VAL"
	InstCum = "INST-CUM"
)

// placeholder stands in for condense parts that were elided without recorded
// metadata; it is stripped again before the result is returned.
const placeholder = "\x00unknown"

// WaterYear returns the water year containing ts for a year ending in eom.
// With eom September, October 2020 belongs to water year 2021.
func WaterYear(ts time.Time, eom time.Month) int {
	if ts.Month() <= eom {
		return ts.Year()
	}
	return ts.Year() + 1
}

// WaterYearEnd returns the last day of water year wy.
func WaterYearEnd(wy int, eom time.Month) time.Time {
	return time.Date(wy, eom+1, 0, 0, 0, 0, 0, time.UTC)
}

// WaterMonths lists the months of a water year ending in eom, in order.
func WaterMonths(eom time.Month) []time.Month {
	months := make([]time.Month, 12)
	for i := range months {
		months[i] = time.Month((int(eom)+i)%12 + 1)
	}
	return months
}

func checkEOM(eom time.Month) error {
	if eom < time.January || eom > time.December {
		return fmt.Errorf("fiscal year end month %d out of range", eom)
	}
	return nil
}

// AggregateAnnual reduces every series to one value per water year ending in
// eom, according to its data type: PER-AVER averages, PER-CUM sums, and
// INST-VAL and INST-CUM take the last observation of the end month. The
// result keeps the layout of t, its Interval part becomes 1YEAR and each
// water year is stamped at its last day.
func AggregateAnnual(t domain.Table, eom time.Month) (domain.Table, error) {
	if err := checkEOM(eom); err != nil {
		return nil, err
	}
	shape, err := domain.DetectShape(t)
	if err != nil {
		return nil, err
	}

	switch shape {
	case domain.ShapeTidy:
		return annualTidy(t.(*domain.TidyTable), eom)
	case domain.ShapeWide:
		tidy, err := domain.WideToTidy(t.(*domain.WideTable))
		if err != nil {
			return nil, err
		}
		out, err := annualTidy(tidy, eom)
		if err != nil {
			return nil, err
		}
		return domain.TidyToWide(out)
	case domain.ShapeCondense:
		return annualCondense(t.(*domain.CondenseTable), eom)
	default:
		return nil, &domain.UnrecognizedFormatError{Reason: "unsupported table"}
	}
}

func annualCondense(c *domain.CondenseTable, eom time.Month) (*domain.CondenseTable, error) {
	if len(c.Columns) == 0 {
		out := c.Clone()
		out.Index = nil
		return out, nil
	}

	var o domain.PartOverrides
	for _, l := range []domain.Level{domain.LevelSource, domain.LevelCategory, domain.LevelInterval, domain.LevelScenario} {
		if c.LevelIndex(l) >= 0 {
			continue
		}
		if _, known := c.Elided[l]; !known {
			o = o.Set(l, placeholder)
		}
	}

	tidy, err := domain.CondenseToTidy(c, o)
	if err != nil {
		return nil, err
	}
	annual, err := annualTidy(tidy, eom)
	if err != nil {
		return nil, err
	}
	out, err := domain.TidyToCondense(annual)
	if err != nil {
		return nil, err
	}
	for l, v := range out.Elided {
		if v == placeholder {
			delete(out.Elided, l)
		}
	}
	return out, nil
}

func annualTidy(t *domain.TidyTable, eom time.Month) (*domain.TidyTable, error) {
	var rows []domain.Row
	for _, s := range t.Series() {
		p, err := domain.ParsePathname(s.Pathname)
		if err != nil {
			return nil, err
		}
		p.Interval = domain.Interval1Year
		pathname := p.String()

		years, values, err := reduceSeries(s, eom)
		if err != nil {
			return nil, err
		}
		for i, wy := range years {
			rows = append(rows, domain.Row{
				Timestamp: WaterYearEnd(wy, eom),
				Study:     s.Study,
				Pathname:  pathname,
				Units:     s.Units,
				DataType:  s.DataType,
				Value:     values[i],
			})
		}
	}
	out := domain.NewTidyTable(t.HasStudy(), rows)
	// Series that differ only in Interval collapse onto the same 1YEAR key.
	if err := domain.ValidateTidy(out); err != nil {
		return nil, err
	}
	return out, nil
}

// reduceSeries returns the water years of s in ascending order with their
// reduced values. Observations must be sorted by time.
func reduceSeries(s domain.Series, eom time.Month) ([]int, []domain.Value, error) {
	dataType := domain.NormalizePart(s.DataType)
	switch dataType {
	case PerAver, PerCum, InstVal, InstCum:
	default:
		return nil, nil, fmt.Errorf("aggregate %s %q: %w", s.Pathname, s.DataType, domain.ErrUnsupportedDataType)
	}

	var years []int
	var values []domain.Value
	for i := 0; i < s.Len(); {
		wy := WaterYear(s.Times[i], eom)
		j := i
		for j < s.Len() && WaterYear(s.Times[j], eom) == wy {
			j++
		}
		v, ok := reduce(dataType, s.Times[i:j], s.Values[i:j], eom)
		if ok {
			years = append(years, wy)
			values = append(values, v)
		}
		i = j
	}
	return years, values, nil
}

func reduce(dataType string, times []time.Time, values []domain.Value, eom time.Month) (domain.Value, bool) {
	switch dataType {
	case InstVal, InstCum:
		for i := len(times) - 1; i >= 0; i-- {
			if times[i].Month() == eom {
				return values[i], true
			}
		}
		return domain.Value{}, false
	default:
		data := validData(values)
		if len(data) == 0 {
			return domain.Missing(), true
		}
		reducer := stats.Sum
		if dataType == PerAver {
			reducer = stats.Mean
		}
		v, err := reducer(data)
		if err != nil {
			return domain.Missing(), true
		}
		return domain.Float(v), true
	}
}

// validData collects the non-missing values.
func validData(values []domain.Value) stats.Float64Data {
	data := make(stats.Float64Data, 0, len(values))
	for _, v := range values {
		if v.Valid {
			data = append(data, v.Float64)
		}
	}
	return data
}
