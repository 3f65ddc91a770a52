package analysis

import (
	"errors"
	"testing"
	"time"

	"github.com/couchcryptid/calsim-tables/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPathLOC1 = "/A/LOC1/FLOW//1MON/F1/"
	testPathLOC2 = "/A/LOC2/FLOW//1MON/F1/"
)

func monthEnd(year int, m time.Month) time.Time {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC)
}

// monthlyRows returns consecutive month-end rows starting October 2019.
func monthlyRows(pathname, dataType string, values ...float64) []domain.Row {
	rows := make([]domain.Row, len(values))
	for i, v := range values {
		rows[i] = domain.Row{
			Timestamp: monthEnd(2019, time.October+time.Month(i)),
			Pathname:  pathname,
			Units:     "CFS",
			DataType:  dataType,
			Value:     domain.Float(v),
		}
	}
	return rows
}

func seq(from, to float64) []float64 {
	var out []float64
	for v := from; v <= to; v++ {
		out = append(out, v)
	}
	return out
}

// twoWaterYears holds water years 2020 and 2021 of one series with values
// 1 through 24.
func twoWaterYears(dataType string) *domain.TidyTable {
	return domain.NewTidyTable(false, monthlyRows(testPathLOC1, dataType, seq(1, 24)...))
}

func valuesOf(t *testing.T, tbl domain.Table) map[time.Time]float64 {
	t.Helper()
	out, err := domain.Convert(tbl, domain.ShapeTidy, domain.PartOverrides{})
	require.NoError(t, err)
	vals := make(map[time.Time]float64)
	for _, r := range out.(*domain.TidyTable).Rows {
		require.True(t, r.Value.Valid)
		vals[r.Timestamp] = r.Value.Float64
	}
	return vals
}

func TestWaterYear(t *testing.T) {
	tests := []struct {
		ts   time.Time
		eom  time.Month
		want int
	}{
		{monthEnd(2020, time.September), time.September, 2020},
		{monthEnd(2020, time.October), time.September, 2021},
		{monthEnd(2020, time.January), time.September, 2020},
		{monthEnd(2020, time.December), time.December, 2020},
		{monthEnd(2020, time.July), time.June, 2021},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WaterYear(tt.ts, tt.eom), "%s eom=%s", tt.ts.Format("2006-01"), tt.eom)
	}
	assert.Equal(t, time.Date(2021, time.September, 30, 0, 0, 0, 0, time.UTC), WaterYearEnd(2021, time.September))
	assert.Equal(t, []time.Month{
		time.October, time.November, time.December, time.January, time.February, time.March,
		time.April, time.May, time.June, time.July, time.August, time.September,
	}, WaterMonths(time.September))
}

func TestAggregateAnnual(t *testing.T) {
	wy2020, wy2021 := monthEnd(2020, time.September), monthEnd(2021, time.September)

	tests := []struct {
		dataType string
		want     map[time.Time]float64
	}{
		{PerAver, map[time.Time]float64{wy2020: 6.5, wy2021: 18.5}},
		{PerCum, map[time.Time]float64{wy2020: 78, wy2021: 222}},
		{InstVal, map[time.Time]float64{wy2020: 12, wy2021: 24}},
		{InstCum, map[time.Time]float64{wy2020: 12, wy2021: 24}},
	}
	for _, tt := range tests {
		t.Run(tt.dataType, func(t *testing.T) {
			out, err := AggregateAnnual(twoWaterYears(tt.dataType), time.September)
			require.NoError(t, err)
			tidy := out.(*domain.TidyTable)
			require.Len(t, tidy.Rows, 2)
			assert.Equal(t, "/A/LOC1/FLOW//1YEAR/F1/", tidy.Rows[0].Pathname)
			assert.Equal(t, tt.want, valuesOf(t, out))
		})
	}

	t.Run("calendar year", func(t *testing.T) {
		out, err := AggregateAnnual(twoWaterYears(PerAver), time.December)
		require.NoError(t, err)
		assert.Equal(t, map[time.Time]float64{
			monthEnd(2019, time.December): 2,
			monthEnd(2020, time.December): 9.5,
			monthEnd(2021, time.December): 20,
		}, valuesOf(t, out))
	})

	t.Run("instantaneous value needs the end month", func(t *testing.T) {
		out, err := AggregateAnnual(twoWaterYears(InstVal), time.December)
		require.NoError(t, err)
		assert.Equal(t, map[time.Time]float64{
			monthEnd(2019, time.December): 3,
			monthEnd(2020, time.December): 15,
		}, valuesOf(t, out))
	})

	t.Run("series differing only in interval collide", func(t *testing.T) {
		rows := monthlyRows(testPathLOC1, PerAver, seq(1, 12)...)
		for _, r := range monthlyRows(testPathLOC1, PerAver, seq(1, 12)...) {
			r.Pathname = "/A/LOC1/FLOW//1DAY/F1/"
			rows = append(rows, r)
		}
		tidy := domain.NewTidyTable(false, rows)
		wide, err := domain.TidyToWide(tidy)
		require.NoError(t, err)

		for name, in := range map[string]domain.Table{"tidy": tidy, "wide": wide} {
			t.Run(name, func(t *testing.T) {
				_, err := AggregateAnnual(in, time.September)
				var dup *domain.DuplicateKeyError
				require.ErrorAs(t, err, &dup)
			})
		}
	})

	t.Run("missing values are skipped", func(t *testing.T) {
		tbl := twoWaterYears(PerAver)
		tbl.Rows[0].Value = domain.Missing()
		for i := 12; i < 24; i++ {
			tbl.Rows[i].Value = domain.Missing()
		}
		out, err := AggregateAnnual(tbl, time.September)
		require.NoError(t, err)
		rows := out.(*domain.TidyTable).Rows
		require.Len(t, rows, 2)
		assert.InDelta(t, 7.0, rows[0].Value.Float64, 1e-9)
		assert.False(t, rows[1].Value.Valid)
	})

	t.Run("wide keeps its shape", func(t *testing.T) {
		wide, err := domain.TidyToWide(twoWaterYears(PerAver))
		require.NoError(t, err)
		out, err := AggregateAnnual(wide, time.September)
		require.NoError(t, err)
		w, ok := out.(*domain.WideTable)
		require.True(t, ok)
		assert.Equal(t, []time.Time{wy2020, wy2021}, w.Index)
		interval, _ := w.Part(w.Columns[0], domain.LevelInterval)
		assert.Equal(t, domain.Interval1Year, interval)
	})

	t.Run("condense keeps its shape", func(t *testing.T) {
		c, err := domain.TidyToCondense(twoWaterYears(PerAver))
		require.NoError(t, err)
		out, err := AggregateAnnual(c, time.September)
		require.NoError(t, err)
		cc, ok := out.(*domain.CondenseTable)
		require.True(t, ok)
		assert.Equal(t, domain.Interval1Year, cc.Elided[domain.LevelInterval])
		assert.Equal(t, "FLOW", cc.Elided[domain.LevelCategory])
		assert.Equal(t, map[time.Time]float64{wy2020: 6.5, wy2021: 18.5}, valuesOf(t, out))
	})

	t.Run("condense with empty source", func(t *testing.T) {
		c, err := domain.TidyToCondense(domain.NewTidyTable(false,
			monthlyRows("//LOC1/FLOW//1MON/F1/", PerAver, seq(1, 12)...)))
		require.NoError(t, err)

		out, err := AggregateAnnual(c, time.September)
		require.NoError(t, err)
		cc := out.(*domain.CondenseTable)
		source, ok := cc.Elided[domain.LevelSource]
		require.True(t, ok)
		assert.Empty(t, source)

		tidy, err := domain.CondenseToTidy(cc, domain.PartOverrides{})
		require.NoError(t, err)
		assert.Equal(t, "//LOC1/FLOW//1YEAR/F1/", tidy.Rows[0].Pathname)
	})

	t.Run("condense without metadata", func(t *testing.T) {
		c, err := domain.TidyToCondense(twoWaterYears(PerAver))
		require.NoError(t, err)
		c.Elided = nil

		out, err := AggregateAnnual(c, time.September)
		require.NoError(t, err)
		cc := out.(*domain.CondenseTable)
		assert.Equal(t, map[domain.Level]string{domain.LevelInterval: domain.Interval1Year}, cc.Elided)

		tidy, err := domain.CondenseToTidy(cc, domain.PartOverrides{Source: "A", Category: "FLOW", Scenario: "F1"})
		require.NoError(t, err)
		assert.Equal(t, "/A/LOC1/FLOW//1YEAR/F1/", tidy.Rows[0].Pathname)
	})

	t.Run("unsupported data type", func(t *testing.T) {
		_, err := AggregateAnnual(twoWaterYears("INST-MAX"), time.September)
		assert.True(t, errors.Is(err, domain.ErrUnsupportedDataType))
	})

	t.Run("bad end month", func(t *testing.T) {
		_, err := AggregateAnnual(twoWaterYears(PerAver), 13)
		assert.Error(t, err)
	})

	t.Run("unrecognized table", func(t *testing.T) {
		_, err := AggregateAnnual(&domain.TidyTable{Columns: []string{"Date", "Value"}}, time.September)
		var ufe *domain.UnrecognizedFormatError
		assert.ErrorAs(t, err, &ufe)
	})
}

func TestPeriodMean(t *testing.T) {
	rows := append(monthlyRows(testPathLOC1, PerAver, seq(1, 24)...), monthlyRows(testPathLOC2, PerCum, seq(1, 12)...)...)
	s, err := PeriodMean(domain.NewTidyTable(false, rows), time.September)
	require.NoError(t, err)
	require.Len(t, s.Series, 2)
	assert.Equal(t, "LOC1", s.Series[0].Label[1])
	assert.Equal(t, domain.Float(12.5), s.Series[0].Value)
	assert.Equal(t, domain.Float(78), s.Series[1].Value)
}

func TestMonthlyMean(t *testing.T) {
	p, err := MonthlyMean(twoWaterYears(PerAver))
	require.NoError(t, err)

	assert.Equal(t, "Month", p.IndexName)
	assert.Equal(t, WaterMonths(time.September), p.Index)
	require.Len(t, p.Columns, 1)
	cells := p.Columns[0].Cells
	assert.Equal(t, domain.RecordedCell(domain.Float(7)), cells[0])
	assert.Equal(t, domain.RecordedCell(domain.Float(18)), cells[11])

	t.Run("tidy input is pivoted and Rows gives long form", func(t *testing.T) {
		rows := p.Rows()
		require.Len(t, rows, 12)
		assert.Equal(t, time.October, rows[0].Index)
		assert.Equal(t, []string{"A", "LOC1", "FLOW", "1MON", "F1", "CFS", PerAver}, rows[0].Label)
		assert.Equal(t, domain.Float(7), rows[0].Value)
		assert.Equal(t, time.September, rows[11].Index)
	})

	t.Run("months without data are missing", func(t *testing.T) {
		tbl := domain.NewTidyTable(false, monthlyRows(testPathLOC1, PerAver, 5))
		p, err := MonthlyMean(tbl)
		require.NoError(t, err)
		assert.Equal(t, domain.Float(5), p.Columns[0].Cells[0].Value)
		assert.False(t, p.Columns[0].Cells[1].Valid)
		assert.True(t, p.Columns[0].Cells[1].Recorded)
	})
}

func TestMonthlyExceedance(t *testing.T) {
	t.Run("distinct values", func(t *testing.T) {
		tbl := domain.NewTidyTable(false, monthlyRows(testPathLOC1, PerAver, 5, 3, 9, 1))
		p, err := MonthlyExceedance(tbl)
		require.NoError(t, err)

		require.Len(t, p.Index, 4)
		for i, prob := range p.Index {
			assert.Greater(t, prob, 0.0)
			assert.Less(t, prob, 1.0)
			if i > 0 {
				assert.Greater(t, prob, p.Index[i-1])
				assert.Less(t, p.Columns[0].Cells[i].Float64, p.Columns[0].Cells[i-1].Float64)
			}
		}
		got := make([]float64, len(p.Index))
		for i, c := range p.Columns[0].Cells {
			got[i] = c.Float64
		}
		assert.Equal(t, []float64{9, 5, 3, 1}, got)
		assert.InDelta(t, 0.2, p.Index[0], 1e-12)
	})

	t.Run("ties keep appearance order", func(t *testing.T) {
		tbl := domain.NewTidyTable(false, monthlyRows(testPathLOC1, PerAver, 2, 2, 1))
		p, err := MonthlyExceedance(tbl)
		require.NoError(t, err)
		require.Len(t, p.Index, 3)
		assert.InDelta(t, 0.25, p.Index[0], 1e-12)
		assert.InDelta(t, 0.5, p.Index[1], 1e-12)
		assert.Equal(t, 2.0, p.Columns[0].Cells[1].Float64)
	})

	t.Run("gaps are filled across series", func(t *testing.T) {
		rows := append(monthlyRows(testPathLOC1, PerAver, 5, 3, 9, 1), monthlyRows(testPathLOC2, PerAver, 7)...)
		p, err := MonthlyExceedance(domain.NewTidyTable(false, rows))
		require.NoError(t, err)

		require.Len(t, p.Index, 5)
		want := [][]float64{
			{9, 5, 3, 3, 1},
			{7, 7, 7, 7, 7},
		}
		for i, c := range p.Columns {
			got := make([]float64, len(c.Cells))
			for j, cell := range c.Cells {
				require.True(t, cell.Recorded)
				got[j] = cell.Float64
			}
			if diff := cmp.Diff(want[i], got); diff != "" {
				t.Errorf("column %d mismatch (-want +got):\n%s", i, diff)
			}
		}
	})

	t.Run("missing values are not ranked", func(t *testing.T) {
		tbl := domain.NewTidyTable(false, monthlyRows(testPathLOC1, PerAver, 4, 2))
		tbl.Rows = append(tbl.Rows, domain.Row{
			Timestamp: monthEnd(2019, time.December), Pathname: testPathLOC1, Units: "CFS", DataType: PerAver,
		})
		p, err := MonthlyExceedance(tbl)
		require.NoError(t, err)
		assert.Len(t, p.Index, 2)
	})
}

func TestAnnualExceedance(t *testing.T) {
	p, err := AnnualExceedance(twoWaterYears(PerAver), time.September)
	require.NoError(t, err)
	require.Len(t, p.Index, 2)
	assert.InDelta(t, 1.0/3, p.Index[0], 1e-12)
	assert.Equal(t, 18.5, p.Columns[0].Cells[0].Float64)
	assert.Equal(t, 6.5, p.Columns[0].Cells[1].Float64)

	rows := p.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, p.Index[1], rows[1].Index)
	assert.Equal(t, domain.Float(6.5), rows[1].Value)
}

func TestCompareStudies(t *testing.T) {
	jan := monthEnd(2020, time.January)
	r := func(study, pathname string, v float64) domain.Row {
		return domain.Row{Timestamp: jan, Study: study, Pathname: pathname, Units: "CFS", DataType: PerAver, Value: domain.Float(v)}
	}
	loc3, loc4 := "/A/LOC3/FLOW//1MON/F1/", "/A/LOC4/FLOW//1MON/F1/"
	tbl := domain.NewTidyTable(true, []domain.Row{
		r("BASE", testPathLOC1, 1), r("ALT", testPathLOC1, 1),
		r("BASE", testPathLOC2, 3), r("ALT", testPathLOC2, 4),
		r("ALT", loc3, 5),
		r("BASE", loc4, 6),
	})

	d, err := CompareStudies(tbl, "BASE", "ALT")
	require.NoError(t, err)
	assert.Equal(t, []string{loc4}, d.Removed)
	assert.Equal(t, []string{loc3}, d.Added)
	assert.Equal(t, []string{testPathLOC2}, d.Changed)
	assert.Equal(t, 1, d.Unchanged)
	assert.False(t, d.Empty())

	t.Run("identical studies", func(t *testing.T) {
		d, err := CompareStudies(tbl, "BASE", "BASE")
		require.NoError(t, err)
		assert.True(t, d.Empty())
	})

	t.Run("unknown study", func(t *testing.T) {
		_, err := CompareStudies(tbl, "BASE", "NOPE")
		assert.ErrorContains(t, err, `"NOPE" not found`)
	})

	t.Run("no study column", func(t *testing.T) {
		_, err := CompareStudies(twoWaterYears(PerAver), "BASE", "ALT")
		assert.Error(t, err)
	})
}
