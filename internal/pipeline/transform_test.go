package pipeline_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/calsim-tables/internal/config"
	"github.com/couchcryptid/calsim-tables/internal/domain"
	"github.com/couchcryptid/calsim-tables/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shastaStorage = "/CALSIM/S_SHSTA/STORAGE//1MON/L2020A/"

func monthEnd(year int, month time.Month) time.Time {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
}

// waterYearSeries returns monthly values Oct 2020 through Sep 2022 where
// water year 2021 holds 1..12 and 2022 holds 13..24.
func waterYearSeries(dataType string) domain.Series {
	s := domain.Series{
		Study:    "baseline",
		Pathname: shastaStorage,
		Units:    "TAF",
		DataType: dataType,
	}
	start := time.Date(2020, time.October, 1, 0, 0, 0, 0, time.UTC)
	for i := range 24 {
		m := start.AddDate(0, i, 0)
		s.Times = append(s.Times, monthEnd(m.Year(), m.Month()))
		s.Values = append(s.Values, domain.Float(float64(i+1)))
	}
	return s
}

func rawFromSeries(t *testing.T, s domain.Series) domain.RawMessage {
	t.Helper()
	data, err := json.Marshal(s)
	require.NoError(t, err)
	return domain.RawMessage{Key: []byte(s.Pathname), Value: data, Topic: "raw-series"}
}

func useFakeClock(t *testing.T) clockwork.Clock {
	t.Helper()
	fakeClock := clockwork.NewFakeClockAt(time.Date(2024, time.April, 26, 15, 10, 0, 0, time.UTC))
	domain.SetClock(fakeClock)
	t.Cleanup(func() {
		domain.SetClock(nil)
	})
	return fakeClock
}

func TestSeriesTransformer_Annual(t *testing.T) {
	fakeClock := useFakeClock(t)
	tfm := pipeline.NewTransformer(config.OperationAnnual, time.September, slog.Default())

	tests := []struct {
		dataType string
		want     []float64
	}{
		{"PER-AVER", []float64{6.5, 18.5}},
		{"PER-CUM", []float64{78, 222}},
		{"INST-VAL", []float64{12, 24}},
	}
	for _, tc := range tests {
		t.Run(tc.dataType, func(t *testing.T) {
			out, err := tfm.Transform(context.Background(), rawFromSeries(t, waterYearSeries(tc.dataType)))
			require.NoError(t, err)

			assert.Equal(t, "/CALSIM/S_SHSTA/STORAGE//1YEAR/L2020A/", out.Pathname)
			assert.Equal(t, domain.SeriesID("baseline", out.Pathname, "TAF", tc.dataType), out.ID)
			assert.Equal(t, fakeClock.Now(), out.ProcessedAt)

			wantTimes := []time.Time{monthEnd(2021, time.September), monthEnd(2022, time.September)}
			if diff := cmp.Diff(wantTimes, out.Times); diff != "" {
				t.Fatalf("annual times mismatch (-want +got):\n%s", diff)
			}
			got := make([]float64, len(out.Values))
			for i, v := range out.Values {
				require.True(t, v.Valid)
				got[i] = v.Float64
			}
			assert.InDeltaSlice(t, tc.want, got, 1e-9)
		})
	}
}

func TestSeriesTransformer_AnnualCalendarYear(t *testing.T) {
	useFakeClock(t)
	tfm := pipeline.NewTransformer(config.OperationAnnual, time.December, slog.Default())

	out, err := tfm.Transform(context.Background(), rawFromSeries(t, waterYearSeries("INST-VAL")))
	require.NoError(t, err)

	// Dec 2020 is month 3 and Dec 2021 is month 15; 2022 has no December.
	require.Len(t, out.Values, 2)
	assert.InDelta(t, 3, out.Values[0].Float64, 0)
	assert.InDelta(t, 15, out.Values[1].Float64, 0)
}

func TestSeriesTransformer_AnnualUnsupportedDataType(t *testing.T) {
	tfm := pipeline.NewTransformer(config.OperationAnnual, time.September, slog.Default())
	_, err := tfm.Transform(context.Background(), rawFromSeries(t, waterYearSeries("PER-MAX")))
	require.ErrorIs(t, err, domain.ErrUnsupportedDataType)
}

func TestSeriesTransformer_AnnualEmptySeries(t *testing.T) {
	useFakeClock(t)
	tfm := pipeline.NewTransformer(config.OperationAnnual, time.September, slog.Default())

	s := waterYearSeries("PER-AVER")
	s.Times, s.Values = nil, nil
	out, err := tfm.Transform(context.Background(), rawFromSeries(t, s))
	require.NoError(t, err)
	assert.Zero(t, out.Len())
	assert.Equal(t, "/CALSIM/S_SHSTA/STORAGE//1YEAR/L2020A/", out.Pathname)
}

func TestSeriesTransformer_Validate(t *testing.T) {
	fakeClock := useFakeClock(t)
	tfm := pipeline.NewTransformer(config.OperationValidate, time.September, slog.Default())

	in := waterYearSeries("PER-AVER")
	out, err := tfm.Transform(context.Background(), rawFromSeries(t, in))
	require.NoError(t, err)
	assert.Equal(t, in.Pathname, out.Pathname)
	assert.Equal(t, in.Len(), out.Len())
	assert.Equal(t, fakeClock.Now(), out.ProcessedAt)
	assert.NotEmpty(t, out.ID)
}

func TestSeriesTransformer_ValidateRejects(t *testing.T) {
	tfm := pipeline.NewTransformer(config.OperationValidate, time.September, slog.Default())

	dup := waterYearSeries("PER-AVER")
	dup.Times[1] = dup.Times[0]

	daily := waterYearSeries("PER-AVER")
	daily.Times = daily.Times[:3]
	daily.Values = daily.Values[:3]
	for i := range daily.Times {
		daily.Times[i] = time.Date(2021, time.January, i+1, 0, 0, 0, 0, time.UTC)
	}

	tests := []struct {
		name    string
		series  domain.Series
		wantErr string
	}{
		{"duplicate timestamps", dup, "duplicate"},
		{"interval mismatch", daily, "spaced 1DAY"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tfm.Transform(context.Background(), rawFromSeries(t, tc.series))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestSeriesTransformer_InvalidMessage(t *testing.T) {
	tfm := pipeline.NewTransformer(config.OperationValidate, time.September, slog.Default())

	tests := []struct {
		name  string
		value string
	}{
		{"not json", "not json"},
		{"bad pathname", `{"pathname":"S_SHSTA","units":"TAF","data_type":"PER-AVER","times":[],"values":[]}`},
		{"length mismatch", `{"pathname":"/CALSIM/S_SHSTA/STORAGE//1MON/L2020A/","times":["2021-01-31T00:00:00Z"],"values":[]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tfm.Transform(context.Background(), domain.RawMessage{Value: []byte(tc.value)})
			assert.Error(t, err)
		})
	}
}

func TestSeriesTransformer_UnknownOperation(t *testing.T) {
	tfm := pipeline.NewTransformer("monthly", time.September, slog.Default())
	_, err := tfm.Transform(context.Background(), rawFromSeries(t, waterYearSeries("PER-AVER")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monthly")
}
