package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/calsim-tables/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"S_SHSTA", []string{"S_SHSTA"}},
		{" S_SHSTA, ,S_OROVL ", []string{"S_SHSTA", "S_OROVL"}},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, splitList(tc.in))
		})
	}
}

func TestParseDate(t *testing.T) {
	got, err := parseDate("2021-10-31")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, time.October, 31, 0, 0, 0, 0, time.UTC), got)

	got, err = parseDate("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = parseDate("10/31/2021")
	assert.Error(t, err)
}

func TestConvertAndSelect(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "tidy.csv")
	rows := []domain.Row{
		{Timestamp: time.Date(2021, 10, 31, 0, 0, 0, 0, time.UTC), Pathname: "/CALSIM/S_SHSTA/STORAGE//1MON/L2020A/", Units: "TAF", DataType: "PER-AVER", Value: domain.Float(3100)},
		{Timestamp: time.Date(2021, 10, 31, 0, 0, 0, 0, time.UTC), Pathname: "/CALSIM/S_OROVL/STORAGE//1MON/L2020A/", Units: "TAF", DataType: "PER-AVER", Value: domain.Float(2400)},
	}
	require.NoError(t, writeTable(in, domain.NewTidyTable(false, rows)))

	wide := filepath.Join(dir, "wide.parquet")
	require.NoError(t, runConvert([]string{"-in", in, "-out", wide, "-to", "wide"}))
	got, err := readTable(wide)
	require.NoError(t, err)
	assert.Equal(t, domain.ShapeWide, got.Shape())

	selected := filepath.Join(dir, "shasta.csv")
	require.NoError(t, runSelect([]string{"-in", in, "-out", selected, "-location", "s_shsta"}))
	got, err = readTable(selected)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
}
