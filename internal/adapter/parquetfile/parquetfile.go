// Package parquetfile stores tables as parquet files of tidy rows. Wide and
// condense tables are flattened on write and pivoted again on read; the
// layout and the presence of a Study column travel in the file's key/value
// metadata.
package parquetfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/couchcryptid/calsim-tables/internal/domain"
	"github.com/parquet-go/parquet-go"
)

const (
	shapeKey = "calsim.shape"
	studyKey = "calsim.study"

	readBatch = 1024
)

// tidyRow is the on-disk schema. A nil Value is a missing observation.
type tidyRow struct {
	Timestamp time.Time `parquet:"timestamp,timestamp(millisecond)"`
	Study     string    `parquet:"study,dict"`
	Pathname  string    `parquet:"pathname,dict"`
	Units     string    `parquet:"units,dict"`
	DataType  string    `parquet:"data_type,dict"`
	Value     *float64  `parquet:"value,optional"`
}

// Write stores t at path as zstd-compressed parquet.
func Write(path string, t domain.Table) error {
	shape, err := domain.DetectShape(t)
	if err != nil {
		return err
	}
	flat, err := domain.Convert(t, domain.ShapeTidy, domain.PartOverrides{})
	if err != nil {
		return fmt.Errorf("flatten %s table: %w", shape, err)
	}
	tidy := flat.(*domain.TidyTable)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := parquet.NewGenericWriter[tidyRow](f,
		parquet.Compression(&parquet.Zstd),
		parquet.KeyValueMetadata(shapeKey, shape.String()),
		parquet.KeyValueMetadata(studyKey, strconv.FormatBool(tidy.HasStudy())),
	)

	rows := make([]tidyRow, len(tidy.Rows))
	for i, r := range tidy.Rows {
		rows[i] = toParquet(r)
	}
	if _, err := w.Write(rows); err != nil {
		f.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return f.Close()
}

// Read loads a table written by Write, restoring its layout.
func Read(path string) (domain.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	shape := domain.ShapeTidy
	if v, ok := pf.Lookup(shapeKey); ok {
		if shape, err = domain.ParseShape(v); err != nil {
			return nil, fmt.Errorf("%s metadata: %w", shapeKey, err)
		}
	}
	withStudy := false
	if v, ok := pf.Lookup(studyKey); ok {
		withStudy, _ = strconv.ParseBool(v)
	}

	r := parquet.NewGenericReader[tidyRow](pf)
	defer r.Close()

	rows := make([]domain.Row, 0, r.NumRows())
	buf := make([]tidyRow, readBatch)
	for {
		n, err := r.Read(buf)
		for i := range n {
			rows = append(rows, fromParquet(buf[i]))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read rows: %w", err)
		}
	}

	tidy := domain.NewTidyTable(withStudy, rows)
	if shape == domain.ShapeTidy {
		return tidy, nil
	}
	return domain.Convert(tidy, shape, domain.PartOverrides{})
}

func toParquet(r domain.Row) tidyRow {
	out := tidyRow{
		Timestamp: r.Timestamp.UTC(),
		Study:     r.Study,
		Pathname:  r.Pathname,
		Units:     r.Units,
		DataType:  r.DataType,
	}
	if r.Value.Valid {
		v := r.Value.Float64
		out.Value = &v
	}
	return out
}

func fromParquet(r tidyRow) domain.Row {
	out := domain.Row{
		Timestamp: r.Timestamp.UTC(),
		Study:     r.Study,
		Pathname:  r.Pathname,
		Units:     r.Units,
		DataType:  r.DataType,
	}
	if r.Value != nil {
		out.Value = domain.FromStored(*r.Value)
	}
	return out
}
