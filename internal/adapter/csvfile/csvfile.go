// Package csvfile reads and writes tables as CSV. Paths ending in ".zst" are
// zstd-compressed transparently.
//
// Tidy tables are written with one header row of column names. Wide and
// condense tables are written with one header row per label level, the level
// name in the first cell, followed by one row per timestamp. A condense table
// records its elided constants in leading "# <level>" rows. In pivoted
// tables an empty cell means the series has no row at that timestamp and
// "NaN" means a row holding a missing value.
package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/calsim-tables/internal/domain"
	"github.com/klauspost/compress/zstd"
)

const (
	dateLayout     = "2006-01-02"
	missingToken   = "NaN"
	elidedPrefix   = "# "
	compressSuffix = ".zst"
)

// Read loads a table from path, detecting its layout from the header.
func Read(path string) (domain.Table, error) {
	r, err := open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	t, err := Decode(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}

// Write stores t at path, replacing any existing file.
func Write(path string, t domain.Table) error {
	w, err := create(path)
	if err != nil {
		return err
	}
	if err := Encode(w, t); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return w.Close()
}

// WriteStudies writes one file per study of a tidy table carrying a Study
// column. Files are named after path with "_<study>" inserted before the
// extension. A table without studies is written to path as is. Returns the
// paths written.
func WriteStudies(path string, t *domain.TidyTable) ([]string, error) {
	if !t.HasStudy() {
		return []string{path}, Write(path, t)
	}

	byStudy := make(map[string][]domain.Row)
	for _, r := range t.Rows {
		byStudy[r.Study] = append(byStudy[r.Study], r)
	}
	studies := make([]string, 0, len(byStudy))
	for s := range byStudy {
		studies = append(studies, s)
	}
	sort.Strings(studies)

	paths := make([]string, 0, len(studies))
	for _, s := range studies {
		p := studyPath(path, s)
		if err := Write(p, domain.NewTidyTable(true, byStudy[s])); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func studyPath(path, study string) string {
	suffix := ""
	if strings.HasSuffix(path, compressSuffix) {
		suffix = compressSuffix
		path = strings.TrimSuffix(path, compressSuffix)
	}
	ext := filepath.Ext(path)
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '_'
		}
		return r
	}, study)
	return strings.TrimSuffix(path, ext) + "_" + safe + ext + suffix
}

// Decode parses a table from CSV text.
func Decode(r io.Reader) (domain.Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &domain.UnrecognizedFormatError{Reason: "file is empty"}
	}

	first := strings.TrimSpace(records[0][0])
	if first == domain.ColTimestamp || isTidyHeader(records[0]) {
		return decodeTidy(records)
	}
	return decodePivot(records)
}

// Encode writes t as CSV text.
func Encode(w io.Writer, t domain.Table) error {
	cw := csv.NewWriter(w)
	var err error
	switch tt := t.(type) {
	case *domain.TidyTable:
		err = encodeTidy(cw, tt)
	case *domain.WideTable:
		err = encodePivot(cw, &tt.Pivot, nil)
	case *domain.CondenseTable:
		err = encodePivot(cw, &tt.Pivot, tt.Elided)
	default:
		err = &domain.UnrecognizedFormatError{Reason: fmt.Sprintf("unsupported table type %T", t)}
	}
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func isTidyHeader(header []string) bool {
	want := make(map[string]bool)
	for _, c := range domain.TidyColumns(true) {
		want[c] = true
	}
	matched := 0
	for _, h := range header {
		if want[strings.TrimSpace(h)] {
			matched++
		}
	}
	return matched >= len(domain.TidyColumns(false))
}

func formatTime(ts time.Time) string {
	ts = ts.UTC()
	if ts.Equal(ts.Truncate(24 * time.Hour)) {
		return ts.Format(dateLayout)
	}
	return ts.Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{dateLayout, time.RFC3339, "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// open returns a reader for path, decompressing .zst files.
func open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, compressSuffix) {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd reader %s: %w", path, err)
	}
	return &zstdReadCloser{dec: dec, file: f}, nil
}

// create returns a writer for path, compressing .zst files.
func create(path string) (io.WriteCloser, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, compressSuffix) {
		return f, nil
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd writer %s: %w", path, err)
	}
	return &zstdWriteCloser{enc: enc, file: f}, nil
}

type zstdReadCloser struct {
	dec  *zstd.Decoder
	file *os.File
}

func (z *zstdReadCloser) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.file.Close()
}

type zstdWriteCloser struct {
	enc  *zstd.Encoder
	file *os.File
}

func (z *zstdWriteCloser) Write(p []byte) (int, error) { return z.enc.Write(p) }

func (z *zstdWriteCloser) Close() error {
	return errors.Join(z.enc.Close(), z.file.Close())
}
