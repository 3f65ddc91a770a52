package csvfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/couchcryptid/calsim-tables/internal/domain"
)

// Store keeps series in a single tidy CSV file. It implements
// domain.SeriesReader and domain.SeriesWriter; every call reads the whole
// file, so it suits fixtures and small exports rather than large catalogs.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store backed by path. The file is created on first write.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Read returns the first series whose pathname matches, case-insensitively,
// restricted to r.
func (s *Store) Read(_ context.Context, pathname string, r domain.TimeRange) (domain.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.load()
	if err != nil {
		return domain.Series{}, err
	}
	want := domain.NormalizePart(pathname)
	for _, series := range t.Series() {
		if domain.NormalizePart(series.Pathname) != want {
			continue
		}
		return clip(series, r), nil
	}
	return domain.Series{}, fmt.Errorf("%s in %s: %w", pathname, s.path, domain.ErrSeriesNotFound)
}

// Write replaces the rows of the series key held by series and keeps the rest
// of the file.
func (s *Store) Write(_ context.Context, series domain.Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.load()
	if err != nil {
		return err
	}
	incoming, err := domain.TidyFromSeries(series)
	if err != nil {
		return err
	}

	kept := t.Rows[:0]
	for _, r := range t.Rows {
		if r.Study == series.Study && r.Pathname == series.Pathname && r.Units == series.Units && r.DataType == series.DataType {
			continue
		}
		kept = append(kept, r)
	}
	out := domain.NewTidyTable(t.HasStudy() || incoming.HasStudy(), append(kept, incoming.Rows...))
	out.SortRows()
	return Write(s.path, out)
}

// load reads the backing file; a missing file is an empty table.
func (s *Store) load() (*domain.TidyTable, error) {
	t, err := Read(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.NewTidyTable(false, nil), nil
	}
	if err != nil {
		return nil, err
	}
	tidy, ok := t.(*domain.TidyTable)
	if !ok {
		return nil, &domain.UnrecognizedFormatError{Want: domain.ShapeTidy, Reason: fmt.Sprintf("%s holds a %s table", s.path, t.Shape())}
	}
	return tidy, nil
}

func clip(s domain.Series, r domain.TimeRange) domain.Series {
	out := s
	out.Times, out.Values = nil, nil
	for i, ts := range s.Times {
		if r.Contains(ts) {
			out.Times = append(out.Times, ts)
			out.Values = append(out.Values, s.Values[i])
		}
	}
	return out
}
