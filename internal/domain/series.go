package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Series is one record of the time-series store: a key plus its observations.
// It is the unit exchanged with readers, writers and the message stream.
type Series struct {
	ID          string      `json:"id"`
	Study       string      `json:"study,omitempty"`
	Pathname    string      `json:"pathname"`
	Units       string      `json:"units"`
	DataType    string      `json:"data_type"`
	Times       []time.Time `json:"times"`
	Values      []Value     `json:"values"`
	ProcessedAt time.Time   `json:"processed_at,omitzero"`
}

// Len returns the number of observations.
func (s Series) Len() int { return len(s.Times) }

// TimeRange bounds a read. A zero bound is open.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether ts falls inside the range, bounds inclusive.
func (r TimeRange) Contains(ts time.Time) bool {
	if !r.Start.IsZero() && ts.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && ts.After(r.End) {
		return false
	}
	return true
}

// ErrSeriesNotFound is returned by readers when no record matches a pathname.
var ErrSeriesNotFound = errors.New("series not found")

// SeriesReader reads one record's observations within a time range.
type SeriesReader interface {
	Read(ctx context.Context, pathname string, r TimeRange) (Series, error)
}

// SeriesWriter stores one record.
type SeriesWriter interface {
	Write(ctx context.Context, s Series) error
}

// RawMessage is an unprocessed series message from the source topic.
type RawMessage struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// ParseSeriesMessage decodes a JSON series message and checks that its
// pathname decodes and its times and values line up. A missing ID is derived
// from the series key.
func ParseSeriesMessage(raw RawMessage) (Series, error) {
	var s Series
	if err := json.Unmarshal(raw.Value, &s); err != nil {
		return Series{}, fmt.Errorf("parse series message: %w", err)
	}
	if err := s.check(); err != nil {
		return Series{}, fmt.Errorf("parse series message: %w", err)
	}
	if s.ID == "" {
		s.ID = SeriesID(s.Study, s.Pathname, s.Units, s.DataType)
	}
	return s, nil
}

func (s Series) check() error {
	if _, err := ParsePathname(s.Pathname); err != nil {
		return err
	}
	if len(s.Times) != len(s.Values) {
		return fmt.Errorf("series %s has %d times and %d values", s.Pathname, len(s.Times), len(s.Values))
	}
	return nil
}

// SeriesID produces a deterministic ID from a series key so replays upsert
// the same record.
func SeriesID(study, pathname, units, dataType string) string {
	input := fmt.Sprintf("%s|%s|%s|%s", study, pathname, units, dataType)
	hash := sha256.Sum256([]byte(input))
	short := hex.EncodeToString(hash[:8])
	p, err := ParsePathname(pathname)
	if err != nil || p.Location == "" {
		return short
	}
	return p.Location + "-" + short
}

// MarkProcessed stamps the series with the current time.
func MarkProcessed(s Series) Series {
	s.ProcessedAt = clock.Now()
	return s
}

// TidyFromSeries flattens series into a tidy table. The Study column is
// present when any series carries a study.
func TidyFromSeries(series ...Series) (*TidyTable, error) {
	withStudy := false
	n := 0
	for _, s := range series {
		if err := s.check(); err != nil {
			return nil, err
		}
		if s.Study != "" {
			withStudy = true
		}
		n += s.Len()
	}
	rows := make([]Row, 0, n)
	for _, s := range series {
		for i, ts := range s.Times {
			rows = append(rows, Row{
				Timestamp: ts,
				Study:     s.Study,
				Pathname:  s.Pathname,
				Units:     s.Units,
				DataType:  s.DataType,
				Value:     s.Values[i],
			})
		}
	}
	return NewTidyTable(withStudy, rows), nil
}

type seriesKey struct {
	study, pathname, units, dataType string
}

// Series groups the table's rows into one Series per key, in order of first
// appearance, with observations sorted by time.
func (t *TidyTable) Series() []Series {
	idx := make(map[seriesKey]int)
	var out []Series
	for _, r := range t.Rows {
		k := seriesKey{r.Study, r.Pathname, r.Units, r.DataType}
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, Series{
				ID:       SeriesID(r.Study, r.Pathname, r.Units, r.DataType),
				Study:    r.Study,
				Pathname: r.Pathname,
				Units:    r.Units,
				DataType: r.DataType,
			})
		}
		out[i].Times = append(out[i].Times, r.Timestamp)
		out[i].Values = append(out[i].Values, r.Value)
	}
	for i := range out {
		sortObservations(&out[i])
	}
	return out
}

func sortObservations(s *Series) {
	order := make([]int, len(s.Times))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return s.Times[a].Compare(s.Times[b]) })
	times := make([]time.Time, len(order))
	values := make([]Value, len(order))
	for i, j := range order {
		times[i] = s.Times[j]
		values[i] = s.Values[j]
	}
	s.Times, s.Values = times, values
}
