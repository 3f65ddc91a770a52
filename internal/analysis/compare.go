package analysis

import (
	"errors"
	"fmt"
	"slices"

	"github.com/couchcryptid/calsim-tables/internal/domain"
)

// StudyDiff lists how the records of an alternative study differ from a base
// study. Entries are pathnames, sorted.
type StudyDiff struct {
	Base      string
	Alt       string
	Removed   []string // in Base only
	Added     []string // in Alt only
	Changed   []string
	Unchanged int
}

// Empty reports whether the studies hold the same records with equal values.
func (d *StudyDiff) Empty() bool {
	return len(d.Removed) == 0 && len(d.Added) == 0 && len(d.Changed) == 0
}

// CompareStudies compares the records of two studies in a tidy table with a
// Study column. A common record has changed when any timestamp is present
// in only one study or holds different values; missing and valid differ.
func CompareStudies(t *domain.TidyTable, base, alt string) (*StudyDiff, error) {
	if err := domain.ValidateTidy(t); err != nil {
		return nil, err
	}
	if !t.HasStudy() {
		return nil, errors.New("compare studies: table has no Study column")
	}

	byStudy := map[string]map[string]map[int64]domain.Value{base: {}, alt: {}}
	seen := map[string]bool{}
	for _, r := range t.Rows {
		records, ok := byStudy[r.Study]
		if !ok {
			continue
		}
		seen[r.Study] = true
		key := r.Pathname
		if records[key] == nil {
			records[key] = make(map[int64]domain.Value)
		}
		records[key][r.Timestamp.UnixNano()] = r.Value
	}
	for _, s := range []string{base, alt} {
		if !seen[s] {
			return nil, fmt.Errorf("compare studies: study %q not found", s)
		}
	}

	d := &StudyDiff{Base: base, Alt: alt}
	b, a := byStudy[base], byStudy[alt]
	for pathname, bv := range b {
		av, ok := a[pathname]
		switch {
		case !ok:
			d.Removed = append(d.Removed, pathname)
		case !sameObservations(bv, av):
			d.Changed = append(d.Changed, pathname)
		default:
			d.Unchanged++
		}
	}
	for pathname := range a {
		if _, ok := b[pathname]; !ok {
			d.Added = append(d.Added, pathname)
		}
	}
	slices.Sort(d.Removed)
	slices.Sort(d.Added)
	slices.Sort(d.Changed)
	return d, nil
}

func sameObservations(a, b map[int64]domain.Value) bool {
	if len(a) != len(b) {
		return false
	}
	for ts, av := range a {
		bv, ok := b[ts]
		if !ok || av != bv {
			return false
		}
	}
	return true
}
