package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Level names a label dimension of a pivoted table. Source through Scenario
// double as the names of the pathname parts.
type Level string

const (
	LevelStudy     Level = "Study"
	LevelSource    Level = "Source"
	LevelLocation  Level = "Location"
	LevelCategory  Level = "Category"
	LevelInterval  Level = "Interval"
	LevelScenario  Level = "Scenario"
	LevelUnits     Level = "Units"
	LevelDataType  Level = "DataType"
	LevelUnitsType Level = "Units & Type"
)

// Interval tokens (pathname part E).
const (
	Interval1Month = "1MON"
	Interval1Day   = "1DAY"
	Interval1Hour  = "1HOUR"
	Interval6Hour  = "6HOUR"
	Interval1Year  = "1YEAR"
)

// pathParts lists the semantic pathname parts in pathname order.
var pathParts = []Level{LevelSource, LevelLocation, LevelCategory, LevelInterval, LevelScenario}

// pathnameSegments is the segment count of "/A/B/C/D/E/F/" split on "/".
const pathnameSegments = 8

// Pathname holds the five semantic parts of a DSS pathname.
type Pathname struct {
	Source   string
	Location string
	Category string
	Interval string
	Scenario string
}

// ParsePathname splits a slash-delimited pathname into its parts, discarding
// the leading, trailing and D slots.
func ParsePathname(s string) (Pathname, error) {
	segs := strings.Split(s, "/")
	if len(segs) != pathnameSegments {
		return Pathname{}, &FormatError{
			Input:  s,
			Reason: fmt.Sprintf("expected %d slash-delimited segments, got %d", pathnameSegments, len(segs)),
		}
	}
	return Pathname{
		Source:   segs[1],
		Location: segs[2],
		Category: segs[3],
		Interval: segs[5],
		Scenario: segs[6],
	}, nil
}

// String renders the canonical "/A/B/C//E/F/" form.
func (p Pathname) String() string {
	return fmt.Sprintf("/%s/%s/%s//%s/%s/", p.Source, p.Location, p.Category, p.Interval, p.Scenario)
}

// Part returns the value of a pathname part level, or "" for other levels.
func (p Pathname) Part(l Level) string {
	switch l {
	case LevelSource:
		return p.Source
	case LevelLocation:
		return p.Location
	case LevelCategory:
		return p.Category
	case LevelInterval:
		return p.Interval
	case LevelScenario:
		return p.Scenario
	default:
		return ""
	}
}

// Parts returns the five parts keyed by level.
func (p Pathname) Parts() map[Level]string {
	parts := make(map[Level]string, len(pathParts))
	for _, l := range pathParts {
		parts[l] = p.Part(l)
	}
	return parts
}

// PartOverrides supplies part values that are absent from a row, typically
// table-wide constants dropped by the condense layout.
type PartOverrides struct {
	Study    string
	Source   string
	Location string
	Category string
	Interval string
	Scenario string
}

// Get returns the override for a level, or "".
func (o PartOverrides) Get(l Level) string {
	switch l {
	case LevelStudy:
		return o.Study
	case LevelSource:
		return o.Source
	case LevelLocation:
		return o.Location
	case LevelCategory:
		return o.Category
	case LevelInterval:
		return o.Interval
	case LevelScenario:
		return o.Scenario
	default:
		return ""
	}
}

// Set returns a copy of o with the override for l replaced.
func (o PartOverrides) Set(l Level, v string) PartOverrides {
	switch l {
	case LevelStudy:
		o.Study = v
	case LevelSource:
		o.Source = v
	case LevelLocation:
		o.Location = v
	case LevelCategory:
		o.Category = v
	case LevelInterval:
		o.Interval = v
	case LevelScenario:
		o.Scenario = v
	}
	return o
}

// EncodePathname rebuilds the canonical pathname. A part present in parts
// wins even when empty; absent parts fall back to o. Every part that resolves
// nowhere is reported in a single *MissingPartError.
func EncodePathname(parts map[Level]string, o PartOverrides) (string, error) {
	var p Pathname
	var missing []Level
	for _, l := range pathParts {
		v, ok := parts[l]
		if !ok {
			v = o.Get(l)
			if v == "" {
				missing = append(missing, l)
				continue
			}
		}
		switch l {
		case LevelSource:
			p.Source = v
		case LevelLocation:
			p.Location = v
		case LevelCategory:
			p.Category = v
		case LevelInterval:
			p.Interval = v
		case LevelScenario:
			p.Scenario = v
		}
	}
	if len(missing) > 0 {
		return "", &MissingPartError{Parts: missing}
	}
	return p.String(), nil
}

// NormalizePart upper-cases and trims a part for use as a filter or group key.
func NormalizePart(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// InferInterval maps the regular spacing of ts to an interval token. Monthly
// series may be stamped at month end or on a fixed day of month. Irregular
// spacing, unknown steps and fewer than two distinct timestamps are
// unresolved.
func InferInterval(ts []time.Time) (string, bool) {
	uniq := uniqueSortedTimes(ts)
	if len(uniq) < 2 {
		return "", false
	}
	if isMonthly(uniq) {
		return Interval1Month, true
	}

	step := uniq[1].Sub(uniq[0])
	for i := 2; i < len(uniq); i++ {
		if uniq[i].Sub(uniq[i-1]) != step {
			return "", false
		}
	}

	switch step {
	case 24 * time.Hour:
		return Interval1Day, true
	case time.Hour:
		return Interval1Hour, true
	case 6 * time.Hour:
		return Interval6Hour, true
	default:
		return "", false
	}
}

func isMonthly(ts []time.Time) bool {
	allMonthEnd, sameDay := true, true
	for i := 1; i < len(ts); i++ {
		prev, cur := ts[i-1], ts[i]
		if monthOrdinal(cur)-monthOrdinal(prev) != 1 {
			return false
		}
		if cur.Day() != prev.Day() {
			sameDay = false
		}
	}
	for _, t := range ts {
		if !isMonthEnd(t) {
			allMonthEnd = false
			break
		}
	}
	return allMonthEnd || sameDay
}

func monthOrdinal(t time.Time) int {
	return t.Year()*12 + int(t.Month()) - 1
}

func isMonthEnd(t time.Time) bool {
	return t.AddDate(0, 0, 1).Month() != t.Month()
}

func uniqueSortedTimes(ts []time.Time) []time.Time {
	seen := make(map[int64]struct{}, len(ts))
	out := make([]time.Time, 0, len(ts))
	for _, t := range ts {
		k := t.UnixNano()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
