package domain

import (
	"encoding/json"
	"math"
	"strconv"
)

// DSS missing-value indicators.
const (
	missingStored    = -901
	missingUndefined = -902
)

// Value is a nullable observation. The zero Value is missing.
type Value struct {
	Float64 float64
	Valid   bool
}

// Float wraps v as a valid Value. NaN is treated as missing.
func Float(v float64) Value {
	if math.IsNaN(v) {
		return Value{}
	}
	return Value{Float64: v, Valid: true}
}

// Missing returns the missing-value marker.
func Missing() Value { return Value{} }

// FromStored converts a raw stored number, mapping the DSS missing indicators
// (-901, -902) and NaN to a missing Value.
func FromStored(v float64) Value {
	if v == missingStored || v == missingUndefined {
		return Value{}
	}
	return Float(v)
}

// String formats the value for tabular output; missing values render empty.
func (v Value) String() string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Float64, 'g', -1, 64)
}

// ParseValue parses a tabular cell. Empty strings and "NaN" are missing.
func ParseValue(s string) (Value, error) {
	if s == "" || s == "NaN" || s == "nan" {
		return Value{}, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, err
	}
	return FromStored(f), nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.Float64)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = Value{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*v = FromStored(f)
	return nil
}

// Cell is one slot of a pivoted table. Recorded is false when the tidy table
// had no row for the series at that timestamp, which keeps "no row" apart from
// "row holding a missing value".
type Cell struct {
	Value
	Recorded bool
}

// RecordedCell returns a recorded cell holding v.
func RecordedCell(v Value) Cell {
	return Cell{Value: v, Recorded: true}
}
