package models

import (
	"bytes"
	"encoding/json"
	"math"
)

// Sample is one nullable hourly value. A zero Sample is null.
type Sample struct {
	Value float64
	Valid bool
}

// Some returns a valid Sample holding v.
func Some(v float64) Sample {
	return Sample{Value: v, Valid: true}
}

// Null returns the null Sample.
func Null() Sample {
	return Sample{}
}

// Ptr returns nil for a null sample, otherwise a pointer to a copy of the value.
func (s Sample) Ptr() *float64 {
	if !s.Valid {
		return nil
	}
	v := s.Value
	return &v
}

// MarshalJSON encodes null samples as JSON null.
func (s Sample) MarshalJSON() ([]byte, error) {
	if !s.Valid || math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(s.Value)
}

// UnmarshalJSON accepts a number or null.
func (s *Sample) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = Sample{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Some(v)
	return nil
}

// Series is an ordered sequence of hourly samples aligned to a forecast's time axis.
type Series []Sample

// SeriesOf builds a fully valid series from plain values.
func SeriesOf(values ...float64) Series {
	out := make(Series, len(values))
	for i, v := range values {
		out[i] = Some(v)
	}
	return out
}

// At returns the sample at i, or null when i is out of range.
func (s Series) At(i int) Sample {
	if i < 0 || i >= len(s) {
		return Sample{}
	}
	return s[i]
}

// Truncate returns a copy holding the first n samples, padded with nulls if s is shorter.
func (s Series) Truncate(n int) Series {
	out := make(Series, n)
	copy(out, s)
	return out
}

// Clone returns an independent copy.
func (s Series) Clone() Series {
	if s == nil {
		return nil
	}
	out := make(Series, len(s))
	copy(out, s)
	return out
}
