package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ElevationKind distinguishes the three elevation selector forms.
type ElevationKind int

const (
	ElevationSummit ElevationKind = iota
	ElevationBase
	ElevationMeters
)

// MaxElevationMeters bounds explicit elevation selectors.
const MaxElevationMeters = 9000

// ElevationSelector chooses which elevation a forecast represents: the resort summit,
// the resort base, or an explicit whole number of meters.
type ElevationSelector struct {
	Kind   ElevationKind
	Meters int
}

// Summit selects the summit elevation.
func Summit() ElevationSelector { return ElevationSelector{Kind: ElevationSummit} }

// Base selects the base elevation.
func Base() ElevationSelector { return ElevationSelector{Kind: ElevationBase} }

// AtMeters selects an explicit elevation.
func AtMeters(m int) ElevationSelector { return ElevationSelector{Kind: ElevationMeters, Meters: m} }

// ParseElevationSelector accepts "summit", "base" or a number of meters in [0, 9000].
// Fractional meters are rounded half away from zero so equivalent inputs share a cache key.
// An empty string selects the summit.
func ParseElevationSelector(s string) (ElevationSelector, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "summit":
		return Summit(), nil
	case "base":
		return Base(), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return ElevationSelector{}, fmt.Errorf("elevation must be 'base', 'summit', or meters (0-%d): %q", MaxElevationMeters, s)
	}
	m := int(math.Round(f))
	if m < 0 || m > MaxElevationMeters {
		return ElevationSelector{}, fmt.Errorf("elevation must be between 0 and %d meters", MaxElevationMeters)
	}
	return AtMeters(m), nil
}

// String renders the selector as used in cache keys.
func (e ElevationSelector) String() string {
	switch e.Kind {
	case ElevationBase:
		return "base"
	case ElevationMeters:
		return strconv.Itoa(e.Meters)
	default:
		return "summit"
	}
}

// Location identifies where a forecast is requested. Slug is empty for custom coordinates.
type Location struct {
	Slug    string   `json:"slug,omitempty"`
	Name    string   `json:"name,omitempty"`
	Lat     float64  `json:"lat"`
	Lon     float64  `json:"lon"`
	SummitM *float64 `json:"summitElevationMeters,omitempty"`
	BaseM   *float64 `json:"baseElevationMeters,omitempty"`
}

// ID returns the location identity used in cache keys: the slug, or the coordinates
// rounded to four decimals.
func (l Location) ID() string {
	if l.Slug != "" {
		return l.Slug
	}
	return fmt.Sprintf("%.4f,%.4f", roundTo(l.Lat, 4), roundTo(l.Lon, 4))
}

// ResolveElevation maps a selector to meters for this location. Summit and base return
// nil for custom coordinates, meaning the upstream grid elevation is used.
func (l Location) ResolveElevation(sel ElevationSelector) *float64 {
	switch sel.Kind {
	case ElevationMeters:
		m := float64(sel.Meters)
		return &m
	case ElevationBase:
		return copyFloat(l.BaseM)
	default:
		return copyFloat(l.SummitM)
	}
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	r := math.Round(v*p) / p
	if r == 0 {
		// Avoid "-0.0000" keys.
		return 0
	}
	return r
}
