package models

import (
	"fmt"
	"strings"
)

type conversion func(float64) float64

// unitAliases maps upstream unit labels to canonical labels.
var unitAliases = map[string]string{
	"°c": "°C", "c": "°C", "celsius": "°C",
	"°f": "°F", "f": "°F", "fahrenheit": "°F",
	"km/h": "km/h", "kmh": "km/h",
	"mph": "mph", "mp/h": "mph",
	"m/s": "m/s", "ms": "m/s",
	"kn": "kn", "kt": "kn", "knots": "kn",
	"cm": "cm",
	"mm": "mm",
	"inch": "inch", "in": "inch",
	"m": "m",
	"ft": "ft",
}

// conversions holds to-canonical conversions keyed by "from->to".
var conversions = map[string]conversion{
	"°F->°C":    func(v float64) float64 { return (v - 32) * 5 / 9 },
	"mph->km/h": func(v float64) float64 { return v * 1.609344 },
	"m/s->km/h": func(v float64) float64 { return v * 3.6 },
	"kn->km/h":  func(v float64) float64 { return v * 1.852 },
	"inch->cm":  func(v float64) float64 { return v * 2.54 },
	"inch->mm":  func(v float64) float64 { return v * 25.4 },
	"mm->cm":    func(v float64) float64 { return v / 10 },
	"cm->mm":    func(v float64) float64 { return v * 10 },
	"ft->m":     func(v float64) float64 { return v * 0.3048 },
}

// NormalizeUnits returns a copy of f with every series converted to CanonicalUnits.
// Variables with no unit label are assumed canonical. Unknown units are an error.
func NormalizeUnits(f Forecast) (Forecast, error) {
	out := f.Clone()
	for v, series := range out.HourlyData {
		want, ok := CanonicalUnits[v]
		if !ok {
			return Forecast{}, fmt.Errorf("unknown hourly variable %q", v)
		}
		raw := out.HourlyUnits[v]
		if raw == "" {
			out.HourlyUnits[v] = want
			continue
		}
		have, ok := unitAliases[strings.ToLower(strings.TrimSpace(raw))]
		if !ok {
			return Forecast{}, fmt.Errorf("unknown unit %q for %s", raw, v)
		}
		if have != want {
			conv, ok := conversions[have+"->"+want]
			if !ok {
				return Forecast{}, fmt.Errorf("cannot convert %s from %s to %s", v, have, want)
			}
			for i, s := range series {
				if s.Valid {
					series[i] = Some(conv(s.Value))
				}
			}
		}
		out.HourlyUnits[v] = want
	}
	return out, nil
}
