package models

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// BlendModelID is the synthetic model id of a weighted multi-model blend.
const BlendModelID = "blend"

// HourlyData maps each variable to its series. Every series has one entry per timestamp.
type HourlyData map[Variable]Series

// HourlyUnits maps each variable to its unit label.
type HourlyUnits map[Variable]string

// Forecast is one hourly time series for one (location, model). Values are treated as
// immutable once built; callers that need to change a forecast work on Clone().
type Forecast struct {
	Lat             float64     `json:"lat"`
	Lon             float64     `json:"lon"`
	APILat          float64     `json:"apiLat"`
	APILon          float64     `json:"apiLon"`
	ElevationMeters *float64    `json:"elevationMeters"`
	ModelID         string      `json:"modelId"`
	ModelRunUTC     *time.Time  `json:"modelRunUtc"`
	TimesUTC        []time.Time `json:"timesUtc"`
	HourlyData      HourlyData  `json:"hourlyData"`
	HourlyUnits     HourlyUnits `json:"hourlyUnits"`

	// Sources lists the constituent model ids of a blend, sorted.
	Sources  []string              `json:"sources,omitempty"`
	Spread   map[string]SpreadBand `json:"spread,omitempty"`
	Enhanced *EnhancedSeries       `json:"enhanced,omitempty"`
	Daily    []DailySummary        `json:"daily,omitempty"`
}

// SpreadBand is the per-hour p10/p90 range across constituent models.
type SpreadBand struct {
	P10 []float64 `json:"p10"`
	P90 []float64 `json:"p90"`
}

// EnhancedSeries holds the temperature-adjusted snowfall derived from a forecast.
// EnhancedSnowfall is in cm, Rain in mm; SnowRatio is null for hours where no ratio applies.
type EnhancedSeries struct {
	EnhancedSnowfall []float64 `json:"enhancedSnowfall"`
	Rain             []float64 `json:"rain"`
	SnowRatio        Series    `json:"snowRatio"`
}

// DailySummary aggregates one UTC calendar day of hourly data.
type DailySummary struct {
	Date               string  `json:"date"`
	Hours              int     `json:"hours"`
	HighC              Sample  `json:"highC"`
	LowC               Sample  `json:"lowC"`
	SnowfallCm         float64 `json:"snowfallCm"`
	EnhancedSnowfallCm float64 `json:"enhancedSnowfallCm"`
	RainMm             float64 `json:"rainMm"`
	PrecipitationMm    float64 `json:"precipitationMm"`
	MaxWindKmh         Sample  `json:"maxWindKmh"`
	MaxGustKmh         Sample  `json:"maxGustKmh"`
	MeanFreezingLevelM Sample  `json:"meanFreezingLevelM"`
	SnowRatio          Sample  `json:"snowRatio"`
}

var (
	// ErrMisalignedSeries is returned when a series length differs from the time axis.
	ErrMisalignedSeries = errors.New("series length does not match time axis")
	// ErrUnorderedTimes is returned when timestamps are not strictly increasing hourly steps.
	ErrUnorderedTimes = errors.New("timestamps must be strictly increasing hourly steps")
)

// Hours returns the number of hourly steps.
func (f Forecast) Hours() int {
	return len(f.TimesUTC)
}

// Series returns the series for v, or nil when the forecast does not carry it.
func (f Forecast) Series(v Variable) Series {
	return f.HourlyData[v]
}

// Variables returns the variables present in the forecast, in AllVariables order.
func (f Forecast) Variables() []Variable {
	out := make([]Variable, 0, len(f.HourlyData))
	for _, v := range AllVariables {
		if _, ok := f.HourlyData[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

// Validate checks the time axis and series length invariants.
func (f Forecast) Validate() error {
	for i := 1; i < len(f.TimesUTC); i++ {
		if f.TimesUTC[i].Sub(f.TimesUTC[i-1]) != time.Hour {
			return fmt.Errorf("%w: index %d", ErrUnorderedTimes, i)
		}
	}
	// Sorted for a stable error message.
	vars := make([]string, 0, len(f.HourlyData))
	for v := range f.HourlyData {
		vars = append(vars, string(v))
	}
	sort.Strings(vars)
	for _, name := range vars {
		v := Variable(name)
		if !v.Valid() {
			return fmt.Errorf("unknown hourly variable %q", name)
		}
		if len(f.HourlyData[v]) != len(f.TimesUTC) {
			return fmt.Errorf("%w: %s has %d values for %d times", ErrMisalignedSeries, v, len(f.HourlyData[v]), len(f.TimesUTC))
		}
	}
	return nil
}

// Clone returns a deep copy.
func (f Forecast) Clone() Forecast {
	out := f
	out.TimesUTC = append([]time.Time(nil), f.TimesUTC...)
	out.HourlyData = make(HourlyData, len(f.HourlyData))
	for v, s := range f.HourlyData {
		out.HourlyData[v] = s.Clone()
	}
	out.HourlyUnits = make(HourlyUnits, len(f.HourlyUnits))
	for v, u := range f.HourlyUnits {
		out.HourlyUnits[v] = u
	}
	if f.ElevationMeters != nil {
		e := *f.ElevationMeters
		out.ElevationMeters = &e
	}
	if f.ModelRunUTC != nil {
		r := *f.ModelRunUTC
		out.ModelRunUTC = &r
	}
	out.Sources = append([]string(nil), f.Sources...)
	if f.Spread != nil {
		out.Spread = make(map[string]SpreadBand, len(f.Spread))
		for k, b := range f.Spread {
			out.Spread[k] = SpreadBand{P10: append([]float64(nil), b.P10...), P90: append([]float64(nil), b.P90...)}
		}
	}
	if f.Enhanced != nil {
		e := EnhancedSeries{
			EnhancedSnowfall: append([]float64(nil), f.Enhanced.EnhancedSnowfall...),
			Rain:             append([]float64(nil), f.Enhanced.Rain...),
			SnowRatio:        f.Enhanced.SnowRatio.Clone(),
		}
		out.Enhanced = &e
	}
	out.Daily = append([]DailySummary(nil), f.Daily...)
	return out
}

// InferModelRun guesses the model initialization time from the first timestamp,
// rounded down to the six-hourly cycle. Returns nil for an empty forecast.
func InferModelRun(times []time.Time) *time.Time {
	if len(times) == 0 {
		return nil
	}
	t := times[0].UTC()
	run := time.Date(t.Year(), t.Month(), t.Day(), (t.Hour()/6)*6, 0, 0, 0, time.UTC)
	return &run
}
