package snow

import (
	"errors"
	"fmt"
	"time"

	"github.com/kjstillabower/forecast-blend-service/internal/models"
)

const dateLayout = "2006-01-02"

// Summarize groups hours by UTC calendar date and aggregates each day.
// Day boundaries are always midnight UTC.
func Summarize(f models.Forecast) []models.DailySummary {
	if f.Hours() == 0 {
		return nil
	}
	snowfall := f.Series(models.Snowfall)
	precip := f.Series(models.Precipitation)
	temps := f.Series(models.Temperature2m)
	wind := f.Series(models.WindSpeed10m)
	gusts := f.Series(models.WindGusts10m)
	freezing := f.Series(models.FreezingLevelHeight)
	enhanced := EffectiveSnowfall(f)
	rain := EffectiveRain(f)
	ratios := snowRatios(f)

	var days []models.DailySummary
	start := 0
	for start < f.Hours() {
		date := f.TimesUTC[start].UTC().Format(dateLayout)
		end := start
		for end < f.Hours() && f.TimesUTC[end].UTC().Format(dateLayout) == date {
			end++
		}

		day := models.DailySummary{Date: date, Hours: end - start}
		var flSum float64
		var flCount int
		for i := start; i < end; i++ {
			if t := temps.At(i); t.Valid {
				if !day.HighC.Valid || t.Value > day.HighC.Value {
					day.HighC = t
				}
				if !day.LowC.Valid || t.Value < day.LowC.Value {
					day.LowC = t
				}
			}
			if s := snowfall.At(i); s.Valid {
				day.SnowfallCm += s.Value
			}
			if p := precip.At(i); p.Valid {
				day.PrecipitationMm += p.Value
			}
			day.EnhancedSnowfallCm += enhanced[i]
			day.RainMm += rain[i]
			day.MaxWindKmh = maxSample(day.MaxWindKmh, wind.At(i))
			day.MaxGustKmh = maxSample(day.MaxGustKmh, gusts.At(i))
			if fl := freezing.At(i); fl.Valid {
				flSum += fl.Value
				flCount++
			}
		}
		if flCount > 0 {
			day.MeanFreezingLevelM = models.Some(flSum / float64(flCount))
		}
		day.SnowRatio = WeightedRatio(window(ratios, start, end), window(precip, start, end), window(temps, start, end))
		days = append(days, day)
		start = end
	}
	return days
}

// snowRatios returns the per-hour ratios Enhance assigned, computing them when the
// forecast carries no aligned enhancement.
func snowRatios(f models.Forecast) models.Series {
	if f.Enhanced != nil && len(f.Enhanced.SnowRatio) == f.Hours() {
		return f.Enhanced.SnowRatio
	}
	return Enhance(f).SnowRatio
}

func maxSample(cur, v models.Sample) models.Sample {
	if !v.Valid {
		return cur
	}
	if !cur.Valid || v.Value > cur.Value {
		return v
	}
	return cur
}

func window(s models.Series, start, end int) models.Series {
	out := make(models.Series, end-start)
	for i := start; i < end; i++ {
		out[i-start] = s.At(i)
	}
	return out
}

// ErrInvalidRange is returned when a range ends before it starts.
var ErrInvalidRange = errors.New("range end is before start")

// Accumulate returns the running total of a series, treating nulls as zero.
func Accumulate(s models.Series) []float64 {
	out := make([]float64, len(s))
	var total float64
	for i, v := range s {
		if v.Valid {
			total += v.Value
		}
		out[i] = total
	}
	return out
}

// RangeTotal sums a variable over hours in [start, end). The range is clamped to the
// forecast's time axis; a zero start or end means the forecast's first or last hour.
func RangeTotal(f models.Forecast, v models.Variable, start, end time.Time) (float64, error) {
	if f.Hours() == 0 {
		return 0, errors.New("no forecast data available")
	}
	series, ok := f.HourlyData[v]
	if !ok {
		return 0, fmt.Errorf("variable %q not in forecast", v)
	}
	if start.IsZero() {
		start = f.TimesUTC[0]
	}
	if end.IsZero() {
		end = f.TimesUTC[f.Hours()-1].Add(time.Hour)
	}
	if end.Before(start) {
		return 0, ErrInvalidRange
	}
	var total float64
	for i, ts := range f.TimesUTC {
		if ts.Before(start) || !ts.Before(end) {
			continue
		}
		if s := series.At(i); s.Valid {
			total += s.Value
		}
	}
	return total, nil
}
