// Package blend combines several model forecasts into one weighted forecast.
package blend

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/forecast-blend-service/internal/models"
)

// ErrNoInputs is returned when no forecast with a positive weight is supplied.
var ErrNoInputs = errors.New("no weighted forecasts to blend")

// ErrNoCommonHours is returned when the constituent time axes do not overlap.
var ErrNoCommonHours = errors.New("constituent forecasts share no hours")

// Weights maps model id to a non-negative blend weight. Absent or zero-weight
// models never contribute.
type Weights map[string]float64

// Active returns the ids with a positive weight, sorted.
func (w Weights) Active() []string {
	ids := make([]string, 0, len(w))
	for id, weight := range w {
		if weight > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Total returns the sum of positive weights.
func (w Weights) Total() float64 {
	var total float64
	for _, id := range w.Active() {
		total += w[id]
	}
	return total
}

// Validate rejects negative weights and sets with no positive weight.
func (w Weights) Validate() error {
	for id, weight := range w {
		if weight < 0 {
			return fmt.Errorf("weight for %s must be non-negative, got %g", id, weight)
		}
	}
	if len(w.Active()) == 0 {
		return errors.New("at least one model needs a positive weight")
	}
	return nil
}

// Description renders the weights grouped by weight, heaviest first,
// e.g. "Weighted multi-model blend: HRRR (3x); GFS, IFS (2x)".
func (w Weights) Description() string {
	groups := make(map[float64][]string)
	for _, id := range w.Active() {
		groups[w[id]] = append(groups[w[id]], strings.ToUpper(id))
	}
	keys := make([]float64, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(keys)))

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s (%sx)", strings.Join(groups[k], ", "), strconv.FormatFloat(k, 'g', -1, 64)))
	}
	return "Weighted multi-model blend: " + strings.Join(parts, "; ")
}

// Align truncates every forecast to the timestamps common to all of them,
// preserving order. The returned forecasts are copies.
func Align(forecasts map[string]models.Forecast) (map[string]models.Forecast, []time.Time, error) {
	ids := sortedIDs(forecasts)
	if len(ids) == 0 {
		return nil, nil, ErrNoInputs
	}

	counts := make(map[int64]int)
	for _, id := range ids {
		for _, ts := range forecasts[id].TimesUTC {
			counts[ts.Unix()]++
		}
	}
	var common []time.Time
	for _, ts := range forecasts[ids[0]].TimesUTC {
		if counts[ts.Unix()] == len(ids) {
			common = append(common, ts.UTC())
		}
	}
	if len(common) == 0 {
		return nil, nil, ErrNoCommonHours
	}

	out := make(map[string]models.Forecast, len(ids))
	for _, id := range ids {
		f := forecasts[id]
		index := make(map[int64]int, f.Hours())
		for i, ts := range f.TimesUTC {
			index[ts.Unix()] = i
		}
		aligned := f.Clone()
		aligned.TimesUTC = append([]time.Time(nil), common...)
		for v, series := range f.HourlyData {
			s := make(models.Series, len(common))
			for j, ts := range common {
				s[j] = series.At(index[ts.Unix()])
			}
			aligned.HourlyData[v] = s
		}
		aligned.Enhanced = nil
		aligned.Daily = nil
		out[id] = aligned
	}
	return out, common, nil
}

// Compute blends forecasts keyed by model id with the given weights.
//
// Per variable and hour, the blended value is sum(value*weight)/sum(weight) over the
// models that have a non-null value at that hour; an hour with no values stays null.
// Models are combined in id order so identical inputs produce identical output.
// The blend carries the latest model run among its constituents.
func Compute(forecasts map[string]models.Forecast, weights Weights) (models.Forecast, error) {
	weighted := make(map[string]models.Forecast)
	for id, f := range forecasts {
		if weights[id] > 0 {
			weighted[id] = f
		}
	}
	aligned, times, err := Align(weighted)
	if err != nil {
		return models.Forecast{}, err
	}
	ids := sortedIDs(aligned)
	first := aligned[ids[0]]

	out := models.Forecast{
		Lat:             first.Lat,
		Lon:             first.Lon,
		APILat:          first.APILat,
		APILon:          first.APILon,
		ElevationMeters: first.ElevationMeters,
		ModelID:         models.BlendModelID,
		TimesUTC:        times,
		HourlyData:      make(models.HourlyData),
		HourlyUnits:     make(models.HourlyUnits),
		Sources:         ids,
	}

	for _, v := range models.AllVariables {
		present := false
		for _, id := range ids {
			if _, ok := aligned[id].HourlyData[v]; ok {
				present = true
				break
			}
		}
		if !present {
			continue
		}
		series := make(models.Series, len(times))
		for i := range times {
			var num, den float64
			for _, id := range ids {
				s := aligned[id].HourlyData[v].At(i)
				if !s.Valid {
					continue
				}
				num += s.Value * weights[id]
				den += weights[id]
			}
			if den > 0 {
				series[i] = models.Some(num / den)
			}
		}
		out.HourlyData[v] = series
		out.HourlyUnits[v] = models.CanonicalUnits[v]
	}

	for _, id := range ids {
		run := aligned[id].ModelRunUTC
		if run != nil && (out.ModelRunUTC == nil || run.After(*out.ModelRunUTC)) {
			r := *run
			out.ModelRunUTC = &r
		}
	}
	return out, nil
}

func sortedIDs(forecasts map[string]models.Forecast) []string {
	ids := make([]string, 0, len(forecasts))
	for id := range forecasts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
