package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/forecast-blend-service/internal/models"
	"github.com/kjstillabower/forecast-blend-service/internal/snow"
)

// ModelTotal is one constituent model's contribution to a blend debug report.
type ModelTotal struct {
	Weight float64 `json:"weight"`
	Total  float64 `json:"total"`
	Hours  int     `json:"hours"`
}

// BlendDebug compares per-model totals of one variable against the blended forecast.
// WeightedTotal is the weighted mean of the model totals; BlendTotal sums the hourly
// blend, which differs when models cover different hours.
type BlendDebug struct {
	Variable      models.Variable       `json:"variable"`
	Unit          string                `json:"unit"`
	Models        map[string]ModelTotal `json:"models"`
	Errors        map[string]string     `json:"errors"`
	WeightedTotal *float64              `json:"weightedTotal"`
	BlendTotal    *float64              `json:"blendTotal"`
	BlendError    string                `json:"blendError,omitempty"`
}

// BlendDebug fetches every weighted model and the blend for loc and reports the total
// of v for each.
func (s *ForecastService) BlendDebug(ctx context.Context, loc models.Location, elev models.ElevationSelector, v models.Variable) (BlendDebug, error) {
	if err := checkCoordinates(loc.Lat, loc.Lon); err != nil {
		return BlendDebug{}, err
	}
	if !v.Valid() {
		return BlendDebug{}, fmt.Errorf("%w: unknown variable %q", ErrInvalidRange, v)
	}
	out := BlendDebug{
		Variable: v,
		Unit:     models.CanonicalUnits[v],
		Models:   make(map[string]ModelTotal),
		Errors:   make(map[string]string),
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, id := range s.cfg.Weights.Active() {
		g.Go(func() error {
			f, _, err := s.fetcher.Fetch(ctx, loc, id, elev)
			var total float64
			if err == nil {
				total, err = snow.RangeTotal(f, v, time.Time{}, time.Time{})
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Errors[id] = err.Error()
				return nil
			}
			out.Models[id] = ModelTotal{Weight: s.cfg.Weights[id], Total: total, Hours: f.Hours()}
			return nil
		})
	}
	_ = g.Wait()

	ids := make([]string, 0, len(out.Models))
	for id := range out.Models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var num, den float64
	for _, id := range ids {
		m := out.Models[id]
		num += m.Total * m.Weight
		den += m.Weight
	}
	if den > 0 {
		w := num / den
		out.WeightedTotal = &w
	}

	blended, err := s.GetForecast(ctx, Query{Location: loc, ModelID: models.BlendModelID, Elevation: elev})
	if err == nil {
		var total float64
		if total, err = snow.RangeTotal(blended, v, time.Time{}, time.Time{}); err == nil {
			out.BlendTotal = &total
		}
	}
	if err != nil {
		out.BlendError = err.Error()
	}
	return out, nil
}
