package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kjstillabower/forecast-blend-service/internal/models"
	"github.com/kjstillabower/forecast-blend-service/internal/snow"
)

// Totals is the running and windowed sum of one hourly variable.
type Totals struct {
	ModelID     string          `json:"modelId"`
	Variable    models.Variable `json:"variable"`
	Unit        string          `json:"unit"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	Total       float64         `json:"total"`
	TimesUTC    []time.Time     `json:"timesUtc"`
	Accumulated []float64       `json:"accumulated"`
}

// Totals sums v over [start, end) of the forecast selected by q. The window is clamped
// to the forecast's hours; zero start or end means the first or last hour.
func (s *ForecastService) Totals(ctx context.Context, q Query, v models.Variable, start, end time.Time) (Totals, error) {
	if !v.Valid() {
		return Totals{}, fmt.Errorf("%w: unknown variable %q", ErrInvalidRange, v)
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return Totals{}, fmt.Errorf("%w: %v", ErrInvalidRange, snow.ErrInvalidRange)
	}
	f, err := s.GetForecast(ctx, q)
	if err != nil {
		return Totals{}, err
	}
	if f.Hours() == 0 {
		return Totals{}, fmt.Errorf("%w: empty forecast", ErrUpstreamUnavailable)
	}

	first, last := f.TimesUTC[0], f.TimesUTC[f.Hours()-1].Add(time.Hour)
	if start.IsZero() || start.Before(first) {
		start = first
	}
	if end.IsZero() || end.After(last) {
		end = last
	}
	if end.Before(start) {
		end = start
	}

	total, err := snow.RangeTotal(f, v, start, end)
	if err != nil {
		if errors.Is(err, snow.ErrInvalidRange) {
			return Totals{}, fmt.Errorf("%w: %v", ErrInvalidRange, err)
		}
		return Totals{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	series := f.Series(v)
	out := Totals{
		ModelID:  f.ModelID,
		Variable: v,
		Unit:     models.CanonicalUnits[v],
		Start:    start,
		End:      end,
		Total:    total,
	}
	var window models.Series
	for i, ts := range f.TimesUTC {
		if ts.Before(start) || !ts.Before(end) {
			continue
		}
		out.TimesUTC = append(out.TimesUTC, ts)
		window = append(window, series.At(i))
	}
	out.Accumulated = snow.Accumulate(window)
	return out, nil
}
