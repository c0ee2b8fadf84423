package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/forecast-blend-service/internal/models"
	"github.com/kjstillabower/forecast-blend-service/internal/observability"
)

// Compare fetches loc under each model id concurrently (defaults when modelIDs is empty).
// An unknown id fails the whole request; upstream failures are reported per model.
// It fails with ErrAllModelsUnavailable only when no model produced a forecast.
func (s *ForecastService) Compare(ctx context.Context, loc models.Location, modelIDs []string, elev models.ElevationSelector) (models.ComparisonResult, error) {
	if err := checkCoordinates(loc.Lat, loc.Lon); err != nil {
		return models.ComparisonResult{}, err
	}
	if len(dedupe(modelIDs)) == 0 {
		modelIDs = s.cfg.CompareDefaultModels
	}
	ids := make([]string, 0, len(modelIDs))
	seen := make(map[string]struct{}, len(modelIDs))
	for _, raw := range dedupe(modelIDs) {
		id, err := s.canonicalModel(raw)
		if err != nil {
			return models.ComparisonResult{}, err
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	result := models.ComparisonResult{
		Lat:             loc.Lat,
		Lon:             loc.Lon,
		ElevationMeters: loc.ResolveElevation(elev),
		Forecasts:       make(map[string]models.Forecast, len(ids)),
		Errors:          make(map[string]string),
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(s.cfg.BatchWorkers)
	for _, id := range ids {
		g.Go(func() error {
			f, err := s.GetForecast(ctx, Query{Location: loc, ModelID: id, Elevation: elev})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[id] = err.Error()
				errs = append(errs, err)
				observability.BatchItemsTotal.WithLabelValues("compare", "error").Inc()
				return nil
			}
			result.Forecasts[id] = f
			observability.BatchItemsTotal.WithLabelValues("compare", "success").Inc()
			return nil
		})
	}
	_ = g.Wait()

	if len(result.Forecasts) == 0 {
		return result, fmt.Errorf("%w: %w", ErrAllModelsUnavailable, errors.Join(errs...))
	}
	if result.ElevationMeters == nil {
		// Custom coordinates: report the grid elevation of the first model by id.
		got := make([]string, 0, len(result.Forecasts))
		for id := range result.Forecasts {
			got = append(got, id)
		}
		sort.Strings(got)
		if e := result.Forecasts[got[0]].ElevationMeters; e != nil {
			v := *e
			result.ElevationMeters = &v
		}
	}
	if len(result.Errors) == 0 {
		result.Errors = nil
	}
	return result, nil
}
