package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/forecast-blend-service/internal/models"
	"github.com/kjstillabower/forecast-blend-service/internal/observability"
)

type batchItem struct {
	slug string
	loc  models.Location
}

// BatchForecast returns one forecast per slug. Cached slugs resolve without a worker;
// the rest run concurrently under the worker limit and the batch timeout. A failure
// is recorded against its slug and never affects siblings. Every distinct slug
// appears in exactly one of the result maps.
func (s *ForecastService) BatchForecast(ctx context.Context, slugs []string, modelID string, elev models.ElevationSelector) (models.BatchResult, error) {
	slugs = dedupe(slugs)
	if len(slugs) == 0 {
		return models.BatchResult{}, ErrEmptyBatch
	}
	if len(slugs) > s.cfg.BatchMaxLocations {
		return models.BatchResult{}, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(slugs), s.cfg.BatchMaxLocations)
	}
	modelID, err := s.canonicalModel(modelID)
	if err != nil {
		return models.BatchResult{}, err
	}

	start := time.Now()
	result := models.BatchResult{
		Forecasts: make(map[string]models.Forecast, len(slugs)),
		Errors:    make(map[string]string),
	}

	var pending []batchItem
	cachedCount := 0
	for _, slug := range slugs {
		loc, err := s.ResolveSlug(slug)
		if err != nil {
			result.Errors[slug] = err.Error()
			observability.BatchItemsTotal.WithLabelValues("batch", "error").Inc()
			continue
		}
		if f, ok := s.peek(ctx, loc, modelID, elev); ok {
			result.Forecasts[slug] = f
			cachedCount++
			observability.BatchItemsTotal.WithLabelValues("batch", "cached").Inc()
			continue
		}
		pending = append(pending, batchItem{slug: slug, loc: loc})
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.BatchTimeout)
	defer cancel()

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.cfg.BatchWorkers)
	for _, item := range pending {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				defer mu.Unlock()
				result.Errors[item.slug] = fmt.Errorf("%w: batch deadline reached before fetch: %v", ErrTimeout, err).Error()
				observability.BatchItemsTotal.WithLabelValues("batch", "error").Inc()
				return nil
			}
			f, err := s.computeMissed(ctx, item.loc, modelID, elev)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[item.slug] = err.Error()
				observability.BatchItemsTotal.WithLabelValues("batch", "error").Inc()
				return nil
			}
			result.Forecasts[item.slug] = f
			observability.BatchItemsTotal.WithLabelValues("batch", "success").Inc()
			return nil
		})
	}
	_ = g.Wait()

	observability.LoggerFromContext(ctx, s.logger).Info("batch forecast complete",
		zap.String("model", modelID),
		zap.String("elevation", elev.String()),
		zap.Int("locations", len(slugs)),
		zap.Int("cached", cachedCount),
		zap.Int("succeeded", len(result.Forecasts)),
		zap.Int("failed", len(result.Errors)),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// dedupe trims, lowercases and removes duplicate and empty slugs, keeping first occurrence order.
func dedupe(slugs []string) []string {
	seen := make(map[string]struct{}, len(slugs))
	out := make([]string, 0, len(slugs))
	for _, s := range slugs {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
