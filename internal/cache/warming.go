package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-blend-service/internal/models"
	"github.com/kjstillabower/forecast-blend-service/internal/observability"
)

// BatchForecaster is implemented by the service layer. Used by CacheWarmer to avoid
// a circular dependency on the service package.
type BatchForecaster interface {
	BatchForecast(ctx context.Context, slugs []string, modelID string, elev models.ElevationSelector) (models.BatchResult, error)
}

// CacheWarmer prefetches blend forecasts for a list of resorts through the batch
// orchestrator, so warming shares its worker bound and single-flight behavior.
type CacheWarmer struct {
	forecaster BatchForecaster
	chunkSize  int
	logger     *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer. chunkSize is the batch size limit of the forecaster.
func NewCacheWarmer(forecaster BatchForecaster, chunkSize int, logger *zap.Logger) *CacheWarmer {
	if chunkSize <= 0 {
		chunkSize = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{forecaster: forecaster, chunkSize: chunkSize, logger: logger}
}

// Warm fetches the summit blend for each slug. Returns an error naming every failed slug.
func (w *CacheWarmer) Warm(ctx context.Context, slugs []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("locations", len(slugs)))

	var errs []error
	for i := 0; i < len(slugs); i += w.chunkSize {
		chunk := slugs[i:min(i+w.chunkSize, len(slugs))]
		res, err := w.forecaster.BatchForecast(ctx, chunk, models.BlendModelID, models.Summit())
		if err != nil {
			errs = append(errs, fmt.Errorf("warm batch: %w", err))
			continue
		}
		failed := make([]string, 0, len(res.Errors))
		for slug := range res.Errors {
			failed = append(failed, slug)
		}
		sort.Strings(failed)
		for _, slug := range failed {
			errs = append(errs, fmt.Errorf("warm %s: %s", slug, res.Errors[slug]))
		}
	}

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete", zap.Int("locations", len(slugs)), zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, slugs []string, interval time.Duration) error {
	if err := w.Warm(ctx, slugs); err != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, slugs); err != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
