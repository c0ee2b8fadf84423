package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/forecast-blend-service/internal/blend"
	"github.com/kjstillabower/forecast-blend-service/internal/cache"
	"github.com/kjstillabower/forecast-blend-service/internal/client"
	"github.com/kjstillabower/forecast-blend-service/internal/models"
	"github.com/kjstillabower/forecast-blend-service/internal/observability"
	"github.com/kjstillabower/forecast-blend-service/internal/snow"
)

// Directory resolves resort slugs and coordinates to locations. Implementations are read-only.
type Directory interface {
	Lookup(slug string) (models.Location, bool)
	Match(lat, lon float64) (models.Location, bool)
	Slugs() []string
}

// Config holds pipeline settings.
type Config struct {
	Weights              blend.Weights
	BatchMaxLocations    int
	BatchWorkers         int
	BatchTimeout         time.Duration
	CompareDefaultModels []string
}

// Query selects one forecast.
type Query struct {
	Location  models.Location
	ModelID   string
	Elevation models.ElevationSelector
}

// ForecastService runs the forecast pipeline: raw or blend cache first, then per-model
// fetches, blending and snow enhancement on a miss. Caches are owned by the service
// instance; there is no package-level state.
type ForecastService struct {
	fetcher   *Fetcher
	registry  *client.Registry
	directory Directory
	blends    *cache.Loader[models.Forecast]
	cfg       Config
	logger    *zap.Logger
}

// NewForecastService validates cfg and wires the pipeline. registry must be the one
// the fetcher uses.
func NewForecastService(fetcher *Fetcher, registry *client.Registry, directory Directory, blends *cache.Loader[models.Forecast], cfg Config, logger *zap.Logger) (*ForecastService, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("blend weights: %w", err)
	}
	for _, id := range cfg.Weights.Active() {
		if _, ok := registry.Lookup(id); !ok {
			return nil, fmt.Errorf("blend weights: %w: %s", ErrUnknownModel, id)
		}
	}
	if cfg.BatchMaxLocations <= 0 {
		cfg.BatchMaxLocations = 50
	}
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = 8
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 60 * time.Second
	}
	if len(cfg.CompareDefaultModels) == 0 {
		cfg.CompareDefaultModels = []string{models.BlendModelID, "gfs", "ifs", "aifs"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ForecastService{
		fetcher:   fetcher,
		registry:  registry,
		directory: directory,
		blends:    blends,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// ResolveSlug returns the directory location for slug.
func (s *ForecastService) ResolveSlug(slug string) (models.Location, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if s.directory != nil {
		if loc, ok := s.directory.Lookup(slug); ok {
			return loc, nil
		}
	}
	return models.Location{}, fmt.Errorf("%w: %s", ErrLocationNotFound, slug)
}

// ResolveCoordinates validates lat/lon and returns the matching resort when one lies
// within the directory's match radius, or a custom location otherwise.
func (s *ForecastService) ResolveCoordinates(lat, lon float64) (models.Location, error) {
	if err := checkCoordinates(lat, lon); err != nil {
		return models.Location{}, err
	}
	if s.directory != nil {
		if loc, ok := s.directory.Match(lat, lon); ok {
			return loc, nil
		}
	}
	return models.Location{Lat: lat, Lon: lon}, nil
}

// GetForecast returns the forecast for q, blending when q.ModelID is "blend" or empty.
// Single-model forecasts come back with enhanced snowfall and daily summaries attached.
func (s *ForecastService) GetForecast(ctx context.Context, q Query) (models.Forecast, error) {
	if err := checkCoordinates(q.Location.Lat, q.Location.Lon); err != nil {
		return models.Forecast{}, err
	}
	modelID, err := s.canonicalModel(q.ModelID)
	if err != nil {
		return models.Forecast{}, err
	}
	logger := observability.LoggerFromContext(ctx, s.logger)
	observability.RecordForecastQuery(q.Location.ID())
	start := time.Now()

	if modelID == models.BlendModelID {
		key := cache.Key(q.Location, models.BlendModelID, q.Elevation)
		f, cached, err := s.blends.GetOrCompute(ctx, key, func(ctx context.Context) (models.Forecast, error) {
			return s.computeBlend(ctx, q.Location, q.Elevation)
		})
		if err != nil {
			return models.Forecast{}, s.wrapWaitError(err)
		}
		logger.Debug("forecast served", zap.String("key", key), zap.Bool("cached", cached), zap.Duration("duration", time.Since(start)))
		return f, nil
	}

	f, cached, err := s.fetcher.Fetch(ctx, q.Location, modelID, q.Elevation)
	if err != nil {
		return models.Forecast{}, s.wrapWaitError(err)
	}
	logger.Debug("forecast served", zap.String("model", modelID), zap.String("location", q.Location.ID()), zap.Bool("cached", cached), zap.Duration("duration", time.Since(start)))
	return snow.WithEnhancement(f), nil
}

// computeBlend fetches every positively weighted model concurrently. Failed models are
// logged and excluded; the blend fails only when none succeed.
func (s *ForecastService) computeBlend(ctx context.Context, loc models.Location, elev models.ElevationSelector) (models.Forecast, error) {
	start := time.Now()
	ids := s.cfg.Weights.Active()

	var (
		mu       sync.Mutex
		results  = make(map[string]models.Forecast, len(ids))
		failures []error
		g        errgroup.Group
	)
	for _, id := range ids {
		g.Go(func() error {
			f, _, err := s.fetcher.Fetch(ctx, loc, id, elev)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				observability.BlendModelFailuresTotal.WithLabelValues(id).Inc()
				s.logger.Warn("model excluded from blend", zap.String("model", id), zap.String("location", loc.ID()), zap.Error(err))
				failures = append(failures, err)
				return nil
			}
			results[id] = f
			return nil
		})
	}
	_ = g.Wait()

	if len(results) == 0 {
		s.logger.Error("all blend models unavailable", zap.String("location", loc.ID()), zap.Int("models", len(ids)))
		return models.Forecast{}, fmt.Errorf("%w: %w", ErrAllModelsUnavailable, errors.Join(failures...))
	}

	out, err := blend.Compute(results, s.cfg.Weights)
	if err != nil {
		return models.Forecast{}, fmt.Errorf("%w: %w", ErrAllModelsUnavailable, err)
	}
	if aligned, _, err := blend.Align(results); err == nil {
		out.Spread = blend.Spread(aligned)
	}
	out = snow.WithEnhancement(out)

	observability.BlendDuration.Observe(time.Since(start).Seconds())
	s.logger.Debug("blend computed",
		zap.String("location", loc.ID()),
		zap.Strings("sources", out.Sources),
		zap.Int("failed", len(failures)),
		zap.Int("hours", out.Hours()),
	)
	return out, nil
}

// canonicalModel lowercases id, defaults it to the blend, and rejects unregistered ids.
func (s *ForecastService) canonicalModel(id string) (string, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" || id == models.BlendModelID {
		return models.BlendModelID, nil
	}
	m, ok := s.registry.Lookup(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	return m.ID, nil
}

// peek returns a cached forecast for q without computing.
func (s *ForecastService) peek(ctx context.Context, loc models.Location, modelID string, elev models.ElevationSelector) (models.Forecast, bool) {
	if modelID == models.BlendModelID {
		return s.blends.Peek(ctx, cache.Key(loc, models.BlendModelID, elev))
	}
	f, ok := s.fetcher.Peek(ctx, loc, modelID, elev)
	if !ok {
		return models.Forecast{}, false
	}
	return snow.WithEnhancement(f), true
}

// computeMissed produces the forecast for a batch item whose peek missed, without
// counting a second cache miss. modelID must be canonical.
func (s *ForecastService) computeMissed(ctx context.Context, loc models.Location, modelID string, elev models.ElevationSelector) (models.Forecast, error) {
	observability.RecordForecastQuery(loc.ID())
	if modelID == models.BlendModelID {
		f, err := s.blends.Compute(ctx, cache.Key(loc, models.BlendModelID, elev), func(ctx context.Context) (models.Forecast, error) {
			return s.computeBlend(ctx, loc, elev)
		})
		if err != nil {
			return models.Forecast{}, s.wrapWaitError(err)
		}
		return f, nil
	}
	f, err := s.fetcher.fetchAfterMiss(ctx, loc, modelID, elev)
	if err != nil {
		return models.Forecast{}, s.wrapWaitError(err)
	}
	return snow.WithEnhancement(f), nil
}

func (s *ForecastService) wrapWaitError(err error) error {
	if errors.Is(err, cache.ErrWaitTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

func checkCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: lat %g lon %g", ErrInvalidLocation, lat, lon)
	}
	return nil
}
