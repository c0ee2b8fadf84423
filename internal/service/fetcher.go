package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-blend-service/internal/cache"
	"github.com/kjstillabower/forecast-blend-service/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-blend-service/internal/client"
	"github.com/kjstillabower/forecast-blend-service/internal/models"
	"github.com/kjstillabower/forecast-blend-service/internal/traffic"
)

// FetcherOptions bounds upstream usage. Zero values take defaults.
type FetcherOptions struct {
	Timeout       time.Duration // per upstream fetch, default 30s
	MaxConcurrent int64         // concurrent upstream calls, default 8
	RateLimit     rate.Limit    // upstream calls per second, default 10
	Burst         int           // default 20
	Breakers      *circuitbreaker.Set
	Outcomes      *traffic.Set
}

// Fetcher retrieves one model's forecast for a location through the raw cache.
// On a miss it calls the provider under a rate limit, a concurrency cap, a timeout
// and the model's circuit breaker, then normalizes units.
type Fetcher struct {
	provider client.ForecastProvider
	registry *client.Registry
	raw      *cache.Loader[models.Forecast]
	limiter  *rate.Limiter
	sem      *semaphore.Weighted
	timeout  time.Duration
	breakers *circuitbreaker.Set
	outcomes *traffic.Set
	logger   *zap.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(provider client.ForecastProvider, registry *client.Registry, raw *cache.Loader[models.Forecast], opts FetcherOptions, logger *zap.Logger) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}
	if opts.Outcomes == nil {
		opts.Outcomes = traffic.NewSet(0)
	}
	if registry == nil {
		registry = client.DefaultRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		provider: provider,
		registry: registry,
		raw:      raw,
		limiter:  rate.NewLimiter(opts.RateLimit, opts.Burst),
		sem:      semaphore.NewWeighted(opts.MaxConcurrent),
		timeout:  opts.Timeout,
		breakers: opts.Breakers,
		outcomes: opts.Outcomes,
		logger:   logger,
	}
}

// Fetch returns the forecast for (loc, modelID, elev). cached reports a raw cache hit.
func (f *Fetcher) Fetch(ctx context.Context, loc models.Location, modelID string, elev models.ElevationSelector) (models.Forecast, bool, error) {
	model, ok := f.registry.Lookup(modelID)
	if !ok {
		return models.Forecast{}, false, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	key := cache.Key(loc, model.ID, elev)
	return f.raw.GetOrCompute(ctx, key, func(ctx context.Context) (models.Forecast, error) {
		return f.fetchUpstream(ctx, loc, model.ID, loc.ResolveElevation(elev))
	})
}

// fetchAfterMiss is Fetch for a caller whose Peek already missed.
func (f *Fetcher) fetchAfterMiss(ctx context.Context, loc models.Location, modelID string, elev models.ElevationSelector) (models.Forecast, error) {
	model, ok := f.registry.Lookup(modelID)
	if !ok {
		return models.Forecast{}, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	return f.raw.Compute(ctx, cache.Key(loc, model.ID, elev), func(ctx context.Context) (models.Forecast, error) {
		return f.fetchUpstream(ctx, loc, model.ID, loc.ResolveElevation(elev))
	})
}

// Peek returns a cached forecast without fetching.
func (f *Fetcher) Peek(ctx context.Context, loc models.Location, modelID string, elev models.ElevationSelector) (models.Forecast, bool) {
	model, ok := f.registry.Lookup(modelID)
	if !ok {
		return models.Forecast{}, false
	}
	return f.raw.Peek(ctx, cache.Key(loc, model.ID, elev))
}

func (f *Fetcher) fetchUpstream(ctx context.Context, loc models.Location, modelID string, elevation *float64) (models.Forecast, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	tracker := f.outcomes.For(modelID)

	if err := f.limiter.Wait(ctx); err != nil {
		tracker.RecordDenied()
		return models.Forecast{}, f.classify(ctx, modelID, fmt.Errorf("rate limit wait: %w", err))
	}
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return models.Forecast{}, f.classify(ctx, modelID, fmt.Errorf("acquire upstream slot: %w", err))
	}
	defer f.sem.Release(1)

	var raw models.Forecast
	err := f.breakers.Call(ctx, modelID, func() error {
		var callErr error
		raw, callErr = f.provider.FetchModelForecast(ctx, loc.Lat, loc.Lon, modelID, elevation)
		return callErr
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			tracker.RecordDenied()
		} else {
			tracker.RecordError()
		}
		f.logger.Warn("upstream fetch failed",
			zap.String("model", modelID),
			zap.String("location", loc.ID()),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err),
		)
		return models.Forecast{}, f.classify(ctx, modelID, err)
	}

	normalized, err := models.NormalizeUnits(raw)
	if err == nil {
		err = normalized.Validate()
	}
	if err != nil {
		tracker.RecordError()
		return models.Forecast{}, fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, modelID, err)
	}
	tracker.RecordSuccess()
	return normalized, nil
}

// classify wraps a failed fetch as ErrTimeout when the fetch deadline passed, and as
// ErrUpstreamUnavailable otherwise.
func (f *Fetcher) classify(ctx context.Context, modelID string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, modelID, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, modelID, err)
}

// Outcomes returns the per-model upstream outcome windows.
func (f *Fetcher) Outcomes() *traffic.Set {
	return f.outcomes
}
