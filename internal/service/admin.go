package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kjstillabower/forecast-blend-service/internal/cache"
	"github.com/kjstillabower/forecast-blend-service/internal/client"
)

// CacheStats reports both cache tiers.
type CacheStats struct {
	Raw   cache.Stats `json:"raw"`
	Blend cache.Stats `json:"blend"`
}

// BlendConfig describes the configured blend.
type BlendConfig struct {
	Models      []string           `json:"models"`
	Weights     map[string]float64 `json:"weights"`
	TotalWeight float64            `json:"totalWeight"`
	Description string             `json:"description"`
}

// CacheStats returns entry and lookup counters per tier.
func (s *ForecastService) CacheStats() CacheStats {
	return CacheStats{
		Raw:   s.fetcher.raw.Store().Stats(),
		Blend: s.blends.Store().Stats(),
	}
}

// ClearCaches empties both tiers. In-flight computations are not cancelled and may
// repopulate their keys when they finish.
func (s *ForecastService) ClearCaches(ctx context.Context) error {
	var errs []error
	if err := s.fetcher.raw.Store().Clear(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clear raw cache: %w", err))
	}
	if err := s.blends.Store().Clear(ctx); err != nil {
		errs = append(errs, fmt.Errorf("clear blend cache: %w", err))
	}
	s.logger.Info("caches cleared")
	return errors.Join(errs...)
}

// Models lists the registered upstream models.
func (s *ForecastService) Models() []client.ModelConfig {
	return s.registry.List()
}

// Model returns one registered model by id or alias.
func (s *ForecastService) Model(id string) (client.ModelConfig, error) {
	m, ok := s.registry.Lookup(id)
	if !ok {
		return client.ModelConfig{}, fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	return m, nil
}

// BlendConfig returns the active blend weights and their description.
func (s *ForecastService) BlendConfig() BlendConfig {
	active := s.cfg.Weights.Active()
	weights := make(map[string]float64, len(active))
	for _, id := range active {
		weights[id] = s.cfg.Weights[id]
	}
	return BlendConfig{
		Models:      active,
		Weights:     weights,
		TotalWeight: s.cfg.Weights.Total(),
		Description: s.cfg.Weights.Description(),
	}
}

// Slugs lists the resort directory, used for cache warming.
func (s *ForecastService) Slugs() []string {
	if s.directory == nil {
		return nil
	}
	return s.directory.Slugs()
}
