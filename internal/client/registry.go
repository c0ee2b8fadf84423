package client

import (
	"sort"
	"strings"
)

// ModelConfig describes one upstream forecast model.
type ModelConfig struct {
	ID                string  `json:"modelId"`
	APIModel          string  `json:"-"`
	DisplayName       string  `json:"displayName"`
	Provider          string  `json:"provider"`
	MaxForecastDays   int     `json:"maxForecastDays"`
	ResolutionDegrees float64 `json:"resolutionDegrees"`
	Description       string  `json:"description"`
}

// Registry is the closed set of models the service can fetch, plus lookup aliases.
// It is read-only after construction.
type Registry struct {
	models  map[string]ModelConfig
	aliases map[string]string
}

// NewRegistry builds a registry from configs and an alias→id map.
func NewRegistry(configs []ModelConfig, aliases map[string]string) *Registry {
	r := &Registry{models: make(map[string]ModelConfig, len(configs)), aliases: make(map[string]string, len(aliases))}
	for _, c := range configs {
		r.models[c.ID] = c
	}
	for alias, id := range aliases {
		r.aliases[alias] = id
	}
	return r
}

// DefaultRegistry returns the Open-Meteo models the service supports.
func DefaultRegistry() *Registry {
	return NewRegistry([]ModelConfig{
		{ID: "gfs", APIModel: "gfs_seamless", DisplayName: "GFS", Provider: "NOAA", MaxForecastDays: 16, ResolutionDegrees: 0.25,
			Description: "Global Forecast System - NOAA's primary global weather model"},
		{ID: "ifs", APIModel: "ecmwf_ifs025", DisplayName: "IFS", Provider: "ECMWF", MaxForecastDays: 10, ResolutionDegrees: 0.25,
			Description: "Integrated Forecasting System - ECMWF's operational model"},
		{ID: "aifs", APIModel: "ecmwf_aifs025_single", DisplayName: "AIFS", Provider: "ECMWF", MaxForecastDays: 15, ResolutionDegrees: 0.25,
			Description: "Artificial Intelligence Forecast System - ECMWF's AI-based model"},
		{ID: "icon", APIModel: "icon_seamless", DisplayName: "ICON", Provider: "DWD", MaxForecastDays: 7, ResolutionDegrees: 0.125,
			Description: "Icosahedral Nonhydrostatic Model - DWD's global model"},
		{ID: "jma", APIModel: "jma_seamless", DisplayName: "JMA", Provider: "JMA", MaxForecastDays: 11, ResolutionDegrees: 0.25,
			Description: "Japan Meteorological Agency global model"},
		{ID: "hrrr", APIModel: "gfs_hrrr", DisplayName: "HRRR", Provider: "NOAA", MaxForecastDays: 2, ResolutionDegrees: 0.03,
			Description: "High-Resolution Rapid Refresh - NOAA's 3km model"},
		{ID: "nbm", APIModel: "ncep_nbm_conus", DisplayName: "NBM", Provider: "NOAA", MaxForecastDays: 7, ResolutionDegrees: 0.025,
			Description: "National Blend of Models - NOAA's statistically post-processed blend"},
	}, map[string]string{
		"noaa":           "gfs",
		"global":         "gfs",
		"ecmwf":          "ifs",
		"european":       "ifs",
		"ai":             "aifs",
		"german":         "icon",
		"dwd":            "icon",
		"japan":          "jma",
		"hrrr3km":        "hrrr",
		"national_blend": "nbm",
	})
}

// Lookup resolves an id or alias, case-insensitively.
func (r *Registry) Lookup(id string) (ModelConfig, bool) {
	key := strings.ToLower(strings.TrimSpace(id))
	if m, ok := r.models[key]; ok {
		return m, true
	}
	if canonical, ok := r.aliases[key]; ok {
		m, ok := r.models[canonical]
		return m, ok
	}
	return ModelConfig{}, false
}

// IDs returns the registered model ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.models))
	for id := range r.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns all model configs sorted by id.
func (r *Registry) List() []ModelConfig {
	out := make([]ModelConfig, 0, len(r.models))
	for _, id := range r.IDs() {
		out = append(out, r.models[id])
	}
	return out
}
