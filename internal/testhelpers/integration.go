//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/forecast-blend-service/internal/blend"
	"github.com/kjstillabower/forecast-blend-service/internal/cache"
	"github.com/kjstillabower/forecast-blend-service/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-blend-service/internal/client"
	"github.com/kjstillabower/forecast-blend-service/internal/models"
	"github.com/kjstillabower/forecast-blend-service/internal/observability"
	"github.com/kjstillabower/forecast-blend-service/internal/resorts"
	"github.com/kjstillabower/forecast-blend-service/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	UpstreamURL   string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// IntegrationEnv is a service wired against the live upstream.
type IntegrationEnv struct {
	Service   *service.ForecastService
	Directory *resorts.Directory
	Fetcher   *service.Fetcher
	Cleanup   func()
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test unless OPEN_METEO_INTEGRATION is set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	if os.Getenv("OPEN_METEO_INTEGRATION") == "" {
		t.Skip("OPEN_METEO_INTEGRATION not set, skipping integration test")
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	return IntegrationTestConfig{
		UpstreamURL:   os.Getenv("OPEN_METEO_URL"),
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// IntegrationResorts returns a small directory of real resorts.
func IntegrationResorts(t *testing.T) *resorts.Directory {
	t.Helper()
	d, err := resorts.New([]resorts.Resort{
		{Slug: "jackson-hole", Name: "Jackson Hole", State: "WY", Country: "US", Lat: 43.5875, Lon: -110.8279, BaseElevationM: 1924, SummitElevationM: 3185},
		{Slug: "alta", Name: "Alta", State: "UT", Country: "US", Lat: 40.5884, Lon: -111.6386, BaseElevationM: 2600, SummitElevationM: 3216},
	})
	if err != nil {
		t.Fatalf("resorts.New() error = %v", err)
	}
	return d
}

// SetupIntegrationService creates a fully configured service for integration tests. The raw
// tier uses memcached when requested and reachable, falling back to in-memory.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) IntegrationEnv {
	t.Helper()
	logger, err := observability.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	registry := client.DefaultRegistry()
	upstream, err := client.NewOpenMeteoClient(client.Options{
		APIURL:       cfg.UpstreamURL,
		Timeout:      15 * time.Second,
		ForecastDays: 3,
		Registry:     registry,
	})
	if err != nil {
		t.Fatalf("NewOpenMeteoClient() error = %v", err)
	}

	var rawStore cache.Store[models.Forecast] = cache.NewInMemoryCache[models.Forecast]("raw", 10*time.Minute, 200)
	cleanup := func() {}
	if cfg.CacheBackend == "memcached" {
		mc := cache.NewMemcachedCache[models.Forecast]("raw", cfg.MemcachedAddr, 10*time.Minute, 500*time.Millisecond, 2)
		if err := mc.Ping(); err == nil {
			rawStore = mc
			cleanup = func() { _ = mc.Close() }
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available (%v), using in-memory cache", err)
		}
	}

	directory := IntegrationResorts(t)
	raw := cache.NewLoader[models.Forecast]("raw", rawStore, 30*time.Second, logger)
	blends := cache.NewLoader[models.Forecast]("blend", cache.NewInMemoryCache[models.Forecast]("blend", 10*time.Minute, 200), 45*time.Second, logger)
	fetcher := service.NewFetcher(upstream, registry, raw, service.FetcherOptions{
		Timeout:  20 * time.Second,
		Breakers: circuitbreaker.NewSet(circuitbreaker.Config{}),
	}, logger)
	svc, err := service.NewForecastService(fetcher, registry, directory, blends, service.Config{
		Weights: blend.Weights{"gfs": 2, "ifs": 2, "icon": 1},
	}, logger)
	if err != nil {
		t.Fatalf("NewForecastService() error = %v", err)
	}
	return IntegrationEnv{Service: svc, Directory: directory, Fetcher: fetcher, Cleanup: cleanup}
}
