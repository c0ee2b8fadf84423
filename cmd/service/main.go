package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-blend-service/internal/blend"
	"github.com/kjstillabower/forecast-blend-service/internal/cache"
	"github.com/kjstillabower/forecast-blend-service/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-blend-service/internal/client"
	"github.com/kjstillabower/forecast-blend-service/internal/config"
	httphandler "github.com/kjstillabower/forecast-blend-service/internal/http"
	"github.com/kjstillabower/forecast-blend-service/internal/models"
	"github.com/kjstillabower/forecast-blend-service/internal/observability"
	"github.com/kjstillabower/forecast-blend-service/internal/resorts"
	"github.com/kjstillabower/forecast-blend-service/internal/service"
	"github.com/kjstillabower/forecast-blend-service/internal/traffic"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const inFlightCheckInterval = 100 * time.Millisecond

// app is the wired service, ready to serve.
type app struct {
	server    *http.Server
	handler   *httphandler.Handler
	svc       *service.ForecastService
	inFlight  *httphandler.InFlightTracker
	memcached *cache.MemcachedCache[models.Forecast]
}

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.WarmEnabled {
		go a.warm(ctx, cfg, logger)
	}

	go func() {
		logger.Info("server starting", zap.String("addr", a.server.Addr), zap.String("version", version))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()
	a.shutdown(cfg.ShutdownTimeout, logger)
}

// newApp builds every component from cfg without starting the listener.
func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	directory, err := resorts.Load(cfg.ResortsFile)
	if err != nil {
		return nil, fmt.Errorf("resorts: %w", err)
	}
	logger.Info("resort directory loaded", zap.Int("resorts", len(directory.Slugs())), zap.String("file", cfg.ResortsFile))

	registry := client.DefaultRegistry()
	upstream, err := client.NewOpenMeteoClient(client.Options{
		APIURL:         cfg.UpstreamURL,
		Timeout:        cfg.UpstreamTimeout,
		ForecastDays:   cfg.ForecastDays,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		Registry:       registry,
	})
	if err != nil {
		return nil, fmt.Errorf("upstream client: %w", err)
	}

	var breakers *circuitbreaker.Set
	if cfg.CircuitBreakerEnabled {
		breakers = circuitbreaker.NewSet(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitFailureThreshold,
			SuccessThreshold: cfg.CircuitSuccessThreshold,
			Timeout:          cfg.CircuitTimeout,
			OnStateChange: func(model string, from, to circuitbreaker.State) {
				observability.CircuitBreakerState.WithLabelValues(model).Set(float64(to))
				logger.Warn("circuit breaker state change",
					zap.String("model", model), zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitFailureThreshold), zap.Duration("timeout", cfg.CircuitTimeout))
	}

	a := &app{inFlight: &httphandler.InFlightTracker{}}
	var rawStore cache.Store[models.Forecast]
	switch cfg.CacheBackend {
	case "memcached":
		a.memcached = cache.NewMemcachedCache[models.Forecast]("raw", cfg.MemcachedAddrs, cfg.RawCacheTTL, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		rawStore = a.memcached
		logger.Info("raw cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		rawStore = cache.NewInMemoryCache[models.Forecast]("raw", cfg.RawCacheTTL, cfg.CacheMaxEntries)
		logger.Info("raw cache backend: in_memory", zap.Int("max_entries", cfg.CacheMaxEntries))
	}
	raw := cache.NewLoader[models.Forecast]("raw", rawStore, cfg.CoalesceTimeout, logger)
	blends := cache.NewLoader[models.Forecast]("blend",
		cache.NewInMemoryCache[models.Forecast]("blend", cfg.BlendCacheTTL, cfg.CacheMaxEntries), cfg.CoalesceTimeout, logger)

	outcomes := traffic.NewSet(cfg.HealthWindow)
	fetcher := service.NewFetcher(upstream, registry, raw, service.FetcherOptions{
		Timeout:       cfg.UpstreamTimeout,
		MaxConcurrent: int64(cfg.UpstreamMaxConcurrent),
		RateLimit:     rate.Limit(cfg.UpstreamRateLimitRPS),
		Burst:         cfg.UpstreamRateLimitBurst,
		Breakers:      breakers,
		Outcomes:      outcomes,
	}, logger)

	svc, err := service.NewForecastService(fetcher, registry, directory, blends, service.Config{
		Weights:              blend.Weights(cfg.BlendWeights),
		BatchMaxLocations:    cfg.BatchMaxLocations,
		BatchWorkers:         cfg.BatchWorkers,
		BatchTimeout:         cfg.BatchTimeout,
		CompareDefaultModels: cfg.CompareDefaultModels,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.svc = svc
	logger.Info("blend configured", zap.String("description", svc.BlendConfig().Description))

	health := &httphandler.HealthConfig{
		Window:     cfg.HealthWindow,
		ErrorRate:  cfg.HealthErrorRate,
		MinSamples: cfg.HealthMinSamples,
		Outcomes:   outcomes,
		Breakers:   breakers,
		Version:    version,
	}
	if a.memcached != nil {
		health.CachePing = a.memcached.Ping
	}
	a.handler = httphandler.NewHandler(svc, directory, health, logger)

	var limiter *rate.Limiter
	if cfg.HTTPRateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.HTTPRateLimitRPS), cfg.HTTPRateLimitBurst)
	}
	requests := traffic.NewTracker(cfg.HealthWindow)
	observability.RegisterTrafficGauges(requests, cfg.HealthWindow)
	if len(cfg.TrackedLocations) > 0 {
		observability.SetTrackedLocations(cfg.TrackedLocations)
	}

	router := httphandler.NewRouter(a.handler, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
		Traffic:        requests,
		InFlight:       a.inFlight,
		AdminEnabled:   cfg.AdminEnabled,
	}, logger)

	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Batch requests may legitimately run up to the request timeout.
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}
	return a, nil
}

// warm fills the blend cache for every resort once, then keeps it fresh until ctx ends.
func (a *app) warm(ctx context.Context, cfg *config.Config, logger *zap.Logger) {
	warmer := cache.NewCacheWarmer(a.svc, cfg.BatchMaxLocations, logger)
	slugs := a.svc.Slugs()
	if err := warmer.Warm(ctx, slugs); err != nil {
		logger.Warn("cache warming failed", zap.Error(err))
	}
	if cfg.WarmInterval <= 0 {
		return
	}
	if err := warmer.WarmPeriodic(ctx, slugs, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("periodic cache warming stopped", zap.Error(err))
	}
}

// shutdown flips health to shutting-down, drains in-flight requests and flushes telemetry.
func (a *app) shutdown(timeout time.Duration, logger *zap.Logger) {
	logger.Info("graceful shutdown triggered")
	a.handler.SetShuttingDown(true)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", a.inFlight.Count()))
	if err := a.inFlight.WaitForZero(ctx, inFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", a.inFlight.Count()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if a.memcached != nil {
		if err := a.memcached.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
