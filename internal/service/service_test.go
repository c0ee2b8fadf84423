package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/forecast-blend-service/internal/blend"
	"github.com/kjstillabower/forecast-blend-service/internal/cache"
	"github.com/kjstillabower/forecast-blend-service/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-blend-service/internal/client"
	"github.com/kjstillabower/forecast-blend-service/internal/models"
)

var testStart = time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

// fakeProvider returns a 6-hour forecast whose snowfall is snowfall[model]. Models in
// failModels and latitudes in failLats return an upstream error.
type fakeProvider struct {
	mu         sync.Mutex
	calls      map[string]int
	snowfall   map[string]models.Series
	failModels map[string]bool
	failLats   map[float64]bool
	delay      time.Duration
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		calls:      make(map[string]int),
		snowfall:   make(map[string]models.Series),
		failModels: make(map[string]bool),
		failLats:   make(map[float64]bool),
	}
}

func (p *fakeProvider) FetchModelForecast(ctx context.Context, lat, lon float64, modelID string, elevation *float64) (models.Forecast, error) {
	p.mu.Lock()
	p.calls[modelID]++
	fail := p.failModels[modelID] || p.failLats[lat]
	series, ok := p.snowfall[modelID]
	delay := p.delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return models.Forecast{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if fail {
		return models.Forecast{}, fmt.Errorf("%w: HTTP 503", client.ErrUpstreamFailure)
	}
	if !ok {
		series = models.SeriesOf(5, 5, 5, 5, 5, 5)
	}
	times := make([]time.Time, 6)
	for i := range times {
		times[i] = testStart.Add(time.Duration(i) * time.Hour)
	}
	return models.Forecast{
		Lat:             lat,
		Lon:             lon,
		APILat:          lat,
		APILon:          lon,
		ElevationMeters: elevation,
		ModelID:         modelID,
		ModelRunUTC:     models.InferModelRun(times),
		TimesUTC:        times,
		HourlyData: models.HourlyData{
			models.Snowfall:      series,
			models.Temperature2m: models.SeriesOf(-5, -5, -5, -5, -5, -5),
			models.Precipitation: models.SeriesOf(1, 1, 1, 1, 1, 1),
		},
		HourlyUnits: models.HourlyUnits{models.Snowfall: "cm", models.Temperature2m: "°C", models.Precipitation: "mm"},
	}, nil
}

func (p *fakeProvider) callCount(model string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[model]
}

func (p *fakeProvider) totalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

type fakeDirectory map[string]models.Location

func (d fakeDirectory) Lookup(slug string) (models.Location, bool) {
	loc, ok := d[slug]
	return loc, ok
}

func (d fakeDirectory) Match(lat, lon float64) (models.Location, bool) {
	for _, loc := range d {
		if math.Abs(loc.Lat-lat) <= 0.01 && math.Abs(loc.Lon-lon) <= 0.01 {
			return loc, true
		}
	}
	return models.Location{}, false
}

func (d fakeDirectory) Slugs() []string {
	out := make([]string, 0, len(d))
	for s := range d {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func testDirectory(n int) fakeDirectory {
	d := make(fakeDirectory, n)
	for i := 0; i < n; i++ {
		slug := fmt.Sprintf("resort-%d", i)
		summit := 3000.0 + float64(i)
		d[slug] = models.Location{Slug: slug, Lat: 40 + float64(i), Lon: -110, SummitM: &summit}
	}
	return d
}

type testEnv struct {
	svc      *ForecastService
	provider *fakeProvider
	logs     *observer.ObservedLogs
}

func newTestEnv(t *testing.T, weights blend.Weights, opts FetcherOptions) testEnv {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	provider := newFakeProvider()
	registry := client.DefaultRegistry()
	raw := cache.NewLoader[models.Forecast]("raw", cache.NewInMemoryCache[models.Forecast]("raw", time.Minute, 100), 5*time.Second, logger)
	blends := cache.NewLoader[models.Forecast]("blend", cache.NewInMemoryCache[models.Forecast]("blend", time.Minute, 100), 5*time.Second, logger)
	if opts.RateLimit == 0 {
		opts.RateLimit, opts.Burst = 1000, 1000
	}
	fetcher := NewFetcher(provider, registry, raw, opts, logger)
	svc, err := NewForecastService(fetcher, registry, testDirectory(5), blends, Config{Weights: weights, BatchWorkers: 3}, logger)
	if err != nil {
		t.Fatalf("NewForecastService() error = %v", err)
	}
	return testEnv{svc: svc, provider: provider, logs: logs}
}

func summitQuery(loc models.Location, model string) Query {
	return Query{Location: loc, ModelID: model, Elevation: models.Summit()}
}

var customLoc = models.Location{Lat: 39.6, Lon: -106.35}

// TestNewForecastService_RejectsBadWeights verifies weight validation at construction.
func TestNewForecastService_RejectsBadWeights(t *testing.T) {
	registry := client.DefaultRegistry()
	tests := []struct {
		name    string
		weights blend.Weights
	}{
		{"negative", blend.Weights{"gfs": -1}},
		{"all zero", blend.Weights{"gfs": 0}},
		{"unregistered", blend.Weights{"nam": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewForecastService(nil, registry, nil, nil, Config{Weights: tt.weights}, nil); err == nil {
				t.Error("NewForecastService() error = nil, want error")
			}
		})
	}
}

// TestForecastService_GetForecast_BlendExample verifies a null model hour is excluded from
// both numerator and denominator.
func TestForecastService_GetForecast_BlendExample(t *testing.T) {
	env := newTestEnv(t, blend.Weights{"gfs": 2, "ifs": 2, "icon": 1}, FetcherOptions{})
	env.provider.snowfall["gfs"] = models.SeriesOf(10, 10, 10, 10, 10, 10)
	env.provider.snowfall["ifs"] = models.SeriesOf(12, 12, 12, 12, 12, 12)
	env.provider.snowfall["icon"] = models.Series{models.Null(), models.Some(7), models.Some(7), models.Some(7), models.Some(7), models.Some(7)}

	f, err := env.svc.GetForecast(context.Background(), summitQuery(customLoc, "blend"))
	if err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if f.ModelID != models.BlendModelID {
		t.Errorf("ModelID = %q, want blend", f.ModelID)
	}
	if got := f.HourlyData[models.Snowfall][0]; !got.Valid || math.Abs(got.Value-11) > 1e-9 {
		t.Errorf("snowfall[0] = %+v, want 11", got)
	}
	// (10*2 + 12*2 + 7*1) / 5
	if got := f.HourlyData[models.Snowfall][1]; math.Abs(got.Value-10.2) > 1e-9 {
		t.Errorf("snowfall[1] = %+v, want 10.2", got)
	}
	if strings.Join(f.Sources, ",") != "gfs,icon,ifs" {
		t.Errorf("Sources = %v, want [gfs icon ifs]", f.Sources)
	}
	if f.Enhanced == nil || len(f.Enhanced.EnhancedSnowfall) != 6 {
		t.Error("blend should carry an enhanced series")
	}
	if len(f.Daily) != 1 {
		t.Errorf("Daily = %d days, want 1", len(f.Daily))
	}
	if _, ok := f.Spread["temperature_2m"]; !ok {
		t.Error("blend should carry a temperature spread")
	}
}

// TestForecastService_GetForecast_BlendToleratesModelFailure verifies a failed model is
// logged and excluded while the rest still blend.
func TestForecastService_GetForecast_BlendToleratesModelFailure(t *testing.T) {
	env := newTestEnv(t, blend.Weights{"gfs": 2, "ifs": 2}, FetcherOptions{})
	env.provider.snowfall["gfs"] = models.SeriesOf(10, 10, 10, 10, 10, 10)
	env.provider.failModels["ifs"] = true

	f, err := env.svc.GetForecast(context.Background(), summitQuery(customLoc, "blend"))
	if err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if got := f.HourlyData[models.Snowfall][0].Value; got != 10 {
		t.Errorf("snowfall[0] = %v, want 10 from gfs alone", got)
	}
	if len(f.Sources) != 1 || f.Sources[0] != "gfs" {
		t.Errorf("Sources = %v, want [gfs]", f.Sources)
	}

	warned := env.logs.FilterMessage("model excluded from blend").FilterField(zap.String("model", "ifs"))
	if warned.Len() != 1 {
		t.Errorf("excluded-model warnings for ifs = %d, want 1", warned.Len())
	}
}

// TestForecastService_GetForecast_AllModelsUnavailable verifies the blend fails when every model fails.
func TestForecastService_GetForecast_AllModelsUnavailable(t *testing.T) {
	env := newTestEnv(t, blend.Weights{"gfs": 1, "ifs": 1}, FetcherOptions{})
	env.provider.failModels["gfs"] = true
	env.provider.failModels["ifs"] = true

	_, err := env.svc.GetForecast(context.Background(), summitQuery(customLoc, "blend"))
	if !errors.Is(err, ErrAllModelsUnavailable) {
		t.Fatalf("GetForecast() error = %v, want ErrAllModelsUnavailable", err)
	}
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("error should carry the per-model ErrUpstreamUnavailable causes: %v", err)
	}
	if env.logs.FilterMessage("all blend models unavailable").Len() != 1 {
		t.Error("expected one error log for the failed blend")
	}

	// Failures are not cached: a recovered upstream serves the next request.
	env.provider.mu.Lock()
	env.provider.failModels = map[string]bool{}
	env.provider.mu.Unlock()
	if _, err := env.svc.GetForecast(context.Background(), summitQuery(customLoc, "blend")); err != nil {
		t.Errorf("GetForecast() after recovery error = %v", err)
	}
}

// TestForecastService_GetForecast_CallerErrors verifies unknown models and bad coordinates abort.
func TestForecastService_GetForecast_CallerErrors(t *testing.T) {
	env := newTestEnv(t, blend.Weights{"gfs": 1}, FetcherOptions{})
	tests := []struct {
		name    string
		q       Query
		wantErr error
	}{
		{"unknown model", summitQuery(customLoc, "nam"), ErrUnknownModel},
		{"latitude out of range", summitQuery(models.Location{Lat: 91, Lon: 0}, "gfs"), ErrInvalidLocation},
		{"longitude out of range", summitQuery(models.Location{Lat: 0, Lon: -181}, "blend"), ErrInvalidLocation},
		{"nan", summitQuery(models.Location{Lat: math.NaN(), Lon: 0}, "gfs"), ErrInvalidLocation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.GetForecast(context.Background(), tt.q)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("GetForecast() error = %v, want %v", err, tt.wantErr)
			}
			if !IsCallerError(err) {
				t.Errorf("IsCallerError(%v) = false, want true", err)
			}
		})
	}
	if n := env.provider.totalCalls(); n != 0 {
		t.Errorf("provider calls = %d, want 0", n)
	}
}

// TestForecastService_GetForecast_SingleModelCached verifies a second request is served
// from the raw cache, with aliases sharing the key.
func TestForecastService_GetForecast_SingleModelCached(t *testing.T) {
	env := newTestEnv(t, blend.Weights{"gfs": 1}, FetcherOptions{})

	first, err := env.svc.GetForecast(context.Background(), summitQuery(customLoc, "IFS"))
	if err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if _, err := env.svc.GetForecast(context.Background(), summitQuery(customLoc, "ecmwf")); err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if n := env.provider.callCount("ifs"); n != 1 {
		t.Errorf("provider calls for ifs = %d, want 1", n)
	}
	if first.Enhanced == nil || len(first.Daily) == 0 {
		t.Error("single-model forecast should carry enhancement and daily summaries")
	}
	if stats := env.svc.CacheStats(); stats.Raw.Entries != 1 || stats.Raw.Hits < 1 {
		t.Errorf("raw stats = %+v, want 1 entry and a hit", stats.Raw)
	}
}

// TestForecastService_GetForecast_ConcurrentBlendSingleFlight verifies concurrent blend
// requests for one key fetch each model exactly once.
func TestForecastService_GetForecast_ConcurrentBlendSingleFlight(t *testing.T) {
	env := newTestEnv(t, blend.Weights{"gfs": 2, "ifs": 2, "hrrr": 3}, FetcherOptions{})
	env.provider.delay = 50 * time.Millisecond

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = env.svc.GetForecast(context.Background(), summitQuery(customLoc, "blend"))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d error = %v", i, err)
		}
	}
	for _, m := range []string{"gfs", "ifs", "hrrr"} {
		if c := env.provider.callCount(m); c != 1 {
			t.Errorf("provider calls for %s = %d, want 1", m, c)
		}
	}
}

// TestForecastService_BatchForecast_IsolatesFailures verifies one failing location yields
// one error entry while the other four succeed.
func TestForecastService_BatchForecast_IsolatesFailures(t *testing.T) {
	env := newTestEnv(t, blend.Weights{"gfs": 1}, FetcherOptions{})
	env.provider.failLats[42] = true // resort-2

	slugs := []string{"resort-0", "resort-1", "resort-2", "resort-3", "resort-4"}
	res, err := env.svc.BatchForecast(context.Background(), slugs, "gfs", models.Summit())
	if err != nil {
		t.Fatalf("BatchForecast() error = %v", err)
	}
	if len(res.Forecasts) != 4 {
		t.Errorf("forecasts = %d, want 4", len(res.Forecasts))
	}
	if len(res.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly 1", res.Errors)
	}
	if _, ok := res.Errors["resort-2"]; !ok {
		t.Errorf("errors = %v, want entry for resort-2", res.Errors)
	}
	for _, slug := range slugs {
		_, inF := res.Forecasts[slug]
		_, inE := res.Errors[slug]
		if inF == inE {
			t.Errorf("%s in forecasts=%v errors=%v, want exactly one", slug, inF, inE)
		}
	}
	if got := res.Forecasts["resort-0"].ElevationMeters; got == nil || *got != 3000 {
		t.Errorf("resort-0 elevation = %v, want summit 3000", got)
	}
	if env.logs.FilterMessage("batch forecast complete").Len() != 1 {
		t.Error("expected one batch completion log")
	}
}

// TestForecastService_BatchForecast_Shape verifies batch-level caller errors and slug handling.
func TestForecastService_BatchForecast_Shape(t *testing.T) {
	env := newTestEnv(t, blend.Weights{"gfs": 1}, FetcherOptions{})

	tooMany := make([]string, 51)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("s%d", i)
	}
	tests := []struct {
		name    string
		slugs   []string
		model   string
		wantErr error
	}{
		{"empty", nil, "gfs", ErrEmptyBatch},
		{"blank only", []string{" ", ""}, "gfs", ErrEmptyBatch},
		{"too many", tooMany, "gfs", ErrBatchTooLarge},
		{"unknown model", []string{"resort-0"}, "nam", ErrUnknownModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.BatchForecast(context.Background(), tt.slugs, tt.model, models.Summit())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("BatchForecast() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	res, err := env.svc.BatchForecast(context.Background(), []string{"resort-0", "RESORT-0 ", "nowhere"}, "", models.Summit())
	if err != nil {
		t.Fatalf("BatchForecast() error = %v", err)
	}
	if len(res.Forecasts) != 1 || len(res.Errors) != 1 {
		t.Errorf("got %d forecasts and %d errors, want 1 and 1", len(res.Forecasts), len(res.Errors))
	}
	if msg := res.Errors["nowhere"]; !strings.Contains(msg, "location not found") {
		t.Errorf("error for nowhere = %q, want location not found", msg)
	}
}

// TestForecastService_BatchForecast_ServesCachedWithoutFetching verifies cached locations
// resolve even when upstream is down.
func TestForecastService_BatchForecast_ServesCachedWithoutFetching(t *testing.T) {
	env := newTestEnv(t, blend.Weights{"gfs": 1}, FetcherOptions{})
	loc, _ := env.svc.ResolveSlug("resort-1")
	if _, err := env.svc.GetForecast(context.Background(), summitQuery(loc, "blend")); err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	env.provider.mu.Lock()
	env.provider.failModels["gfs"] = true
	env.provider.mu.Unlock()
	before := env.provider.totalCalls()

	res, err := env.svc.BatchForecast(context.Background(), []string{"resort-1"}, "blend", models.Summit())
	if err != nil {
		t.Fatalf("BatchForecast() error = %v", err)
	}
	if _, ok := res.Forecasts["resort-1"]; !ok {
		t.Errorf("resort-1 should be served from cache, errors = %v", res.Errors)
	}
	if after := env.provider.totalCalls(); after != before {
		t.Errorf("provider calls = %d, want unchanged %d", after, before)
	}
}

// TestForecastService_Compare verifies per-model isolation and caller errors.
func TestForecastService_Compare(t *testing.T) {
	env := newTestEnv(t, blend.Weights{"gfs": 1, "ifs": 1}, FetcherOptions{})
	env.provider.failModels["aifs"] = true

	res, err := env.svc.Compare(context.Background(), customLoc, []string{"gfs", "aifs", "blend", "GFS"}, models.Summit())
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if len(res.Forecasts) != 2 {
		t.Errorf("forecasts = %d, want gfs and blend", len(res.Forecasts))
	}
	if _, ok := res.Errors["aifs"]; !ok {
		t.Errorf("errors = %v, want aifs", res.Errors)
	}
	if res.Lat != customLoc.Lat || res.Lon != customLoc.Lon {
		t.Errorf("Lat/Lon = %v/%v, want request coordinates", res.Lat, res.Lon)
	}

	if _, err := env.svc.Compare(context.Background(), customLoc, []string{"gfs", "nam"}, models.Summit()); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("Compare() error = %v, want ErrUnknownModel", err)
	}

	def, err := env.svc.Compare(context.Background(), customLoc, nil, models.Summit())
	if err != nil {
		t.Fatalf("Compare() defaults error = %v", err)
	}
	if len(def.Forecasts)+len(def.Errors) != 4 {
		t.Errorf("default comparison covered %d models, want 4", len(def.Forecasts)+len(def.Errors))
	}
}

// TestForecastService_ClearCaches verifies clearing forces the next request upstream.
func TestForecastService_ClearCaches(t *testing.T) {
	env := newTestEnv(t, blend.Weights{"gfs": 1}, FetcherOptions{})
	ctx := context.Background()

	if _, err := env.svc.GetForecast(ctx, summitQuery(customLoc, "blend")); err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if err := env.svc.ClearCaches(ctx); err != nil {
		t.Fatalf("ClearCaches() error = %v", err)
	}
	stats := env.svc.CacheStats()
	if stats.Raw.Entries != 0 || stats.Blend.Entries != 0 {
		t.Errorf("stats after clear = %+v, want no entries", stats)
	}
	if _, err := env.svc.GetForecast(ctx, summitQuery(customLoc, "blend")); err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if n := env.provider.callCount("gfs"); n != 2 {
		t.Errorf("provider calls for gfs = %d, want 2", n)
	}
}

// TestForecastService_ResolveCoordinates verifies nearby coordinates snap to a resort.
func TestForecastService_ResolveCoordinates(t *testing.T) {
	env := newTestEnv(t, blend.Weights{"gfs": 1}, FetcherOptions{})

	loc, err := env.svc.ResolveCoordinates(41.005, -110.004)
	if err != nil {
		t.Fatalf("ResolveCoordinates() error = %v", err)
	}
	if loc.Slug != "resort-1" {
		t.Errorf("Slug = %q, want resort-1", loc.Slug)
	}
	loc, _ = env.svc.ResolveCoordinates(41.5, -110)
	if loc.Slug != "" {
		t.Errorf("Slug = %q, want custom location", loc.Slug)
	}
	if _, err := env.svc.ResolveCoordinates(100, 0); !errors.Is(err, ErrInvalidLocation) {
		t.Errorf("ResolveCoordinates() error = %v, want ErrInvalidLocation", err)
	}
}

// TestForecastService_BlendConfig verifies the reported weights and description.
func TestForecastService_BlendConfig(t *testing.T) {
	env := newTestEnv(t, blend.Weights{"hrrr": 3, "gfs": 2, "ifs": 2, "icon": 0}, FetcherOptions{})
	cfg := env.svc.BlendConfig()
	if cfg.TotalWeight != 7 {
		t.Errorf("TotalWeight = %v, want 7", cfg.TotalWeight)
	}
	if _, ok := cfg.Weights["icon"]; ok {
		t.Error("zero-weight icon should not be reported")
	}
	if want := "Weighted multi-model blend: HRRR (3x); GFS, IFS (2x)"; cfg.Description != want {
		t.Errorf("Description = %q, want %q", cfg.Description, want)
	}
}

// TestFetcher_Timeout verifies a slow upstream fails with ErrTimeout.
func TestFetcher_Timeout(t *testing.T) {
	env := newTestEnv(t, blend.Weights{"gfs": 1}, FetcherOptions{Timeout: 20 * time.Millisecond})
	env.provider.delay = 500 * time.Millisecond

	_, err := env.svc.GetForecast(context.Background(), summitQuery(customLoc, "gfs"))
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("GetForecast() error = %v, want ErrTimeout", err)
	}
}

// TestFetcher_CircuitBreakerOpens verifies repeated failures open the model's breaker
// and later calls fail fast.
func TestFetcher_CircuitBreakerOpens(t *testing.T) {
	breakers := circuitbreaker.NewSet(circuitbreaker.Config{FailureThreshold: 2, Timeout: time.Minute})
	env := newTestEnv(t, blend.Weights{"gfs": 1}, FetcherOptions{Breakers: breakers})
	env.provider.failModels["gfs"] = true

	for i := 0; i < 2; i++ {
		_, _ = env.svc.GetForecast(context.Background(), summitQuery(customLoc, "gfs"))
	}
	if open := breakers.Open(); len(open) != 1 || open[0] != "gfs" {
		t.Fatalf("Open() = %v, want [gfs]", open)
	}

	_, err := env.svc.GetForecast(context.Background(), summitQuery(customLoc, "gfs"))
	if !errors.Is(err, circuitbreaker.ErrOpen) || !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("GetForecast() error = %v, want ErrOpen wrapped as ErrUpstreamUnavailable", err)
	}
	if n := env.provider.callCount("gfs"); n != 2 {
		t.Errorf("provider calls = %d, want 2", n)
	}
}

// TestForecastService_BatchForecast_TimeoutStopsQueuedFetches verifies items still
// queued when the batch deadline passes fail without calling upstream.
func TestForecastService_BatchForecast_TimeoutStopsQueuedFetches(t *testing.T) {
	env := newTestEnv(t, blend.Weights{"gfs": 1}, FetcherOptions{})
	env.svc.cfg.BatchWorkers = 1
	env.svc.cfg.BatchTimeout = 30 * time.Millisecond
	env.provider.delay = 200 * time.Millisecond

	slugs := []string{"resort-0", "resort-1", "resort-2", "resort-3", "resort-4"}
	res, err := env.svc.BatchForecast(context.Background(), slugs, "gfs", models.Summit())
	if err != nil {
		t.Fatalf("BatchForecast() error = %v", err)
	}
	if len(res.Errors) != len(slugs) || len(res.Forecasts) != 0 {
		t.Fatalf("forecasts = %d errors = %d, want 0 and %d", len(res.Forecasts), len(res.Errors), len(slugs))
	}

	// Let the one detached fetch that did start finish.
	time.Sleep(300 * time.Millisecond)
	if got := env.provider.totalCalls(); got != 1 {
		t.Errorf("upstream calls = %d, want 1 (only the item running at the deadline)", got)
	}
}

// TestForecastService_BatchForecast_CountsOneMissPerItem verifies the cached pre-pass
// and the worker together count one miss per uncached item.
func TestForecastService_BatchForecast_CountsOneMissPerItem(t *testing.T) {
	env := newTestEnv(t, blend.Weights{"gfs": 1}, FetcherOptions{})
	slugs := []string{"resort-0", "resort-1", "resort-2"}

	if _, err := env.svc.BatchForecast(context.Background(), slugs, "gfs", models.Summit()); err != nil {
		t.Fatalf("BatchForecast() error = %v", err)
	}
	if got := env.svc.CacheStats().Raw; got.Misses != 3 || got.Hits != 0 || got.Entries != 3 {
		t.Errorf("raw Stats() after first batch = %+v, want 3 entries, 0 hits, 3 misses", got)
	}
	if _, err := env.svc.BatchForecast(context.Background(), slugs, "gfs", models.Summit()); err != nil {
		t.Fatalf("BatchForecast() error = %v", err)
	}
	if got := env.svc.CacheStats().Raw; got.Misses != 3 || got.Hits != 3 {
		t.Errorf("raw Stats() after second batch = %+v, want 3 hits, 3 misses", got)
	}
}
