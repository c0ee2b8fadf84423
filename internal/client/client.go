package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/forecast-blend-service/internal/models"
	"github.com/kjstillabower/forecast-blend-service/internal/observability"
)

// ForecastProvider fetches one model's hourly forecast for a point. elevation, when
// non-nil, asks the provider to downscale to that height in meters.
type ForecastProvider interface {
	FetchModelForecast(ctx context.Context, lat, lon float64, modelID string, elevation *float64) (models.Forecast, error)
}

var (
	ErrUnknownModel     = errors.New("unknown model")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
	ErrBadRequest       = errors.New("upstream rejected request")
	ErrBadResponse      = errors.New("malformed upstream response")
)

const hourLayout = "2006-01-02T15:04"

// OpenMeteoClient implements ForecastProvider against the Open-Meteo forecast API.
type OpenMeteoClient struct {
	apiURL         string
	timeout        time.Duration
	forecastDays   int
	registry       *Registry
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
}

// Options configures an OpenMeteoClient. Zero values take defaults.
type Options struct {
	APIURL         string
	Timeout        time.Duration
	ForecastDays   int
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	Registry       *Registry
}

// NewOpenMeteoClient creates a client. It fails only on an unparsable API URL.
func NewOpenMeteoClient(opts Options) (*OpenMeteoClient, error) {
	if opts.APIURL == "" {
		opts.APIURL = "https://api.open-meteo.com/v1/forecast"
	}
	if _, err := url.Parse(opts.APIURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ForecastDays <= 0 {
		opts.ForecastDays = 7
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 100 * time.Millisecond
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = 2 * time.Second
	}
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry()
	}
	return &OpenMeteoClient{
		apiURL:         opts.APIURL,
		timeout:        opts.Timeout,
		forecastDays:   opts.ForecastDays,
		registry:       opts.Registry,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		client:         &http.Client{Timeout: opts.Timeout},
	}, nil
}

type openMeteoResponse struct {
	Latitude    float64                    `json:"latitude"`
	Longitude   float64                    `json:"longitude"`
	Elevation   *float64                   `json:"elevation"`
	HourlyUnits map[string]string          `json:"hourly_units"`
	Hourly      map[string]json.RawMessage `json:"hourly"`
	Error       bool                       `json:"error"`
	Reason      string                     `json:"reason"`
}

// FetchModelForecast retries retryable failures with exponential backoff and jitter.
func (c *OpenMeteoClient) FetchModelForecast(ctx context.Context, lat, lon float64, modelID string, elevation *float64) (models.Forecast, error) {
	model, ok := c.registry.Lookup(modelID)
	if !ok {
		return models.Forecast{}, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}

	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return models.Forecast{}, ctx.Err()
			case <-time.After(c.calculateBackoff(attempt)):
			}
		}

		result, err := c.callAPI(ctx, lat, lon, model, elevation)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !c.isRetryable(err) {
			return models.Forecast{}, err
		}
	}
	return models.Forecast{}, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *OpenMeteoClient) callAPI(ctx context.Context, lat, lon float64, model ModelConfig, elevation *float64) (models.Forecast, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, lat, lon, model, elevation)
	if err != nil {
		return models.Forecast{}, fmt.Errorf("build request: %w", err)
	}
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	observability.UpstreamDuration.WithLabelValues(model.ID).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			err = fmt.Errorf("request timeout: %w", err)
		} else {
			err = fmt.Errorf("http request failed: %w", err)
		}
		observability.UpstreamCallsTotal.WithLabelValues(model.ID, string(CategorizeError(err))).Inc()
		return models.Forecast{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(model.ID, string(ErrorCategoryNetwork)).Inc()
		return models.Forecast{}, fmt.Errorf("read response body: %w", err)
	}
	if err := handleErrorResponse(resp.StatusCode, body); err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(model.ID, string(CategorizeError(err))).Inc()
		return models.Forecast{}, err
	}

	f, err := parseResponse(body, lat, lon, model.ID, elevation)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(model.ID, string(ErrorCategoryParsing)).Inc()
		return models.Forecast{}, err
	}
	observability.UpstreamCallsTotal.WithLabelValues(model.ID, "success").Inc()
	return f, nil
}

func (c *OpenMeteoClient) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return strings.Contains(err.Error(), "timeout") || errors.Is(err, context.DeadlineExceeded)
}

func (c *OpenMeteoClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}
	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *OpenMeteoClient) buildRequest(ctx context.Context, lat, lon float64, model ModelConfig, elevation *float64) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	vars := make([]string, len(models.AllVariables))
	for i, v := range models.AllVariables {
		vars[i] = string(v)
	}
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("hourly", strings.Join(vars, ","))
	params.Set("models", model.APIModel)
	params.Set("forecast_days", strconv.Itoa(min(c.forecastDays, model.MaxForecastDays)))
	params.Set("timezone", "UTC")
	if elevation != nil {
		params.Set("elevation", strconv.FormatFloat(*elevation, 'f', -1, 64))
	}
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func handleErrorResponse(status int, body []byte) error {
	switch status {
	case http.StatusBadRequest:
		var apiErr openMeteoResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Reason != "" {
			return fmt.Errorf("%w: %s", ErrBadRequest, apiErr.Reason)
		}
		return fmt.Errorf("%w: HTTP 400", ErrBadRequest)
	case http.StatusNotFound:
		return ErrLocationNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, status)
	}
	return nil
}

// parseResponse maps an Open-Meteo JSON body to a Forecast. Unknown hourly keys are
// ignored; a requested elevation overrides the grid elevation the API reports.
func parseResponse(body []byte, lat, lon float64, modelID string, elevation *float64) (models.Forecast, error) {
	var raw openMeteoResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return models.Forecast{}, fmt.Errorf("%w: parse response: %v", ErrBadResponse, err)
	}
	if raw.Error {
		return models.Forecast{}, fmt.Errorf("%w: %s", ErrBadRequest, raw.Reason)
	}
	timeRaw, ok := raw.Hourly["time"]
	if !ok {
		return models.Forecast{}, fmt.Errorf("%w: no hourly data in response", ErrBadResponse)
	}
	var stamps []string
	if err := json.Unmarshal(timeRaw, &stamps); err != nil {
		return models.Forecast{}, fmt.Errorf("%w: parse hourly time: %v", ErrBadResponse, err)
	}
	times := make([]time.Time, len(stamps))
	for i, s := range stamps {
		ts, err := time.ParseInLocation(hourLayout, s, time.UTC)
		if err != nil {
			return models.Forecast{}, fmt.Errorf("%w: parse time %q: %v", ErrBadResponse, s, err)
		}
		times[i] = ts
	}

	f := models.Forecast{
		Lat:             lat,
		Lon:             lon,
		APILat:          raw.Latitude,
		APILon:          raw.Longitude,
		ElevationMeters: raw.Elevation,
		ModelID:         modelID,
		ModelRunUTC:     models.InferModelRun(times),
		TimesUTC:        times,
		HourlyData:      make(models.HourlyData),
		HourlyUnits:     make(models.HourlyUnits),
	}
	if elevation != nil {
		e := *elevation
		f.ElevationMeters = &e
	}
	for _, v := range models.AllVariables {
		values, ok := raw.Hourly[string(v)]
		if !ok {
			continue
		}
		var series models.Series
		if err := json.Unmarshal(values, &series); err != nil {
			return models.Forecast{}, fmt.Errorf("%w: parse %s: %v", ErrBadResponse, v, err)
		}
		f.HourlyData[v] = series
		f.HourlyUnits[v] = raw.HourlyUnits[string(v)]
	}
	if err := f.Validate(); err != nil {
		return models.Forecast{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return f, nil
}
