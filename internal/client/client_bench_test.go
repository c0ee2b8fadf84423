package client

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"
)

// BenchmarkClient_BuildRequest benchmarks HTTP request construction.
func BenchmarkClient_BuildRequest(b *testing.B) {
	c, _ := NewOpenMeteoClient(Options{})
	model, _ := c.registry.Lookup("gfs")
	ctx := context.Background()
	elev := 3185.0

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.buildRequest(ctx, 43.58, -110.82, model, &elev)
	}
}

// BenchmarkClient_ParseResponse benchmarks decoding an hourly response into a Forecast.
func BenchmarkClient_ParseResponse(b *testing.B) {
	body := []byte(sampleResponse)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = parseResponse(body, 43.58, -110.82, "gfs", nil)
	}
}

// BenchmarkClient_HandleErrorResponse benchmarks status mapping.
func BenchmarkClient_HandleErrorResponse(b *testing.B) {
	body := []byte(`{"error":true,"reason":"Cannot initialize WeatherVariable"}`)
	statuses := []int{http.StatusOK, http.StatusBadRequest, http.StatusTooManyRequests, http.StatusServiceUnavailable}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = handleErrorResponse(statuses[i%len(statuses)], body)
	}
}

// BenchmarkClient_IsRetryable benchmarks retry decision logic.
func BenchmarkClient_IsRetryable(b *testing.B) {
	c, _ := NewOpenMeteoClient(Options{})
	testErrors := []error{
		ErrRateLimited,
		ErrUpstreamFailure,
		fmt.Errorf("request timeout: %w", context.DeadlineExceeded),
		ErrBadRequest,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.isRetryable(testErrors[i%len(testErrors)])
	}
}

// BenchmarkClient_CalculateBackoff benchmarks backoff calculation.
func BenchmarkClient_CalculateBackoff(b *testing.B) {
	c, _ := NewOpenMeteoClient(Options{RetryBaseDelay: 100 * time.Millisecond, RetryMaxDelay: 2 * time.Second})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.calculateBackoff((i % 5) + 1)
	}
}
