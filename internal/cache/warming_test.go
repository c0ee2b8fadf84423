package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kjstillabower/forecast-blend-service/internal/models"
)

type mockBatchForecaster struct {
	mu      sync.Mutex
	batches [][]string
	failing map[string]bool
	err     error
}

func (m *mockBatchForecaster) BatchForecast(ctx context.Context, slugs []string, modelID string, elev models.ElevationSelector) (models.BatchResult, error) {
	m.mu.Lock()
	m.batches = append(m.batches, append([]string(nil), slugs...))
	m.mu.Unlock()
	if m.err != nil {
		return models.BatchResult{}, m.err
	}
	res := models.BatchResult{Forecasts: map[string]models.Forecast{}, Errors: map[string]string{}}
	for _, s := range slugs {
		if m.failing[s] {
			res.Errors[s] = "upstream unavailable"
		} else {
			res.Forecasts[s] = models.Forecast{ModelID: modelID}
		}
	}
	return res, nil
}

// TestCacheWarmer_Warm_Chunks verifies slugs are warmed in batches no larger than the chunk size.
func TestCacheWarmer_Warm_Chunks(t *testing.T) {
	fc := &mockBatchForecaster{}
	warmer := NewCacheWarmer(fc, 2, nil)

	if err := warmer.Warm(context.Background(), []string{"a", "b", "c", "d", "e"}); err != nil {
		t.Fatalf("Warm() error = %v, want nil", err)
	}
	if len(fc.batches) != 3 {
		t.Fatalf("batches = %d, want 3", len(fc.batches))
	}
	if got := len(fc.batches[2]); got != 1 {
		t.Errorf("last batch size = %d, want 1", got)
	}
}

// TestCacheWarmer_Warm_EmptyLocations verifies that nothing is fetched for an empty list.
func TestCacheWarmer_Warm_EmptyLocations(t *testing.T) {
	fc := &mockBatchForecaster{}
	warmer := NewCacheWarmer(fc, 50, nil)
	if err := warmer.Warm(context.Background(), nil); err != nil {
		t.Fatalf("Warm() with nil locations error = %v, want nil", err)
	}
	if len(fc.batches) != 0 {
		t.Errorf("batches = %d, want 0", len(fc.batches))
	}
}

// TestCacheWarmer_Warm_ItemErrors verifies failed slugs are named in the returned error.
func TestCacheWarmer_Warm_ItemErrors(t *testing.T) {
	fc := &mockBatchForecaster{failing: map[string]bool{"alta": true}}
	warmer := NewCacheWarmer(fc, 50, nil)

	err := warmer.Warm(context.Background(), []string{"alta", "snowbird"})
	if err == nil {
		t.Fatal("Warm() error = nil, want non-nil")
	}
	if !strings.Contains(err.Error(), "warm alta") || strings.Contains(err.Error(), "snowbird") {
		t.Errorf("Warm() error = %q, want only alta named", err)
	}
}

// TestCacheWarmer_Warm_BatchError verifies a whole-batch failure is reported.
func TestCacheWarmer_Warm_BatchError(t *testing.T) {
	wantErr := errors.New("batch too large")
	warmer := NewCacheWarmer(&mockBatchForecaster{err: wantErr}, 50, nil)
	if err := warmer.Warm(context.Background(), []string{"alta"}); !errors.Is(err, wantErr) {
		t.Errorf("Warm() error = %v, want %v", err, wantErr)
	}
}
