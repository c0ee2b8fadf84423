//go:build integration
// +build integration

package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-blend-service/internal/models"
	testhelpers "github.com/kjstillabower/forecast-blend-service/internal/testhelpers"
)

func setupIntegrationRouter(t *testing.T) http.Handler {
	t.Helper()
	env := testhelpers.SetupIntegrationService(t, testhelpers.GetIntegrationConfig(t))
	t.Cleanup(env.Cleanup)
	h := NewHandler(env.Service, env.Directory, &HealthConfig{
		Window: 5 * time.Minute, ErrorRate: 0.5, MinSamples: 3, Outcomes: env.Fetcher.Outcomes(),
	}, zap.NewNop())
	return NewRouter(h, RouterConfig{RequestTimeout: 60 * time.Second}, zap.NewNop())
}

func TestIntegration_ResortBlend(t *testing.T) {
	router := setupIntegrationRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/resorts/jackson-hole/forecast", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	var f models.Forecast
	if err := json.NewDecoder(w.Body).Decode(&f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.ModelID != models.BlendModelID || len(f.Sources) == 0 || f.Hours() < 24 {
		t.Errorf("blend = model %q sources %v hours %d", f.ModelID, f.Sources, f.Hours())
	}
}

func TestIntegration_BatchServesSecondCallFromCache(t *testing.T) {
	router := setupIntegrationRouter(t)
	target := "/api/resorts/batch/forecast?slugs=jackson-hole,alta&model=gfs"

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, target, nil))
	if first.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", first.Code)
	}

	start := time.Now()
	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, target, nil))
	if second.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", second.Code)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cached batch took %v, want well under 1s", elapsed)
	}
}
