package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/forecast-blend-service/internal/observability"
	"github.com/kjstillabower/forecast-blend-service/internal/traffic"
)

// RouterConfig carries the middleware settings for NewRouter.
type RouterConfig struct {
	RequestTimeout time.Duration
	// Limiter guards /api routes other than health; nil disables rate limiting.
	Limiter      *rate.Limiter
	Traffic      *traffic.Tracker
	InFlight     *InFlightTracker
	AdminEnabled bool
}

// NewRouter registers every route on a gorilla/mux router. Health and metrics sit
// outside the rate limiter and request timeout.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	if cfg.InFlight != nil {
		router.Use(InFlightMiddleware(cfg.InFlight))
	}
	router.HandleFunc("/api/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter, cfg.Traffic))
	api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	api.HandleFunc("/models", h.ListModels).Methods(http.MethodGet)
	api.HandleFunc("/models/{model}", h.GetModel).Methods(http.MethodGet)
	api.HandleFunc("/blend/config", h.GetBlendConfig).Methods(http.MethodGet)
	api.HandleFunc("/forecast", h.GetForecast).Methods(http.MethodGet)
	api.HandleFunc("/compare", h.GetCompare).Methods(http.MethodGet)
	api.HandleFunc("/resorts", h.ListResorts).Methods(http.MethodGet)
	// Registered before the {slug} routes so "batch" is never taken as a slug.
	api.HandleFunc("/resorts/batch/forecast", h.GetBatchForecast).Methods(http.MethodGet)
	api.HandleFunc("/resorts/{slug}", h.GetResort).Methods(http.MethodGet)
	api.HandleFunc("/resorts/{slug}/forecast", h.GetResortForecast).Methods(http.MethodGet)
	api.HandleFunc("/resorts/{slug}/compare", h.GetResortCompare).Methods(http.MethodGet)
	api.HandleFunc("/resorts/{slug}/totals", h.GetResortTotals).Methods(http.MethodGet)
	api.HandleFunc("/cache/stats", h.GetCacheStats).Methods(http.MethodGet)
	if cfg.AdminEnabled {
		logger.Warn("admin endpoints enabled; POST /api/cache/clear and GET /api/blend/debug exposed")
		api.HandleFunc("/cache/clear", h.ClearCache).Methods(http.MethodPost)
		api.HandleFunc("/blend/debug", h.GetBlendDebug).Methods(http.MethodGet)
	}

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "no route for "+r.URL.Path)
	})
	return router
}
