package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-blend-service/internal/circuitbreaker"
	"github.com/kjstillabower/forecast-blend-service/internal/models"
	"github.com/kjstillabower/forecast-blend-service/internal/observability"
	"github.com/kjstillabower/forecast-blend-service/internal/resorts"
	"github.com/kjstillabower/forecast-blend-service/internal/service"
	"github.com/kjstillabower/forecast-blend-service/internal/traffic"
	"github.com/kjstillabower/forecast-blend-service/internal/validation"
)

// HealthConfig holds the inputs the health handler evaluates.
type HealthConfig struct {
	// Window, ErrorRate and MinSamples decide when a model counts as failing.
	Window     time.Duration
	ErrorRate  float64
	MinSamples int
	Outcomes   *traffic.Set
	Breakers   *circuitbreaker.Set
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	Version   string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc              *service.ForecastService
	resorts          *resorts.Directory
	health           *HealthConfig
	logger           *zap.Logger
	shuttingDown     atomic.Bool
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. health may be nil, in which case only the shutdown flag is checked.
func NewHandler(svc *service.ForecastService, directory *resorts.Directory, health *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, resorts: directory, health: health, logger: logger}
}

// SetShuttingDown flips the flag reported by /api/health during graceful shutdown.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

// GetForecast handles GET /api/forecast?lat&lon&model&elevation.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, lon, err := validation.ParseCoordinates(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}
	elev, ok := parseElevation(w, r)
	if !ok {
		return
	}
	loc, err := h.svc.ResolveCoordinates(lat, lon)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	f, err := h.svc.GetForecast(r.Context(), service.Query{Location: loc, ModelID: q.Get("model"), Elevation: elev})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// GetResortForecast handles GET /api/resorts/{slug}/forecast.
func (h *Handler) GetResortForecast(w http.ResponseWriter, r *http.Request) {
	loc, ok := h.resolveResort(w, r)
	if !ok {
		return
	}
	elev, ok := parseElevation(w, r)
	if !ok {
		return
	}
	f, err := h.svc.GetForecast(r.Context(), service.Query{Location: loc, ModelID: r.URL.Query().Get("model"), Elevation: elev})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// GetBatchForecast handles GET /api/resorts/batch/forecast?slugs=a,b.
func (h *Handler) GetBatchForecast(w http.ResponseWriter, r *http.Request) {
	slugs, err := validation.ParseSlugList(r.URL.Query().Get("slugs"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_SLUG", err.Error())
		return
	}
	elev, ok := parseElevation(w, r)
	if !ok {
		return
	}
	result, err := h.svc.BatchForecast(r.Context(), slugs, r.URL.Query().Get("model"), elev)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetCompare handles GET /api/compare?lat&lon&models&elevation.
func (h *Handler) GetCompare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, lon, err := validation.ParseCoordinates(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}
	loc, err := h.svc.ResolveCoordinates(lat, lon)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.compare(w, r, loc)
}

// GetResortCompare handles GET /api/resorts/{slug}/compare.
func (h *Handler) GetResortCompare(w http.ResponseWriter, r *http.Request) {
	loc, ok := h.resolveResort(w, r)
	if !ok {
		return
	}
	h.compare(w, r, loc)
}

func (h *Handler) compare(w http.ResponseWriter, r *http.Request, loc models.Location) {
	elev, ok := parseElevation(w, r)
	if !ok {
		return
	}
	modelIDs := validation.ParseModelList(r.URL.Query().Get("models"))
	result, err := h.svc.Compare(r.Context(), loc, modelIDs, elev)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetResortTotals handles GET /api/resorts/{slug}/totals?variable&start&end&model&elevation.
// start and end are RFC 3339 instants; either may be omitted.
func (h *Handler) GetResortTotals(w http.ResponseWriter, r *http.Request) {
	loc, ok := h.resolveResort(w, r)
	if !ok {
		return
	}
	elev, ok := parseElevation(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	name := q.Get("variable")
	if name == "" {
		name = string(models.Snowfall)
	}
	v, err := models.ParseVariable(name)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_VARIABLE", err.Error())
		return
	}
	start, err := validation.ParseInstant(q.Get("start"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_RANGE", err.Error())
		return
	}
	end, err := validation.ParseInstant(q.Get("end"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_RANGE", err.Error())
		return
	}
	totals, err := h.svc.Totals(r.Context(), service.Query{Location: loc, ModelID: q.Get("model"), Elevation: elev}, v, start, end)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

// GetResort handles GET /api/resorts/{slug}.
func (h *Handler) GetResort(w http.ResponseWriter, r *http.Request) {
	slug, err := validation.ValidateSlug(mux.Vars(r)["slug"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_SLUG", err.Error())
		return
	}
	if h.resorts != nil {
		if resort, ok := h.resorts.Resort(slug); ok {
			writeJSON(w, http.StatusOK, resort)
			return
		}
	}
	writeError(w, r, http.StatusNotFound, "LOCATION_NOT_FOUND", "resort not found: "+slug)
}

// GetBlendDebug handles GET /api/blend/debug?slug|lat&lon&variable&elevation. Admin only.
func (h *Handler) GetBlendDebug(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var loc models.Location
	if slug := q.Get("slug"); slug != "" {
		s, err := validation.ValidateSlug(slug)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_SLUG", err.Error())
			return
		}
		if loc, err = h.svc.ResolveSlug(s); err != nil {
			writeServiceError(w, r, err)
			return
		}
	} else {
		lat, lon, err := validation.ParseCoordinates(q.Get("lat"), q.Get("lon"))
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
			return
		}
		if loc, err = h.svc.ResolveCoordinates(lat, lon); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	elev, ok := parseElevation(w, r)
	if !ok {
		return
	}
	name := q.Get("variable")
	if name == "" {
		name = string(models.Snowfall)
	}
	v, err := models.ParseVariable(name)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_VARIABLE", err.Error())
		return
	}
	report, err := h.svc.BlendDebug(r.Context(), loc, elev, v)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListResorts handles GET /api/resorts?state=.
func (h *Handler) ListResorts(w http.ResponseWriter, r *http.Request) {
	var list []resorts.Resort
	if h.resorts != nil {
		list = h.resorts.List(r.URL.Query().Get("state"))
	}
	if list == nil {
		list = []resorts.Resort{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resorts": list,
		"count":   len(list),
	})
}

// ListModels handles GET /api/models.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	list := h.svc.Models()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": list,
		"count":  len(list),
		"blend":  h.svc.BlendConfig(),
	})
}

// GetModel handles GET /api/models/{model}.
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Model(mux.Vars(r)["model"])
	if err != nil {
		writeError(w, r, http.StatusNotFound, "MODEL_NOT_FOUND", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// GetBlendConfig handles GET /api/blend/config.
func (h *Handler) GetBlendConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.BlendConfig())
}

// GetCacheStats handles GET /api/cache/stats.
func (h *Handler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.CacheStats())
}

// ClearCache handles POST /api/cache/clear. Only routed when admin endpoints are enabled.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearCaches(r.Context()); err != nil {
		observability.LoggerFromContext(r.Context(), h.logger).Error("cache clear failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "CACHE_CLEAR_FAILED", "Unable to clear caches")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"message": "caches cleared",
	})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status        string
	statusCode    int
	reason        string
	failingModels []string
	openCircuits  []string
	cacheErr      error
}

// GetHealth handles GET /api/health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"upstream": "healthy"}
	if len(result.failingModels) > 0 || len(result.openCircuits) > 0 {
		checks["upstream"] = "unhealthy"
	}
	if h.health != nil && h.health.CachePing != nil {
		checks["cache"] = "healthy"
		if result.cacheErr != nil {
			checks["cache"] = "unhealthy"
		}
	}
	version := "dev"
	if h.health != nil && h.health.Version != "" {
		version = h.health.Version
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   version,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if len(result.failingModels) > 0 {
		resp["failingModels"] = result.failingModels
	}
	if len(result.openCircuits) > 0 {
		resp["openCircuits"] = result.openCircuits
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates, in order: shutdown flag, cache reachability, then per-model
// upstream error rates and open circuits. A degraded instance still answers 200 because a
// blend tolerates individual model failures; only shutting-down takes it out of rotation.
func (h *Handler) computeHealthStatus() healthResult {
	if h.shuttingDown.Load() {
		return healthResult{status: "shutting-down", statusCode: http.StatusServiceUnavailable, reason: "signal"}
	}
	if h.health == nil {
		return healthResult{status: "healthy", statusCode: http.StatusOK}
	}
	res := healthResult{status: "healthy", statusCode: http.StatusOK}
	if h.health.CachePing != nil {
		if err := h.health.CachePing(); err != nil {
			res.cacheErr = err
			res.status, res.reason = "degraded", "cache_unreachable"
		}
	}
	if h.health.Outcomes != nil && h.health.Window > 0 {
		res.failingModels = h.health.Outcomes.Failing(h.health.Window, h.health.ErrorRate, h.health.MinSamples)
	}
	res.openCircuits = h.health.Breakers.Open()
	if res.status == "healthy" && (len(res.failingModels) > 0 || len(res.openCircuits) > 0) {
		res.status, res.reason = "degraded", "upstream_error_rate"
	}
	return res
}

func (h *Handler) resolveResort(w http.ResponseWriter, r *http.Request) (models.Location, bool) {
	slug, err := validation.ValidateSlug(mux.Vars(r)["slug"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_SLUG", err.Error())
		return models.Location{}, false
	}
	loc, err := h.svc.ResolveSlug(slug)
	if err != nil {
		writeServiceError(w, r, err)
		return models.Location{}, false
	}
	return loc, true
}

func parseElevation(w http.ResponseWriter, r *http.Request) (models.ElevationSelector, bool) {
	elev, err := validation.ParseElevation(r.URL.Query().Get("elevation"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_ELEVATION", err.Error())
		return models.ElevationSelector{}, false
	}
	return elev, true
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError maps a service error to its status and code. Caller errors echo
// the error text; upstream failures get a generic message and are logged instead.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	message := err.Error()
	logger := observability.LoggerFromContext(r.Context(), nil)
	switch {
	case status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable:
		logger.Error("request failed", zap.Error(err))
		message = "Internal error"
	case status == http.StatusServiceUnavailable:
		logger.Debug("upstream error", zap.Error(err))
		message = "Unable to fetch forecast data"
	}
	writeError(w, r, status, code, message)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrUnknownModel):
		return http.StatusBadRequest, "UNKNOWN_MODEL"
	case errors.Is(err, service.ErrInvalidLocation):
		return http.StatusBadRequest, "INVALID_LOCATION"
	case errors.Is(err, service.ErrBatchTooLarge):
		return http.StatusBadRequest, "BATCH_TOO_LARGE"
	case errors.Is(err, service.ErrEmptyBatch):
		return http.StatusBadRequest, "EMPTY_BATCH"
	case errors.Is(err, service.ErrInvalidRange):
		return http.StatusBadRequest, "INVALID_RANGE"
	case errors.Is(err, service.ErrLocationNotFound):
		return http.StatusNotFound, "LOCATION_NOT_FOUND"
	case errors.Is(err, service.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "UPSTREAM_TIMEOUT"
	case errors.Is(err, service.ErrAllModelsUnavailable):
		return http.StatusServiceUnavailable, "ALL_MODELS_UNAVAILABLE"
	case errors.Is(err, service.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
