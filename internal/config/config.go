package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. BLEND_CACHE_TTL.
const EnvPrefix = "BLEND"

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort     string
	RequestTimeout time.Duration

	UpstreamURL            string
	UpstreamTimeout        time.Duration
	ForecastDays           int
	UpstreamMaxConcurrent  int
	UpstreamRateLimitRPS   float64
	UpstreamRateLimitBurst int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	CircuitBreakerEnabled   bool
	CircuitFailureThreshold int
	CircuitSuccessThreshold int
	CircuitTimeout          time.Duration

	CacheBackend    string // "in_memory" or "memcached"
	RawCacheTTL     time.Duration
	BlendCacheTTL   time.Duration
	CacheMaxEntries int
	CoalesceTimeout time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	BlendWeights map[string]float64

	BatchMaxLocations    int
	BatchWorkers         int
	BatchTimeout         time.Duration
	CompareDefaultModels []string

	ResortsFile string

	WarmEnabled  bool
	WarmInterval time.Duration

	HTTPRateLimitRPS   int
	HTTPRateLimitBurst int

	AdminEnabled bool

	HealthWindow     time.Duration
	HealthErrorRate  float64
	HealthMinSamples int

	ShutdownTimeout time.Duration

	TrackedLocations []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Upstream struct {
		URL            string  `yaml:"url"`
		Timeout        string  `yaml:"timeout"`
		ForecastDays   int     `yaml:"forecast_days"`
		MaxConcurrent  int     `yaml:"max_concurrent"`
		RateLimitRPS   float64 `yaml:"rate_limit_rps"`
		RateLimitBurst int     `yaml:"rate_limit_burst"`
	} `yaml:"upstream"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
	} `yaml:"reliability"`

	CircuitBreaker struct {
		Enabled          *bool  `yaml:"enabled"`
		FailureThreshold int    `yaml:"failure_threshold"`
		SuccessThreshold int    `yaml:"success_threshold"`
		Timeout          string `yaml:"timeout"`
	} `yaml:"circuit_breaker"`

	Cache struct {
		Backend         string `yaml:"backend"`
		RawTTL          string `yaml:"raw_ttl"`
		BlendTTL        string `yaml:"blend_ttl"`
		MaxEntries      int    `yaml:"max_entries"`
		CoalesceTimeout string `yaml:"coalesce_timeout"`
		Memcached       struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Blend struct {
		Weights map[string]float64 `yaml:"weights"`
	} `yaml:"blend"`

	Batch struct {
		MaxLocations int    `yaml:"max_locations"`
		Workers      int    `yaml:"workers"`
		Timeout      string `yaml:"timeout"`
	} `yaml:"batch"`

	Compare struct {
		DefaultModels []string `yaml:"default_models"`
	} `yaml:"compare"`

	Resorts struct {
		File string `yaml:"file"`
	} `yaml:"resorts"`

	Warm struct {
		Enabled  bool   `yaml:"enabled"`
		Interval string `yaml:"interval"`
	} `yaml:"warm"`

	HTTP struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"http"`

	Admin struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"admin"`

	Health struct {
		Window     string  `yaml:"window"`
		ErrorRate  float64 `yaml:"error_rate"`
		MinSamples int     `yaml:"min_samples"`
	} `yaml:"health"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Metrics struct {
		TrackedLocations []string `yaml:"tracked_locations"`
	} `yaml:"metrics"`
}

// envOverlay lists the settings that can be overridden from the environment.
// Unset variables leave the file value in place.
type envOverlay struct {
	Port            *string            `envconfig:"PORT"`
	UpstreamURL     *string            `envconfig:"UPSTREAM_URL"`
	FetchTimeout    *time.Duration     `envconfig:"FETCH_TIMEOUT"`
	CacheBackend    *string            `envconfig:"CACHE_BACKEND"`
	CacheTTL        *time.Duration     `envconfig:"CACHE_TTL"`
	CacheMaxEntries *int               `envconfig:"CACHE_MAX_ENTRIES"`
	MemcachedAddrs  *string            `envconfig:"MEMCACHED_ADDRS"`
	Weights         map[string]float64 `envconfig:"WEIGHTS"`
	BatchWorkers    *int               `envconfig:"BATCH_WORKERS"`
	ResortsFile     *string            `envconfig:"RESORTS_FILE"`
	WarmEnabled     *bool              `envconfig:"WARM_ENABLED"`
	AdminEnabled    *bool              `envconfig:"ADMIN_ENABLED"`
}

// DefaultWeights is the blend used when the config file names none.
func DefaultWeights() map[string]float64 {
	return map[string]float64{"hrrr": 3, "gfs": 2, "nbm": 2, "ifs": 2, "aifs": 2}
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev), then applies
// BLEND_* environment overrides. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	var ov envOverlay
	if err := envconfig.Process(EnvPrefix, &ov); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg := fromFile(fc)
	applyOverlay(cfg, ov)
	if cfg.ResortsFile != "" && !filepath.IsAbs(cfg.ResortsFile) {
		cfg.ResortsFile = filepath.Join(cwd, cfg.ResortsFile)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fromFile maps the YAML document onto Config, filling defaults.
func fromFile(fc fileConfig) *Config {
	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 60*time.Second)

	cfg.UpstreamURL = fc.Upstream.URL
	if cfg.UpstreamURL == "" {
		cfg.UpstreamURL = "https://api.open-meteo.com/v1/forecast"
	}
	cfg.UpstreamTimeout = parseDurationOrZero(fc.Upstream.Timeout, 30*time.Second)
	cfg.ForecastDays = positiveOr(fc.Upstream.ForecastDays, 7)
	cfg.UpstreamMaxConcurrent = positiveOr(fc.Upstream.MaxConcurrent, 8)
	cfg.UpstreamRateLimitRPS = fc.Upstream.RateLimitRPS
	if cfg.UpstreamRateLimitRPS <= 0 {
		cfg.UpstreamRateLimitRPS = 10
	}
	cfg.UpstreamRateLimitBurst = positiveOr(fc.Upstream.RateLimitBurst, 20)

	cfg.RetryAttempts = positiveOr(fc.Reliability.RetryMaxAttempts, 3)
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)

	cfg.CircuitBreakerEnabled = true
	if fc.CircuitBreaker.Enabled != nil {
		cfg.CircuitBreakerEnabled = *fc.CircuitBreaker.Enabled
	}
	cfg.CircuitFailureThreshold = positiveOr(fc.CircuitBreaker.FailureThreshold, 5)
	cfg.CircuitSuccessThreshold = positiveOr(fc.CircuitBreaker.SuccessThreshold, 2)
	cfg.CircuitTimeout = parseDuration(fc.CircuitBreaker.Timeout, 30*time.Second)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.RawCacheTTL = parseDurationOrZero(fc.Cache.RawTTL, 30*time.Minute)
	cfg.BlendCacheTTL = parseDurationOrZero(fc.Cache.BlendTTL, 30*time.Minute)
	cfg.CacheMaxEntries = positiveOr(fc.Cache.MaxEntries, 1000)
	cfg.CoalesceTimeout = parseDuration(fc.Cache.CoalesceTimeout, 45*time.Second)
	cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = positiveOr(fc.Cache.Memcached.MaxIdleConns, 2)

	cfg.BlendWeights = fc.Blend.Weights
	if len(cfg.BlendWeights) == 0 {
		cfg.BlendWeights = DefaultWeights()
	}

	cfg.BatchMaxLocations = positiveOr(fc.Batch.MaxLocations, 50)
	cfg.BatchWorkers = positiveOr(fc.Batch.Workers, 8)
	cfg.BatchTimeout = parseDuration(fc.Batch.Timeout, 60*time.Second)
	cfg.CompareDefaultModels = fc.Compare.DefaultModels
	if len(cfg.CompareDefaultModels) == 0 {
		cfg.CompareDefaultModels = []string{"blend", "gfs", "ifs", "aifs"}
	}

	cfg.ResortsFile = strings.TrimSpace(fc.Resorts.File)
	if cfg.ResortsFile == "" {
		cfg.ResortsFile = filepath.Join("config", "resorts.yaml")
	}

	cfg.WarmEnabled = fc.Warm.Enabled
	cfg.WarmInterval = parseDuration(fc.Warm.Interval, 25*time.Minute)

	cfg.HTTPRateLimitRPS = positiveOr(fc.HTTP.RateLimitRPS, 100)
	cfg.HTTPRateLimitBurst = positiveOr(fc.HTTP.RateLimitBurst, 250)

	cfg.AdminEnabled = fc.Admin.Enabled

	cfg.HealthWindow = parseDuration(fc.Health.Window, 5*time.Minute)
	cfg.HealthErrorRate = fc.Health.ErrorRate
	if cfg.HealthErrorRate <= 0 {
		cfg.HealthErrorRate = 0.5
	}
	cfg.HealthMinSamples = positiveOr(fc.Health.MinSamples, 3)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.TrackedLocations = fc.Metrics.TrackedLocations
	return cfg
}

func applyOverlay(cfg *Config, ov envOverlay) {
	if ov.Port != nil && *ov.Port != "" {
		cfg.ServerPort = *ov.Port
	}
	if ov.UpstreamURL != nil && *ov.UpstreamURL != "" {
		cfg.UpstreamURL = *ov.UpstreamURL
	}
	if ov.FetchTimeout != nil {
		cfg.UpstreamTimeout = *ov.FetchTimeout
	}
	if ov.CacheBackend != nil {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(*ov.CacheBackend))
	}
	if ov.CacheTTL != nil {
		cfg.RawCacheTTL = *ov.CacheTTL
		cfg.BlendCacheTTL = *ov.CacheTTL
	}
	if ov.CacheMaxEntries != nil {
		cfg.CacheMaxEntries = *ov.CacheMaxEntries
	}
	if ov.MemcachedAddrs != nil && *ov.MemcachedAddrs != "" {
		cfg.MemcachedAddrs = *ov.MemcachedAddrs
	}
	if len(ov.Weights) > 0 {
		cfg.BlendWeights = ov.Weights
	}
	if ov.BatchWorkers != nil {
		cfg.BatchWorkers = *ov.BatchWorkers
	}
	if ov.ResortsFile != nil && *ov.ResortsFile != "" {
		cfg.ResortsFile = *ov.ResortsFile
	}
	if ov.WarmEnabled != nil {
		cfg.WarmEnabled = *ov.WarmEnabled
	}
	if ov.AdminEnabled != nil {
		cfg.AdminEnabled = *ov.AdminEnabled
	}
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is so validate can reject them.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. Model ids in the weights are checked
// against the registry when the service is built.
func validate(cfg *Config) error {
	if cfg.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if cfg.RawCacheTTL <= 0 || cfg.BlendCacheTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if cfg.CacheMaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive")
	}
	if cfg.BatchWorkers <= 0 {
		return fmt.Errorf("batch.workers must be positive")
	}
	if cfg.RequestTimeout <= cfg.UpstreamTimeout {
		cfg.RequestTimeout = cfg.UpstreamTimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	positive := 0
	for id, w := range cfg.BlendWeights {
		if w < 0 {
			return fmt.Errorf("blend.weights.%s must be non-negative, got %g", id, w)
		}
		if w > 0 {
			positive++
		}
	}
	if positive == 0 {
		return fmt.Errorf("blend.weights needs at least one positive weight")
	}
	return nil
}
