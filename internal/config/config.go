// Package config loads and validates gateway configuration: the server,
// provider, routing and middleware sections of spec.md §6's YAML
// schema, plus environment variable interpolation and overrides.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/llmgateway/gateway/internal/ssrf"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Providers  []ProviderConfig `koanf:"providers"`
	Routing    RoutingConfig    `koanf:"routing"`
	Middleware MiddlewareConfig `koanf:"middleware"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// TokenizerVocabPath points at a HuggingFace tokenizer.json used to
	// estimate prompt token counts for the context-window pre-flight
	// check. Empty disables the check entirely (no wasted work trying
	// to load a vocabulary that was never configured).
	TokenizerVocabPath string `koanf:"tokenizer_vocab_path"`
}

// ProviderConfig describes one upstream deployment. Type selects the
// adapter constructor (openai_compat, anthropic, google, azure, cohere);
// Models is the list of model ids this deployment serves.
type ProviderConfig struct {
	Name       string   `koanf:"name"`
	Type       string   `koanf:"type"`
	APIKey     string   `koanf:"api_key"`
	APIBase    string   `koanf:"api_base"`
	Timeout    time.Duration `koanf:"timeout"`
	MaxRetries int      `koanf:"max_retries"`
	Weight     float64  `koanf:"weight"`
	Priority   uint32   `koanf:"priority"`
	Tags       []string `koanf:"tags"`
	Models     []string `koanf:"models"`

	// AzureDeployments maps a canonical model id to Azure's deployment
	// name, only meaningful when Type == "azure".
	AzureDeployments map[string]string `koanf:"azure_deployments"`

	// SiteURL/SiteName populate OpenRouter's attribution headers; unused
	// by other types.
	SiteURL  string `koanf:"site_url"`
	SiteName string `koanf:"site_name"`
}

// RoutingConfig tunes the deployment selection strategy and its
// supporting health check / circuit breaker / fallback policy.
type RoutingConfig struct {
	Strategy       string               `koanf:"strategy"`
	SplitRatio     float64              `koanf:"split_ratio"`
	LuaScript      string               `koanf:"lua_script"`
	MaxRetries     int                  `koanf:"max_retries"`
	HealthCheck    HealthCheckConfig    `koanf:"health_check"`
	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker"`
	Fallbacks      FallbacksConfig      `koanf:"fallbacks"`
}

// HealthCheckConfig tunes the background prober's cadence.
type HealthCheckConfig struct {
	Interval time.Duration `koanf:"interval"`
	Timeout  time.Duration `koanf:"timeout"`
}

// CircuitBreakerConfig mirrors circuitbreaker.Config.
type CircuitBreakerConfig struct {
	FailureThreshold    uint32        `koanf:"failure_threshold"`
	RecoveryTimeout     time.Duration `koanf:"recovery_timeout"`
	HalfOpenMaxRequests uint32        `koanf:"half_open_max_requests"`
	SuccessThreshold    uint32        `koanf:"success_threshold"`
}

// FallbacksConfig indexes model -> fallback models per error category,
// mirroring router.FallbackConfig.
type FallbacksConfig struct {
	General       map[string][]string `koanf:"general"`
	ContentPolicy map[string][]string `koanf:"content_policy"`
	ContextWindow map[string][]string `koanf:"context_window"`
	RateLimit     map[string][]string `koanf:"rate_limit"`
}

// MiddlewareConfig groups the rate limiter and response cache settings.
type MiddlewareConfig struct {
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Cache     CacheConfig     `koanf:"cache"`
}

// RateLimitConfig mirrors ratelimit.NewLimiter's parameters.
type RateLimitConfig struct {
	Strategy string        `koanf:"strategy"`
	RPM      uint32        `koanf:"rpm"`
	Window   time.Duration `koanf:"window"`
}

// CacheConfig mirrors cache.Config.
type CacheConfig struct {
	Enabled             bool          `koanf:"enabled"`
	MaxSize             int           `koanf:"max_size"`
	DefaultTTL          time.Duration `koanf:"default_ttl"`
	SimilarityThreshold float64       `koanf:"similarity_threshold"`
}

// envPrefix is the LLMGATEWAY_-prefixed environment override namespace
// for arbitrary config keys (LLMGATEWAY_SERVER_PORT -> server.port).
const envPrefix = "LLMGATEWAY_"

// Load reads path as YAML, layers LLMGATEWAY_*-prefixed env vars and
// per-provider <NAME>_API_KEY/<NAME>_API_BASE overrides on top, expands
// ${VAR} placeholders anywhere in the tree, and validates the result.
// Unknown YAML keys are rejected rather than silently ignored.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("config: loading env overrides: %w", err)
	}

	var cfg Config
	uc := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			ErrorUnused:      true,
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, uc); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}

	interpolateEnv(&cfg)
	applyProviderEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// interpolateEnv walks every exported string field, slice element, and
// map value in cfg and expands a "${VAR}" value to os.Getenv(VAR).
// Generalizes the teacher's single-field api_key expansion (which only
// handled ProviderConfig.APIKey) to the whole config tree, since this
// spec's schema has many more string fields an operator might want to
// source from the environment (lua scripts, site URLs, base URLs).
func interpolateEnv(cfg *Config) {
	walkInterpolate(reflect.ValueOf(cfg).Elem())
}

func walkInterpolate(v reflect.Value) {
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if !v.IsNil() {
			walkInterpolate(v.Elem())
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Field(i).CanSet() {
				walkInterpolate(v.Field(i))
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			walkInterpolate(v.Index(i))
		}
	case reflect.Map:
		for _, key := range v.MapKeys() {
			mv := v.MapIndex(key)
			if mv.Kind() == reflect.String {
				if expanded := expandEnv(mv.String()); expanded != mv.String() {
					v.SetMapIndex(key, reflect.ValueOf(expanded))
				}
			}
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(expandEnv(v.String()))
		}
	}
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	return s
}

// applyProviderEnvOverrides lets <PROVIDER_NAME>_API_KEY / _API_BASE env
// vars win over whatever Load parsed from YAML, per spec.md §6.
func applyProviderEnvOverrides(cfg *Config) {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		prefix := strings.ToUpper(p.Name)
		if v := os.Getenv(prefix + "_API_KEY"); v != "" {
			p.APIKey = v
		}
		if v := os.Getenv(prefix + "_API_BASE"); v != "" {
			p.APIBase = v
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Timeout == 0 {
			p.Timeout = 30 * time.Second
		}
		if p.Weight == 0 {
			p.Weight = 1
		}
	}
	if cfg.Routing.Strategy == "" {
		cfg.Routing.Strategy = "round_robin"
	}
	if cfg.Routing.HealthCheck.Interval == 0 {
		cfg.Routing.HealthCheck.Interval = 30 * time.Second
	}
	if cfg.Routing.HealthCheck.Timeout == 0 {
		cfg.Routing.HealthCheck.Timeout = 5 * time.Second
	}
	cb := &cfg.Routing.CircuitBreaker
	if cb.FailureThreshold == 0 {
		cb.FailureThreshold = 5
	}
	if cb.RecoveryTimeout == 0 {
		cb.RecoveryTimeout = 30 * time.Second
	}
	if cb.HalfOpenMaxRequests == 0 {
		cb.HalfOpenMaxRequests = 1
	}
	if cb.SuccessThreshold == 0 {
		cb.SuccessThreshold = 2
	}
	if cfg.Middleware.RateLimit.Strategy == "" {
		cfg.Middleware.RateLimit.Strategy = "sliding_window"
	}
	if cfg.Middleware.RateLimit.Window == 0 {
		cfg.Middleware.RateLimit.Window = time.Minute
	}
	if cfg.Middleware.Cache.MaxSize == 0 {
		cfg.Middleware.Cache.MaxSize = 10000
	}
	if cfg.Middleware.Cache.DefaultTTL == 0 {
		cfg.Middleware.Cache.DefaultTTL = 5 * time.Minute
	}
	if cfg.Middleware.Cache.SimilarityThreshold == 0 {
		cfg.Middleware.Cache.SimilarityThreshold = 0.90
	}
}

// Watch reloads path whenever it changes on disk and invokes onChange
// with the newly loaded Config, or the error Load returned if the new
// version doesn't parse/validate — callers decide whether a bad reload
// keeps the last-known-good Config or propagates the failure. Built on
// koanf's file provider, which already watches via fsnotify internally;
// no pack example wires fsnotify directly, so this rides the ecosystem
// library's own file-watch support instead of reimplementing it.
func Watch(path string, onChange func(*Config, error)) error {
	f := file.Provider(path)
	return f.Watch(func(event interface{}, err error) {
		if err != nil {
			onChange(nil, fmt.Errorf("config: watch: %w", err))
			return
		}
		cfg, loadErr := Load(path)
		onChange(cfg, loadErr)
	})
}

// validate enforces spec.md §7's fatal-at-boot conditions: a bad api_base
// is checked via ssrf.ValidateUpstreamURL, not a bare URL parse, so a
// config pointing at a cloud metadata endpoint or an internal IP fails
// here rather than at first request.
func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 {
		return fmt.Errorf("config: server.port must be positive")
	}

	seen := make(map[string]bool, len(cfg.Providers))
	allModels := make(map[string]bool)
	for _, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("config: a provider entry is missing name")
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true

		if p.APIKey == "" {
			return fmt.Errorf("config: provider %q is missing api_key", p.Name)
		}
		if p.APIBase != "" {
			if err := ssrf.ValidateUpstreamURL(p.APIBase, p.Name); err != nil {
				return fmt.Errorf("config: provider %q api_base: %w", p.Name, err)
			}
		}
		if p.Timeout <= 0 {
			return fmt.Errorf("config: provider %q timeout must be positive", p.Name)
		}
		if p.MaxRetries < 0 {
			return fmt.Errorf("config: provider %q max_retries must be >= 0", p.Name)
		}
		for _, m := range p.Models {
			allModels[m] = true
		}
	}

	return validateFallbackGraph(cfg.Routing.Fallbacks)
}

// validateFallbackGraph rejects the one unambiguous inconsistency a
// static config check can catch without a live deployment registry: a
// model listed as its own fallback, which would make a retryable error
// loop back to the exact deployment set that just failed it.
func validateFallbackGraph(fb FallbacksConfig) error {
	check := func(label string, m map[string][]string) error {
		for model, targets := range m {
			for _, target := range targets {
				if target == model {
					return fmt.Errorf("config: inconsistent fallback graph: %s fallback for %q lists itself", label, model)
				}
			}
		}
		return nil
	}
	if err := check("general", fb.General); err != nil {
		return err
	}
	if err := check("content_policy", fb.ContentPolicy); err != nil {
		return err
	}
	if err := check("context_window", fb.ContextWindow); err != nil {
		return err
	}
	return check("rate_limit", fb.RateLimit)
}
