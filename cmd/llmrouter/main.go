// Package main is the entry point for the llmrouter gateway.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/llmgateway/gateway/internal/cache"
	"github.com/llmgateway/gateway/internal/circuitbreaker"
	"github.com/llmgateway/gateway/internal/config"
	"github.com/llmgateway/gateway/internal/health"
	"github.com/llmgateway/gateway/internal/httpclient"
	"github.com/llmgateway/gateway/internal/metrics"
	"github.com/llmgateway/gateway/internal/provider"
	"github.com/llmgateway/gateway/internal/providers"
	"github.com/llmgateway/gateway/internal/ratelimit"
	"github.com/llmgateway/gateway/internal/router"
	"github.com/llmgateway/gateway/internal/server"
	"github.com/llmgateway/gateway/internal/tokencount"
	"github.com/llmgateway/gateway/internal/types"
)

func main() {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Build the deployment registry: every (provider, model) pair the
	// config names becomes one Deployment, and several can back the same
	// logical model name so the router's strategies have something to
	// choose between.
	//
	// providerConstructors maps a config provider type to the function
	// that builds it. This avoids a big if/else chain and makes it easy
	// to add new providers later — just add an entry here.
	registry := router.NewRegistry()
	for _, provCfg := range cfg.Providers {
		p, err := buildProvider(provCfg)
		if err != nil {
			log.Fatalf("provider %q: %v", provCfg.Name, err)
		}
		for _, model := range provCfg.Models {
			id := provCfg.Name + "/" + model
			d := router.NewDeployment(id, model, p)
			d.Tags = provCfg.Tags
			d.Weight = provCfg.Weight
			d.Priority = provCfg.Priority
			registry.Register(d)
			log.Printf("registered model %q -> provider %q (deployment %q)", model, provCfg.Name, id)
		}
	}

	promReg := prometheus.NewRegistry()
	healthSystem := health.NewSystem()
	limiter := ratelimit.NewLimiter(ratelimit.Strategy(cfg.Middleware.RateLimit.Strategy), cfg.Middleware.RateLimit.RPM, cfg.Middleware.RateLimit.Window)
	metricsRegistry := metrics.NewRegistry(promReg)

	rt := router.New(router.Params{
		Registry:        registry,
		Breakers:        circuitbreaker.NewRegistry(circuitbreakerConfig(cfg)),
		Limiter:         limiter,
		Health:          healthSystem,
		Metrics:         metricsRegistry,
		Fallback:        fallbackConfig(cfg),
		DefaultStrategy: router.Config{Kind: router.Kind(cfg.Routing.Strategy), SplitRatio: cfg.Routing.SplitRatio, LuaScript: cfg.Routing.LuaScript},
		MaxRetries:      cfg.Routing.MaxRetries,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prober := health.NewProber(healthSystem, cfg.Routing.HealthCheck.Interval, cfg.Routing.HealthCheck.Timeout, func() []health.Target {
		targets := make([]health.Target, 0, len(registry.Models()))
		for _, model := range registry.Models() {
			for _, d := range registry.Deployments(model) {
				targets = append(targets, router.ProbeTarget(d))
			}
		}
		return targets
	})
	go prober.Run(ctx)
	go runRateLimiterCleanup(ctx, limiter, rateLimiterCleanupInterval, rateLimiterMaxIdle)
	metricsRegistry.StartCleanup(metricsCleanupInterval, metricsMaxIdle, ctx.Done())

	var c *cache.Cache
	if cfg.Middleware.Cache.Enabled {
		c = cache.New(cache.Config{
			MaxSize:             cfg.Middleware.Cache.MaxSize,
			DefaultTTL:          cfg.Middleware.Cache.DefaultTTL,
			SimilarityThreshold: float32(cfg.Middleware.Cache.SimilarityThreshold),
		})
	}

	srv := server.New(rt, c, server.NoopAuthenticator{}, promReg)
	if cfg.Server.TokenizerVocabPath != "" {
		est, err := tokencount.NewEstimator(cfg.Server.TokenizerVocabPath)
		if err != nil {
			log.Fatalf("loading tokenizer: %v", err)
		}
		srv.WithTokenEstimator(est)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("llmrouter listening on :%d", cfg.Server.Port)

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// Cleanup intervals for the two background sweeps that keep long-lived
// gateways from leaking memory: one entry per API key in the rate
// limiter, one histogram per (provider, model) pair in the metrics
// registry.
const (
	rateLimiterCleanupInterval = 60 * time.Second
	rateLimiterMaxIdle         = 10 * time.Minute
	metricsCleanupInterval     = 5 * time.Minute
	metricsMaxIdle             = 30 * time.Minute
)

// runRateLimiterCleanup sweeps idle rate limiter entries every interval
// until ctx is canceled. ratelimit.Limiter.Cleanup is a single pass, so
// unlike metrics.Registry.StartCleanup it needs its own ticker loop.
func runRateLimiterCleanup(ctx context.Context, limiter *ratelimit.Limiter, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			limiter.Cleanup(maxIdle)
		case <-ctx.Done():
			return
		}
	}
}

func circuitbreakerConfig(cfg *config.Config) circuitbreaker.Config {
	return circuitbreaker.Config{
		FailureThreshold:    cfg.Routing.CircuitBreaker.FailureThreshold,
		RecoveryTimeout:     cfg.Routing.CircuitBreaker.RecoveryTimeout,
		HalfOpenMaxRequests: cfg.Routing.CircuitBreaker.HalfOpenMaxRequests,
		SuccessThreshold:    cfg.Routing.CircuitBreaker.SuccessThreshold,
	}
}

func fallbackConfig(cfg *config.Config) *router.FallbackConfig {
	fb := router.NewFallbackConfig()
	fb.General = cfg.Routing.Fallbacks.General
	fb.ContentPolicy = cfg.Routing.Fallbacks.ContentPolicy
	fb.ContextWindow = cfg.Routing.Fallbacks.ContextWindow
	fb.RateLimit = cfg.Routing.Fallbacks.RateLimit
	return fb
}

// modelSpecs synthesizes the []types.ModelSpec every provider
// constructor wants out of the bare model-id list config carries;
// pricing and context-window metadata aren't part of the config schema,
// so those fields stay at their zero value until a catalog source is
// wired in.
func modelSpecs(provCfg config.ProviderConfig) []types.ModelSpec {
	specs := make([]types.ModelSpec, len(provCfg.Models))
	for i, id := range provCfg.Models {
		specs[i] = types.ModelSpec{ID: id, DisplayName: id, ProviderID: provCfg.Name, SupportsStreaming: true}
	}
	return specs
}

// providerFactory builds one provider.Provider out of its config entry
// and a tuned HTTP client.
type providerFactory func(provCfg config.ProviderConfig, client *http.Client) provider.Provider

var providerConstructors = map[string]providerFactory{
	"anthropic": func(c config.ProviderConfig, client *http.Client) provider.Provider {
		return providers.NewAnthropic(c.APIKey, c.APIBase, client, modelSpecs(c))
	},
	"google": func(c config.ProviderConfig, client *http.Client) provider.Provider {
		return providers.NewGoogle(c.APIKey, c.APIBase, client, modelSpecs(c))
	},
	"cohere": func(c config.ProviderConfig, client *http.Client) provider.Provider {
		return providers.NewCohere(c.APIKey, c.APIBase, client, modelSpecs(c))
	},
	"azure": func(c config.ProviderConfig, client *http.Client) provider.Provider {
		return providers.NewAzure(c.APIKey, c.APIBase, client, modelSpecs(c), c.AzureDeployments)
	},
	"openai": func(c config.ProviderConfig, client *http.Client) provider.Provider {
		return providers.NewOpenAICompat("openai", c.APIKey, c.APIBase, client, modelSpecs(c), nil)
	},
	"openai_compat": func(c config.ProviderConfig, client *http.Client) provider.Provider {
		return providers.NewOpenAICompat(c.Name, c.APIKey, c.APIBase, client, modelSpecs(c), nil)
	},
	"groq": func(c config.ProviderConfig, client *http.Client) provider.Provider {
		return providers.NewGroq(c.APIKey, c.APIBase, client, modelSpecs(c))
	},
	"deepseek": func(c config.ProviderConfig, client *http.Client) provider.Provider {
		return providers.NewDeepSeek(c.APIKey, c.APIBase, client, modelSpecs(c))
	},
	"deepinfra": func(c config.ProviderConfig, client *http.Client) provider.Provider {
		return providers.NewDeepInfra(c.APIKey, c.APIBase, client, modelSpecs(c))
	},
	"openrouter": func(c config.ProviderConfig, client *http.Client) provider.Provider {
		return providers.NewOpenRouter(c.APIKey, c.APIBase, c.SiteURL, c.SiteName, client, modelSpecs(c))
	},
	"cloudflare": func(c config.ProviderConfig, client *http.Client) provider.Provider {
		return providers.NewCloudflare(c.APIKey, c.APIBase, client, modelSpecs(c))
	},
	"xai": func(c config.ProviderConfig, client *http.Client) provider.Provider {
		return providers.NewXAI(c.APIKey, c.APIBase, client, modelSpecs(c))
	},
}

func buildProvider(provCfg config.ProviderConfig) (provider.Provider, error) {
	factory, ok := providerConstructors[provCfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown provider type %q", provCfg.Type)
	}
	timeout := provCfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := httpclient.NewPool(timeout, 16).Client()
	return factory(provCfg, client), nil
}
