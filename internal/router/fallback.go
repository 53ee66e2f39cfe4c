package router

import "github.com/llmgateway/gateway/internal/types"

// FallbackConfig indexes model -> ordered fallback models, keyed by the
// error category that triggered the fallback. Grounded on
// original_source's legacy load-balancer FallbackConfig, generalized
// from mutator methods into plain exported maps since this gateway's
// config is loaded once (or swapped wholesale on reload) rather than
// built up incrementally.
type FallbackConfig struct {
	General       map[string][]string
	ContentPolicy map[string][]string
	ContextWindow map[string][]string
	RateLimit     map[string][]string
}

// NewFallbackConfig builds an empty FallbackConfig.
func NewFallbackConfig() *FallbackConfig {
	return &FallbackConfig{
		General:       make(map[string][]string),
		ContentPolicy: make(map[string][]string),
		ContextWindow: make(map[string][]string),
		RateLimit:     make(map[string][]string),
	}
}

// For returns the fallback model list for model under the given error
// category. An explicit category (content policy, context window, rate
// limit) always wins over a general fallback for the same model; if
// nothing matches the category, General is tried as a last resort.
func (f *FallbackConfig) For(model string, category types.FallbackCategory) []string {
	if f == nil {
		return nil
	}

	var byCategory map[string][]string
	switch category {
	case types.FallbackContentPolicy:
		byCategory = f.ContentPolicy
	case types.FallbackContextWindow:
		byCategory = f.ContextWindow
	case types.FallbackRateLimit:
		byCategory = f.RateLimit
	}

	if byCategory != nil {
		if fallbacks, ok := byCategory[model]; ok && len(fallbacks) > 0 {
			return fallbacks
		}
	}
	return f.General[model]
}
