// Package tokencount estimates prompt token counts with a real
// tokenizer so a ContextLengthExceeded error can be raised before a
// request ever reaches the upstream provider, instead of only being
// discovered after a 400 comes back from it.
package tokencount

import (
	"fmt"
	"sync"

	"github.com/daulet/tokenizers"

	"github.com/llmgateway/gateway/internal/types"
)

// Estimator counts tokens for one tokenizer.json (HuggingFace format).
// Most providers' tokenizers diverge slightly from each other; an
// Estimator built from any reasonably modern BPE vocabulary is accurate
// enough for a pre-flight guard, which only needs to catch requests
// that are grossly over budget, not match a provider's count exactly.
type Estimator struct {
	mu  sync.Mutex
	tok *tokenizers.Tokenizer
}

// NewEstimator loads the tokenizer vocabulary at path.
func NewEstimator(path string) (*Estimator, error) {
	tok, err := tokenizers.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer %q: %w", path, err)
	}
	return &Estimator{tok: tok}, nil
}

// Close releases the underlying tokenizer.
func (e *Estimator) Close() error {
	return e.tok.Close()
}

// Count returns the token count of text. daulet/tokenizers wraps a
// Rust tokenizer whose thread-safety under concurrent Encode calls
// isn't documented, so callers serialize through Estimator's mutex.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ids, _ := e.tok.Encode(text, false)
	return len(ids)
}

// PromptTokens sums the token count of every message in req, the same
// "whole conversation counts toward the window" accounting providers
// use when enforcing a context limit.
func (e *Estimator) PromptTokens(req *types.ChatRequest) int {
	total := 0
	for _, m := range req.Messages {
		total += e.Count(m.Content.PlainText())
	}
	return total
}

// CheckContextWindow returns a ContextLengthExceeded provider error if
// promptTokens plus req's requested completion budget would exceed
// maxContextTokens. maxContextTokens <= 0 means the model's context
// window isn't known, so the check is skipped rather than guessed at.
func CheckContextWindow(providerName string, promptTokens int, req *types.ChatRequest, maxContextTokens int) error {
	if maxContextTokens <= 0 {
		return nil
	}

	completionBudget := 0
	switch {
	case req.MaxTokens != nil:
		completionBudget = *req.MaxTokens
	case req.MaxCompletionTokens != nil:
		completionBudget = *req.MaxCompletionTokens
	}

	if promptTokens+completionBudget <= maxContextTokens {
		return nil
	}
	return types.NewProviderError(providerName, types.ErrContextLength,
		fmt.Sprintf("prompt (%d tokens) plus requested completion (%d tokens) exceeds the model's %d token context window",
			promptTokens, completionBudget, maxContextTokens), nil)
}
