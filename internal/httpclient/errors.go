package httpclient

import (
	"context"
	"errors"
	"net"
	"net/url"

	"github.com/llmgateway/gateway/internal/types"
)

// ClassifyTransportError turns a raw error from (*http.Client).Do into the
// canonical ProviderError taxonomy, distinguishing timeout/cancellation
// from generic network failure. provider is the adapter name for
// attribution, e.g. "anthropic".
func ClassifyTransportError(provider string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewProviderError(provider, types.ErrTimeout, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return types.NewProviderError(provider, types.ErrTimeout, "request canceled", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.NewProviderError(provider, types.ErrTimeout, "network timeout", err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return types.NewProviderError(provider, types.ErrTimeout, "network timeout", err)
	}

	return types.NewProviderError(provider, types.ErrNetwork, "request failed", err)
}
