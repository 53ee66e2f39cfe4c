// Package httpclient provides the pooled HTTP clients and the shared SSE
// reader every provider transformer builds on. The teacher's anthropic.go
// and google.go each hand-rolled their own bufio.Scanner loop and their
// own http.Client plumbing; here that loop and pool live once and every
// provider adapter calls into them.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"time"
)

// Pool hands out a configured *http.Client per provider. Each Client gets
// its own http.Transport (and so its own connection pool) built from the
// Pool's per-host idle limit and timeout, so per-provider timeouts can
// diverge without one provider's slow upstream stalling another's
// requests.
type Pool struct {
	timeout             time.Duration
	maxIdleConnsPerHost int
}

// NewPool builds a Pool. timeout is the overall per-request deadline;
// zero means no client-level timeout (rely on context instead).
func NewPool(timeout time.Duration, maxIdleConnsPerHost int) *Pool {
	if maxIdleConnsPerHost <= 0 {
		maxIdleConnsPerHost = 16
	}
	return &Pool{timeout: timeout, maxIdleConnsPerHost: maxIdleConnsPerHost}
}

// Client returns a new *http.Client tuned for one provider's upstream.
func (p *Pool) Client() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   p.maxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   p.timeout,
	}
}

// ctxKey avoids collisions with other packages' context keys.
type ctxKey int

const requestIDKey ctxKey = iota

// WithRequestID attaches a request id to ctx for downstream logging.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID reads back the id set by WithRequestID, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
