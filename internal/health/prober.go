package health

import (
	"context"
	"time"
)

// Target is anything a Prober can run a liveness probe against and
// record the outcome for. router.ProbeTarget adapts a *router.Deployment
// to it, so this package needn't import router (which itself imports
// health).
type Target interface {
	ID() string
	Probe(ctx context.Context) error
}

// Prober runs HealthCheck against a set of targets on a fixed interval,
// grounded on original_source's HealthChecker::start_health_check_tasks
// (a single ticking background task that calls check_all and keeps
// going until told to stop). Timeout bounds each individual probe so
// one slow upstream can't stall the whole tick.
type Prober struct {
	system   *System
	interval time.Duration
	timeout  time.Duration
	targets  func() []Target
}

// NewProber builds a Prober that records into system. targets is called
// fresh on every tick, so it can reflect a config hot reload without
// the Prober needing to be rebuilt.
func NewProber(system *System, interval, timeout time.Duration, targets func() []Target) *Prober {
	return &Prober{system: system, interval: interval, timeout: timeout, targets: targets}
}

// Run blocks, probing every target once per interval, until ctx is
// canceled.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkAll(ctx)
		}
	}
}

func (p *Prober) checkAll(ctx context.Context) {
	for _, target := range p.targets() {
		probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
		start := time.Now()
		err := target.Probe(probeCtx)
		latency := time.Since(start)
		cancel()

		if err != nil {
			p.system.Record(target.ID(), Unhealthy(err.Error(), latency))
			continue
		}
		p.system.Record(target.ID(), Healthy(latency))
	}
}
