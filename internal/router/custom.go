package router

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// selectCustom runs script once per candidate with that deployment's
// health/cost/latency/busy/priority/weight exposed as Lua globals, and
// expects the script to set a "score" global; the candidate with the
// highest score wins. This is the escape hatch for routing logic the
// built-in strategies don't cover (spec.md §4.9's Custom variant).
func (s *Selector) selectCustom(script string, sc SelectionContext, candidates []*Deployment) (*Deployment, error) {
	if script == "" {
		return nil, fmt.Errorf("router: custom strategy requires a non-empty lua script")
	}

	var best *Deployment
	var bestScore float64

	for i, d := range candidates {
		score, err := runScoreScript(script, sc, d)
		if err != nil {
			return nil, fmt.Errorf("router: custom strategy script failed for deployment %q: %w", d.ID, err)
		}
		if i == 0 || score > bestScore {
			best, bestScore = d, score
		}
	}
	return best, nil
}

func runScoreScript(script string, sc SelectionContext, d *Deployment) (float64, error) {
	L := lua.NewState()
	defer L.Close()

	weight := 0.0
	if sc.Health != nil {
		weight = sc.Health.Weights()[d.ID]
	}
	latency := 0.0
	if sc.Metrics != nil {
		latency = sc.Metrics.LatencyP50(d.Provider.Name(), d.Upstream)
	}
	cost := 0.0
	if c, err := d.Provider.CalculateCost(d.Upstream, 1000, 1000); err == nil {
		cost = c.Amount
	}

	L.SetGlobal("health", lua.LNumber(weight))
	L.SetGlobal("latency_ms", lua.LNumber(latency))
	L.SetGlobal("cost", lua.LNumber(cost))
	L.SetGlobal("active", lua.LNumber(d.ActiveRequests()))
	L.SetGlobal("priority", lua.LNumber(d.Priority))
	L.SetGlobal("weight", lua.LNumber(d.Weight))
	L.SetGlobal("deployment_id", lua.LString(d.ID))

	if err := L.DoString(script); err != nil {
		return 0, err
	}

	score, ok := L.GetGlobal("score").(lua.LNumber)
	if !ok {
		return 0, fmt.Errorf("script did not set a numeric 'score' global")
	}
	return float64(score), nil
}
