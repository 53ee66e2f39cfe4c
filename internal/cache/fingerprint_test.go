package cache

import (
	"testing"

	"github.com/llmgateway/gateway/internal/types"
)

func TestFingerprint_StableForIdenticalRequests(t *testing.T) {
	a := textRequest("gpt-4o", "hello")
	b := textRequest("gpt-4o", "hello")
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("identical requests should fingerprint identically")
	}
}

func TestFingerprint_DiffersByModel(t *testing.T) {
	a := textRequest("gpt-4o", "hello")
	b := textRequest("claude-3", "hello")
	if Fingerprint(a) == Fingerprint(b) {
		t.Error("different models should fingerprint differently")
	}
}

func TestFingerprint_RoundsFloatNoise(t *testing.T) {
	temp1 := 0.7
	temp2 := 0.7000001
	a := textRequest("m", "hello")
	a.Temperature = &temp1
	b := textRequest("m", "hello")
	b.Temperature = &temp2

	if Fingerprint(a) != Fingerprint(b) {
		t.Error("near-identical temperatures should round to the same fingerprint")
	}
}

func TestFingerprint_ToolOrderIndependent(t *testing.T) {
	toolA := types.Tool{Type: "function", Function: types.ToolFunction{Name: "get_weather"}}
	toolB := types.Tool{Type: "function", Function: types.ToolFunction{Name: "get_time"}}

	a := textRequest("m", "hello")
	a.Tools = []types.Tool{toolA, toolB}
	b := textRequest("m", "hello")
	b.Tools = []types.Tool{toolB, toolA}

	if Fingerprint(a) != Fingerprint(b) {
		t.Error("tool declaration order should not affect the fingerprint")
	}
}
