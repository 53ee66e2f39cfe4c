package provider

import (
	"testing"

	"github.com/llmgateway/gateway/internal/types"
)

func TestApplySupportedParams_DropsUnsupportedFields(t *testing.T) {
	temp := 0.7
	seed := 42
	req := &types.ChatRequest{
		Model:       "some-model",
		Temperature: &temp,
		Seed:        &seed,
		Stop:        []string{"\n"},
		Tools:       []types.Tool{{Function: types.ToolFunction{Name: "get_weather"}}},
		ToolChoice:  &types.ToolChoice{Type: types.ToolChoiceAuto},
	}

	out := ApplySupportedParams(req, map[string]bool{"temperature": true, "stop": true})

	if out.Temperature == nil || *out.Temperature != temp {
		t.Errorf("Temperature dropped, want kept")
	}
	if out.Stop == nil {
		t.Errorf("Stop dropped, want kept")
	}
	if out.Seed != nil {
		t.Errorf("Seed = %v, want nil (not in supported set)", out.Seed)
	}
	if out.Tools != nil {
		t.Errorf("Tools = %v, want nil (not in supported set)", out.Tools)
	}
	if out.ToolChoice != nil {
		t.Errorf("ToolChoice = %v, want nil (tools unsupported implies tool_choice unsupported)", out.ToolChoice)
	}

	// original request is untouched.
	if req.Seed == nil || *req.Seed != seed {
		t.Errorf("ApplySupportedParams mutated the original request")
	}
}

func TestApplySupportedParams_DropsToolChoiceWhenToolsSupportedButChoiceIsnt(t *testing.T) {
	req := &types.ChatRequest{
		Model:      "some-model",
		Tools:      []types.Tool{{Function: types.ToolFunction{Name: "get_weather"}}},
		ToolChoice: &types.ToolChoice{Type: types.ToolChoiceAuto},
	}

	out := ApplySupportedParams(req, map[string]bool{"tools": true})

	if out.Tools == nil {
		t.Errorf("Tools dropped, want kept")
	}
	if out.ToolChoice != nil {
		t.Errorf("ToolChoice = %v, want nil (tool_choice not in supported set)", out.ToolChoice)
	}
}

func TestApplySupportedParams_NilRequest(t *testing.T) {
	if got := ApplySupportedParams(nil, map[string]bool{}); got != nil {
		t.Errorf("ApplySupportedParams(nil, ...) = %v, want nil", got)
	}
}
