package cache

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/llmgateway/gateway/internal/types"
)

// round collapses sampling parameters to three decimal places before
// hashing, so requests that differ only in float noise (0.7 vs
// 0.7000001) still share a fingerprint, per spec.md's fingerprint
// definition.
func round(f float64) float64 {
	return math.Round(f*1000) / 1000
}

// Fingerprint computes a stable cache key for req: model, the
// normalized message sequence, rounded sampling parameters, and a
// sorted tool-name signature. Two requests that would produce the same
// upstream call hash identically regardless of map iteration order or
// float formatting.
func Fingerprint(req *types.ChatRequest) string {
	var b strings.Builder
	b.WriteString(req.Model)
	b.WriteByte('|')

	for _, m := range req.Messages {
		b.WriteString(string(m.Role))
		b.WriteByte(':')
		b.WriteString(m.Content.PlainText())
		if m.ToolCallID != "" {
			b.WriteString(";tc=")
			b.WriteString(m.ToolCallID)
		}
		b.WriteByte('|')
	}

	if req.Temperature != nil {
		fmt.Fprintf(&b, "temp=%.3f|", round(*req.Temperature))
	}
	if req.TopP != nil {
		fmt.Fprintf(&b, "topp=%.3f|", round(*req.TopP))
	}
	if n, ok := req.EffectiveMaxTokens(); ok {
		fmt.Fprintf(&b, "maxtok=%d|", n)
	}
	if req.Seed != nil {
		fmt.Fprintf(&b, "seed=%d|", *req.Seed)
	}

	if len(req.Tools) > 0 {
		names := make([]string, len(req.Tools))
		for i, t := range req.Tools {
			names[i] = t.Function.Name
		}
		sort.Strings(names)
		b.WriteString("tools=")
		b.WriteString(strings.Join(names, ","))
		b.WriteByte('|')
	}

	sum := xxhash.Sum64String(b.String())
	return fmt.Sprintf("chat:%016x", sum)
}
