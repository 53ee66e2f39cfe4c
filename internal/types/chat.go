// Package types defines the canonical request/response/delta/usage/error
// models shared by every provider adapter. Nothing outside this package
// should leak a provider-native shape — handlers, the router, and the
// cache all speak in these types, so they never need to know which
// upstream actually served a request.
package types

import "fmt"

// Role is the speaker of a Message. OpenAI-compatible wire shape is the
// reference serialization: see spec.md §3 and §6.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleFunction  Role = "function"
)

// ChatRequest is the internal representation of a chat completion request.
// The HTTP handler decodes the incoming OpenAI-format JSON into this
// struct, and provider adapters translate it into their backend-specific
// format.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`

	Temperature         *float64 `json:"temperature,omitempty"`
	TopP                *float64 `json:"top_p,omitempty"`
	MaxTokens           *int     `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int     `json:"max_completion_tokens,omitempty"`
	FrequencyPenalty    *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty     *float64 `json:"presence_penalty,omitempty"`
	Seed                *int     `json:"seed,omitempty"`
	Stop                []string `json:"stop,omitempty"`

	Tools      []Tool      `json:"tools,omitempty"`
	ToolChoice *ToolChoice `json:"tool_choice,omitempty"`

	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Stream         bool            `json:"stream,omitempty"`

	// ExtraParams carries fields this struct doesn't name explicitly.
	// Nothing fills it: it is tagged json:"-" and ChatRequest has no
	// custom decoder, so unknown request fields are dropped on decode,
	// and no provider adapter reads it.
	ExtraParams map[string]any `json:"-"`
}

// EffectiveMaxTokens resolves max_completion_tokens over the legacy
// max_tokens field, the way OpenAI's newer models expect.
func (r *ChatRequest) EffectiveMaxTokens() (int, bool) {
	if r.MaxCompletionTokens != nil {
		return *r.MaxCompletionTokens, true
	}
	if r.MaxTokens != nil {
		return *r.MaxTokens, true
	}
	return 0, false
}

// Validate enforces the ChatRequest invariants from spec.md §3:
// messages non-empty, every role is known, tool messages carry a
// tool_call_id, and a named tool_choice function must appear in Tools.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages must not be empty")
	}

	toolNames := make(map[string]bool, len(r.Tools))
	for _, t := range r.Tools {
		toolNames[t.Function.Name] = true
	}

	for i, m := range r.Messages {
		switch m.Role {
		case RoleSystem, RoleUser, RoleAssistant, RoleTool, RoleFunction:
		default:
			return fmt.Errorf("message %d: unknown role %q", i, m.Role)
		}
		if m.Role == RoleTool && m.ToolCallID == "" {
			return fmt.Errorf("message %d: tool message missing tool_call_id", i)
		}
	}

	if r.ToolChoice != nil && r.ToolChoice.Type == ToolChoiceFunction {
		if !toolNames[r.ToolChoice.Function.Name] {
			return fmt.Errorf("tool_choice names function %q not present in tools", r.ToolChoice.Function.Name)
		}
	}

	return nil
}

// Message is a single turn in the conversation. Content is either flat
// text or an ordered sequence of parts (text, image, audio, document,
// tool-use, tool-result) — see ContentPart.
type Message struct {
	Role    Role     `json:"role"`
	Content *Content `json:"content,omitempty"`

	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Content is a union of "flat text" and "ordered parts", matching the
// OpenAI wire shape where content is either a string or an array of
// typed parts. Exactly one of Text/Parts should be populated.
type Content struct {
	Text  string        `json:"-"`
	Parts []ContentPart `json:"-"`
}

// IsEmpty reports whether the content carries no text and no parts.
func (c *Content) IsEmpty() bool {
	return c == nil || (c.Text == "" && len(c.Parts) == 0)
}

// PlainText flattens any text-bearing parts into one string, used by the
// semantic cache to embed "the final user message" and by providers whose
// wire format wants flat text.
func (c *Content) PlainText() string {
	if c == nil {
		return ""
	}
	if c.Text != "" {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		if p.Type == ContentText {
			out += p.Text
		}
	}
	return out
}

// ContentPartType enumerates the multimodal content part kinds.
type ContentPartType string

const (
	ContentText       ContentPartType = "text"
	ContentImageURL   ContentPartType = "image_url"
	ContentImageBytes ContentPartType = "image_bytes"
	ContentAudio      ContentPartType = "audio"
	ContentDocument   ContentPartType = "document"
	ContentToolUse    ContentPartType = "tool_use"
	ContentToolResult ContentPartType = "tool_result"
)

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Type ContentPartType `json:"type"`

	Text string `json:"text,omitempty"`

	ImageURL    string `json:"image_url,omitempty"`
	ImageBytes  []byte `json:"image_bytes,omitempty"`
	ImageMIME   string `json:"image_mime,omitempty"`
	AudioBytes  []byte `json:"audio_bytes,omitempty"`
	AudioFormat string `json:"audio_format,omitempty"`
	DocumentURL string `json:"document_url,omitempty"`

	ToolUseID   string `json:"tool_use_id,omitempty"`
	ToolName    string `json:"tool_name,omitempty"`
	ToolInput   any    `json:"tool_input,omitempty"`
	ToolResult  string `json:"tool_result,omitempty"`
	ToolIsError bool   `json:"tool_is_error,omitempty"`
}

// Tool describes a function the model may call.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the function schema inside a Tool.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolChoiceType enumerates how the caller constrains tool use.
type ToolChoiceType string

const (
	ToolChoiceAuto     ToolChoiceType = "auto"
	ToolChoiceNone     ToolChoiceType = "none"
	ToolChoiceRequired ToolChoiceType = "required"
	ToolChoiceFunction ToolChoiceType = "function"
)

// ToolChoice is either a bare mode string or a specific function name;
// the wire shape is "auto"/"none"/"required" or {"type":"function",
// "function":{"name":"..."}}.
type ToolChoice struct {
	Type     ToolChoiceType `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function,omitempty"`
}

// ToolCall is one invocation an assistant message requests.
type ToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ResponseFormat hints at structured output (e.g. {"type":"json_object"}).
type ResponseFormat struct {
	Type string `json:"type"`
}

// FinishReason is the canonical reason generation stopped.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishFunctionCall  FinishReason = "function_call"
)

// ChatResponse is the complete (non-streaming) canonical response.
type ChatResponse struct {
	ID                string   `json:"id"`
	Created            int64    `json:"created"`
	Model             string   `json:"model"`
	SystemFingerprint string   `json:"system_fingerprint,omitempty"`
	Choices           []Choice `json:"choices"`
	Usage             *Usage   `json:"usage,omitempty"`

	// CacheHit is set by the response cache, never by a provider.
	CacheHit bool `json:"-"`
}

// Choice is one generated completion.
type Choice struct {
	Index        int           `json:"index"`
	Message      Message       `json:"message"`
	LogProbs     any           `json:"logprobs,omitempty"`
	FinishReason *FinishReason `json:"finish_reason"`
}

// Usage holds token accounting used for cost calculation and metrics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	CachedTokens    *int `json:"cached_tokens,omitempty"`
	AudioTokens     *int `json:"audio_tokens,omitempty"`
	ReasoningTokens *int `json:"reasoning_tokens,omitempty"`
}

// Add accumulates partial streaming usage into the running total.
func (u *Usage) Add(o Usage) {
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

// StreamChunk is one piece of a streaming response: the same frame as
// ChatResponse, but the message payload is a delta. The teacher's
// anthropic.go/google.go/stream_test.go all construct a StreamChunk with
// an Error field that the teacher's own struct definition never declared
// — a compile-time bug in the source we inherited from. This is the fix:
// Error is a first-class field here.
type StreamChunk struct {
	ID      string        `json:"id"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChoiceDelta `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`

	// Error signals a mid-stream failure. When set, Done is also true
	// and no further chunks follow on the channel.
	Error error `json:"-"`
	Done  bool  `json:"-"`
}

// ChoiceDelta is the incremental payload for one choice index.
type ChoiceDelta struct {
	Index        int             `json:"index"`
	Delta        Delta           `json:"delta"`
	FinishReason *FinishReason   `json:"finish_reason"`
}

// Delta carries only the fragment new to this chunk. Role is set once
// (first chunk), Content/Thinking accumulate, ToolCalls carry partial
// function-call argument fragments indexed by position.
type Delta struct {
	Role      Role             `json:"role,omitempty"`
	Content   string           `json:"content,omitempty"`
	Thinking  string           `json:"thinking,omitempty"`
	ToolCalls []ToolCallDelta  `json:"tool_calls,omitempty"`
}

// ToolCallDelta is a partial tool-call fragment, indexed by position so a
// consumer can reconstruct multiple concurrent tool calls.
type ToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Name     string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}
