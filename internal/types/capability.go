package types

// ProviderCapability flags one thing a provider can do. Providers report a
// subset via Capabilities(), but dispatch does not consult that set: the
// handlers type-assert the optional provider interfaces and fail with
// provider.ErrNotSupportedCapability when one is missing.
type ProviderCapability string

const (
	CapChat               ProviderCapability = "chat"
	CapChatStream         ProviderCapability = "chat_stream"
	CapEmbedding          ProviderCapability = "embedding"
	CapImage              ProviderCapability = "image"
	CapAudioTranscription ProviderCapability = "audio_transcription"
	CapAudioTranslation   ProviderCapability = "audio_translation"
	CapAudioSpeech        ProviderCapability = "audio_speech"
	CapModeration         ProviderCapability = "moderation"
	CapRerank             ProviderCapability = "rerank"
	CapFunctionCalling    ProviderCapability = "function_calling"
	CapVision             ProviderCapability = "vision"
	CapJSONMode           ProviderCapability = "json_mode"
	CapLogprobs           ProviderCapability = "logprobs"
	CapThinking           ProviderCapability = "thinking"
)

// CapabilitySet is a small fixed set of capabilities; a map keeps lookups
// O(1) without needing a bitset type for the handful of flags we have.
type CapabilitySet map[ProviderCapability]bool

// NewCapabilitySet builds a set from the given flags.
func NewCapabilitySet(caps ...ProviderCapability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = true
	}
	return s
}

// Has reports whether the capability is present.
func (s CapabilitySet) Has(c ProviderCapability) bool {
	return s[c]
}

// Money represents a cost in a given currency, kept as a decimal float
// since provider pricing tables are themselves floating-point per-1k-token
// rates; not intended for ledger-grade accounting.
type Money struct {
	Amount   float64
	Currency string
}

// ModelSpec describes one model a provider exposes.
type ModelSpec struct {
	ID                string
	DisplayName       string
	ProviderID        string
	MaxContextTokens  int
	SupportsStreaming bool
	InputCostPer1K    float64
	OutputCostPer1K   float64
	Currency          string
	Capabilities      CapabilitySet
}
