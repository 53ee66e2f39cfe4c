package cache

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// OnnxEmbedder runs a local sentence-embedding ONNX model (e.g. a
// distilled MiniLM/BGE checkpoint) for the semantic cache, avoiding a
// network round trip to an embeddings provider just to decide whether
// a prompt has been seen before.
//
// Tokenization is left to the caller's tokenizer of choice; OnnxEmbedder
// takes a tokenize function that turns text into input ids, so it stays
// agnostic to which tokenizer produced them.
type OnnxEmbedder struct {
	mu      sync.Mutex
	session *ort.AdvancedSession

	inputIDs  *ort.Tensor[int64]
	attnMask  *ort.Tensor[int64]
	output    *ort.Tensor[float32]
	maxTokens int
	tokenize  func(text string) []int64
}

// NewOnnxEmbedder loads modelPath into an ONNX Runtime session with a
// fixed [1, maxTokens] input shape. tokenize converts raw text into
// token ids; callers typically wire in a tokenizers-backed (e.g.
// daulet/tokenizers) tokenizer here.
func NewOnnxEmbedder(modelPath string, maxTokens int, embeddingDim int, tokenize func(text string) []int64) (*OnnxEmbedder, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initializing onnxruntime: %w", err)
	}

	inputShape := ort.NewShape(1, int64(maxTokens))
	inputIDs, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, fmt.Errorf("allocating input_ids tensor: %w", err)
	}
	attnMask, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		inputIDs.Destroy()
		return nil, fmt.Errorf("allocating attention_mask tensor: %w", err)
	}

	outputShape := ort.NewShape(1, int64(embeddingDim))
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputIDs.Destroy()
		attnMask.Destroy()
		return nil, fmt.Errorf("allocating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input_ids", "attention_mask"},
		[]string{"sentence_embedding"},
		[]ort.ArbitraryTensor{inputIDs, attnMask},
		[]ort.ArbitraryTensor{output},
		nil)
	if err != nil {
		inputIDs.Destroy()
		attnMask.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("creating onnx session for %s: %w", modelPath, err)
	}

	return &OnnxEmbedder{
		session:   session,
		inputIDs:  inputIDs,
		attnMask:  attnMask,
		output:    output,
		maxTokens: maxTokens,
		tokenize:  tokenize,
	}, nil
}

// Embed tokenizes text, runs the session, and returns a copy of the
// resulting embedding vector.
func (e *OnnxEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	ids := e.tokenize(text)

	e.mu.Lock()
	defer e.mu.Unlock()

	idsData := e.inputIDs.GetData()
	maskData := e.attnMask.GetData()
	for i := range idsData {
		if i < len(ids) {
			idsData[i] = ids[i]
			maskData[i] = 1
		} else {
			idsData[i] = 0
			maskData[i] = 0
		}
	}

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("running embedding session: %w", err)
	}

	out := e.output.GetData()
	vec := make([]float32, len(out))
	copy(vec, out)
	return vec, nil
}

// Close releases the underlying ONNX Runtime session and tensors.
func (e *OnnxEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.Destroy()
	e.inputIDs.Destroy()
	e.attnMask.Destroy()
	e.output.Destroy()
	return nil
}
