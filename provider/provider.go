// Package provider defines the LLM boundary: classification and
// embedding calls. Both are fallible and rate-limited; the engine treats
// every concrete backend as opaque.
//
// Implementations: provider/anthropic (classification),
// provider/openai (classification + embeddings), embedder/mock and
// embedder/onnx (embeddings only).
package provider

import "context"

// Classifier sends an instruction prompt plus conversational text to a
// model and returns the raw response text. Callers own parsing; the raw
// text is expected to be strict JSON but frequently is not.
type Classifier interface {
	Classify(ctx context.Context, systemPrompt, text string) (string, error)
}

// Embedder converts text to a fixed-length vector.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}
