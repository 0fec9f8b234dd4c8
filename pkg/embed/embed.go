// Package embed provides pluggable text-embedding providers. Memories and
// graph entities are embedded through the same interface, so any provider
// can back any store.
package embed

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
)

// Embedder is a pluggable text-embedding provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ErrNotSupported is returned by providers that do not offer embeddings.
var ErrNotSupported = errors.New("embeddings not supported by this provider")

// embedEach implements EmbedBatch for providers without a native batch API.
func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// ---------- Dummy (fallback) ----------

// DummyEmbedder produces deterministic vectors without network access.
type DummyEmbedder struct {
	Dim int
}

// NewDummyEmbedder returns a dummy with the given dimension, defaulting to
// 768.
func NewDummyEmbedder(dim int) DummyEmbedder {
	if dim <= 0 {
		dim = 768
	}
	return DummyEmbedder{Dim: dim}
}

func (d DummyEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return DummyEmbedding(text, d.Dim), nil
}

func (d DummyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, d, texts)
}

// DummyEmbedding rolls the text's bytes into a fixed-size vector. The same
// text always yields the same vector.
func DummyEmbedding(text string, dim int) []float32 {
	if dim <= 0 {
		dim = 768
	}
	vec := make([]float32, dim)
	for i, ch := range []byte(text) {
		vec[i%dim] += float32(ch) / 255.0
	}
	return vec
}

// Auto chooses a provider from env:
// MEMORY_EMBED_PROVIDER=openai|google|gemini|ollama|voyage|fastembed
// MEMORY_EMBED_MODEL=<model string>
// If not set, it infers from available API keys/OLLAMA_HOST, else dummy.
func Auto() Embedder {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("MEMORY_EMBED_PROVIDER")))
	model := strings.TrimSpace(os.Getenv("MEMORY_EMBED_MODEL"))

	switch provider {
	case "openai":
		if e, err := NewOpenAIEmbedder(model); err == nil {
			return e
		}
	case "google", "gemini":
		if e, err := NewGeminiEmbedder(model); err == nil {
			return e
		}
	case "ollama":
		if e, err := NewOllamaEmbedder(model); err == nil {
			return e
		}
	case "voyage":
		if e, err := NewVoyageEmbedder(model); err == nil {
			return e
		}
	case "fastembed":
		if opts := defaultFastEmbedOptions(); opts != nil {
			if e, err := NewFastEmbedder(context.Background(), opts); err == nil {
				return e
			}
		}
	case "":
		switch {
		case os.Getenv("OPENAI_API_KEY") != "":
			if e, err := NewOpenAIEmbedder(model); err == nil {
				return e
			}
		case os.Getenv("GOOGLE_API_KEY") != "" || os.Getenv("GEMINI_API_KEY") != "":
			if e, err := NewGeminiEmbedder(model); err == nil {
				return e
			}
		case os.Getenv("VOYAGE_API_KEY") != "":
			if e, err := NewVoyageEmbedder(model); err == nil {
				return e
			}
		case os.Getenv("OLLAMA_HOST") != "":
			if e, err := NewOllamaEmbedder(model); err == nil {
				return e
			}
		}
	}

	log.Printf("embed: falling back to DummyEmbedder")
	return NewDummyEmbedder(0)
}
