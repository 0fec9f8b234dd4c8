package embed

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestDummyEmbeddingDeterministic(t *testing.T) {
	a := DummyEmbedding("hello world", 16)
	b := DummyEmbedding("hello world", 16)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same text should embed identically")
	}
	if len(a) != 16 {
		t.Fatalf("dimension = %d, want 16", len(a))
	}
	c := DummyEmbedding("something else", 16)
	if reflect.DeepEqual(a, c) {
		t.Fatalf("different texts should differ")
	}
	if got := len(DummyEmbedding("x", 0)); got != 768 {
		t.Fatalf("default dimension = %d, want 768", got)
	}
}

func TestDummyEmbedderBatch(t *testing.T) {
	e := NewDummyEmbedder(8)
	out, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(out) != 2 || len(out[0]) != 8 {
		t.Fatalf("unexpected batch shape: %d x %d", len(out), len(out[0]))
	}
}

type countingEmbedder struct {
	calls int
	fail  bool
}

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls++
	if c.fail {
		return nil, errors.New("boom")
	}
	return DummyEmbedding(text, 8), nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	if c.fail {
		return nil, errors.New("boom")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = DummyEmbedding(text, 8)
	}
	return out, nil
}

func TestCachedEmbedderHitsSkipInner(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCached(inner, 10, 0)

	first, err := c.Embed(context.Background(), "repeated text")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	second, err := c.Embed(context.Background(), "repeated text")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("cache returned a different vector")
	}
	if inner.calls != 1 {
		t.Fatalf("inner embedder called %d times, want 1", inner.calls)
	}
	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("stats = %+v, want 1 hit 1 miss", stats)
	}
}

func TestCachedEmbedderBatchOnlyFetchesMisses(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCached(inner, 10, 0)
	if _, err := c.Embed(context.Background(), "warm"); err != nil {
		t.Fatalf("warm: %v", err)
	}

	out, err := c.EmbedBatch(context.Background(), []string{"warm", "cold"})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("batch size = %d", len(out))
	}
	if !reflect.DeepEqual(out[0], DummyEmbedding("warm", 8)) {
		t.Fatalf("warm entry wrong")
	}
	if inner.calls != 2 { // one warm Embed, one batch for the miss
		t.Fatalf("inner calls = %d, want 2", inner.calls)
	}

	// A fully-warm batch never touches the inner embedder.
	inner.fail = true
	if _, err := c.EmbedBatch(context.Background(), []string{"warm", "cold"}); err != nil {
		t.Fatalf("fully cached batch should not hit inner: %v", err)
	}
}

func TestAutoFallsBackToDummy(t *testing.T) {
	t.Setenv("MEMORY_EMBED_PROVIDER", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("VOYAGE_API_KEY", "")
	t.Setenv("OLLAMA_HOST", "")
	if _, ok := Auto().(DummyEmbedder); !ok {
		t.Fatalf("Auto without configuration should return the dummy")
	}
}
