package models

import (
	"context"
	"fmt"
	"os"
)

// NewLLMProvider constructs a client by provider name.
func NewLLMProvider(ctx context.Context, provider string, model string) (LLM, error) {
	switch provider {
	case "openai":
		return NewOpenAILLM(model), nil
	case "gemini", "google":
		return NewGeminiLLM(ctx, model)
	case "ollama":
		return NewOllamaLLM(model)
	case "anthropic", "claude":
		return NewAnthropicLLM(model), nil
	case "dummy":
		return NewDummyLLM(), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
}

// AutoLLM picks a provider from the environment: MEMORY_LLM_PROVIDER plus
// MEMORY_LLM_MODEL when set, otherwise the first configured API key wins.
// With nothing configured it falls back to the deterministic dummy.
func AutoLLM(ctx context.Context) (LLM, error) {
	model := os.Getenv("MEMORY_LLM_MODEL")
	if provider := os.Getenv("MEMORY_LLM_PROVIDER"); provider != "" {
		return NewLLMProvider(ctx, provider, model)
	}
	switch {
	case os.Getenv("OPENAI_API_KEY") != "":
		if model == "" {
			model = "gpt-4o-mini"
		}
		return NewOpenAILLM(model), nil
	case os.Getenv("ANTHROPIC_API_KEY") != "":
		if model == "" {
			model = "claude-3-5-haiku-latest"
		}
		return NewAnthropicLLM(model), nil
	case os.Getenv("GOOGLE_API_KEY") != "" || os.Getenv("GEMINI_API_KEY") != "":
		if model == "" {
			model = "gemini-2.0-flash"
		}
		return NewGeminiLLM(ctx, model)
	case os.Getenv("OLLAMA_HOST") != "":
		if model == "" {
			model = "llama3.2"
		}
		return NewOllamaLLM(model)
	default:
		return NewDummyLLM(), nil
	}
}

// flatten renders a conversation as a single prompt for providers whose API
// takes one text block.
func flatten(messages []Message) string {
	var out string
	for i, m := range messages {
		if i > 0 {
			out += "\n\n"
		}
		switch m.Role {
		case RoleSystem:
			out += m.Content
		default:
			out += m.Role + ": " + m.Content
		}
	}
	return out
}

// jsonInstruction is appended for providers without a native JSON mode.
const jsonInstruction = "Respond with valid JSON only, no prose."
