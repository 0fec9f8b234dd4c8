// Package models provides chat-completion clients used for memory fact
// extraction and entity mining. Every client speaks the same small LLM
// interface so providers are interchangeable.
package models

import (
	"context"
)

// Role identifies the author of a chat message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Format hints at the output shape the caller expects.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// LLM generates a completion for a conversation. Implementations that have
// no native JSON mode emulate FormatJSON with a prompt instruction.
type LLM interface {
	Generate(ctx context.Context, messages []Message, format Format) (string, error)
}
