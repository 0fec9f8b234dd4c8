package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Protocol-Lattice/go-memory/pkg/contextgraph"
	"github.com/Protocol-Lattice/go-memory/pkg/importance"
	"github.com/Protocol-Lattice/go-memory/pkg/models"
)

const (
	// maxConversationBytes bounds extraction input.
	maxConversationBytes = 100 * 1024
	// maxFactBytes drops suspiciously long facts from model output.
	maxFactBytes = 2048
	// maxCandidates bounds one extraction pass.
	maxCandidates = 50
)

// Candidate is one fact proposed for storage.
type Candidate struct {
	Content           string
	Importance        float64
	Type              MemoryType
	ExtractionContext string
}

// DetectType classifies content by keyword. Preference markers win over
// relationship markers, which win over event markers; everything else is
// a fact.
func DetectType(content string) MemoryType {
	lower := strings.ToLower(content)
	switch {
	case strings.Contains(lower, "prefer") || strings.Contains(lower, "like") ||
		strings.Contains(lower, "favorite") || strings.Contains(lower, "dislike"):
		return TypePreference
	case strings.Contains(lower, "know") || strings.Contains(lower, "friend") ||
		strings.Contains(lower, "colleague") || strings.Contains(lower, "relationship"):
		return TypeRelationship
	case strings.Contains(lower, "happened") || strings.Contains(lower, "event") ||
		strings.Contains(lower, "occurred") || strings.Contains(lower, "meeting"):
		return TypeEvent
	}
	return TypeFact
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '\n'
}

// ExtractCandidates splits text into sentences on .!?\n, keeps sentences
// longer than 10 characters, and proposes those whose content score meets
// the threshold.
func ExtractCandidates(text, conversationID string, threshold float64, max int) []Candidate {
	if max <= 0 {
		max = maxCandidates
	}
	var candidates []Candidate
	start := 0
	runes := []rune(text)
	for start < len(runes) && len(candidates) < max {
		for start < len(runes) && (isSpaceOrPunct(runes[start])) {
			start++
		}
		if start >= len(runes) {
			break
		}
		end := start
		for end < len(runes) && !isSentenceEnd(runes[end]) {
			end++
		}
		sentence := strings.TrimSpace(string(runes[start:end]))
		if len(sentence) > 10 {
			score := importance.ScoreContent(sentence)
			if score >= threshold {
				candidates = append(candidates, Candidate{
					Content:           sentence,
					Importance:        score,
					Type:              DetectType(sentence),
					ExtractionContext: conversationID,
				})
			}
		}
		start = end + 1
	}
	return candidates
}

func isSpaceOrPunct(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '.', ',', '!', '?', ';', ':':
		return true
	}
	return false
}

func userExtractionPrompt(date string) string {
	return "You are a Personal Information Organizer, specialized in accurately storing facts, user memories, and preferences. " +
		"Your primary role is to extract relevant pieces of information from conversations and organize them into distinct, manageable facts. " +
		"This allows for easy retrieval and personalization in future interactions.\n\n" +
		"# [IMPORTANT]: GENERATE FACTS SOLELY BASED ON THE USER'S MESSAGES. DO NOT INCLUDE INFORMATION FROM ASSISTANT OR SYSTEM MESSAGES.\n" +
		"# [IMPORTANT]: YOU WILL BE PENALIZED IF YOU INCLUDE INFORMATION FROM ASSISTANT OR SYSTEM MESSAGES.\n\n" +
		"Types of Information to Remember:\n" +
		"1. Store Personal Preferences: Keep track of likes, dislikes, and specific preferences in various categories such as food, products, activities, and entertainment.\n" +
		"2. Maintain Important Personal Details: Remember significant personal information like names, relationships, and important dates.\n" +
		"3. Track Plans and Intentions: Note upcoming events, trips, goals, and any plans the user has shared.\n" +
		"4. Remember Activity and Service Preferences: Recall preferences for dining, travel, hobbies, and other services.\n" +
		"5. Monitor Health and Wellness Preferences: Keep a record of dietary restrictions, fitness routines, and other wellness-related information.\n" +
		"6. Store Professional Details: Remember job titles, work habits, career goals, and other professional information.\n" +
		"7. Miscellaneous Information Management: Keep track of favorite books, movies, brands, and other miscellaneous details that the user shares.\n\n" +
		"Examples:\n" +
		"User: Hi.\n" +
		"Assistant: Hello! How can I help today?\n" +
		"Output: {\"facts\": []}\n\n" +
		"User: Hi, my name is John. I am a software engineer.\n" +
		"Assistant: Nice to meet you, John!\n" +
		"Output: {\"facts\": [\"Name is John\", \"Is a Software engineer\"]}\n\n" +
		"User: My favourite movies are Inception and Interstellar.\n" +
		"Assistant: Great choices!\n" +
		"Output: {\"facts\": [\"Favourite movies are Inception and Interstellar\"]}\n\n" +
		"Return the facts in JSON format with a \"facts\" key containing an array of strings.\n" +
		"Today's date is " + date + ".\n" +
		"If you do not find anything relevant, return an empty list.\n" +
		"Extract facts ONLY from user messages, not assistant messages.\n\n" +
		"Conversation:\n"
}

func agentExtractionPrompt(date string) string {
	return "You are an Assistant Information Organizer, specialized in accurately storing facts, preferences, and characteristics about the AI assistant from conversations. " +
		"Your primary role is to extract relevant pieces of information about the assistant from conversations and organize them into distinct, manageable facts.\n\n" +
		"# [IMPORTANT]: GENERATE FACTS SOLELY BASED ON THE ASSISTANT'S MESSAGES. DO NOT INCLUDE INFORMATION FROM USER OR SYSTEM MESSAGES.\n" +
		"# [IMPORTANT]: YOU WILL BE PENALIZED IF YOU INCLUDE INFORMATION FROM USER OR SYSTEM MESSAGES.\n\n" +
		"Types of Information to Remember:\n" +
		"1. Assistant's Preferences: Keep track of likes, dislikes, and specific preferences the assistant mentions.\n" +
		"2. Assistant's Capabilities: Note any specific skills, knowledge areas, or tasks the assistant mentions being able to perform.\n" +
		"3. Assistant's Personality Traits: Identify any personality traits or characteristics the assistant displays or mentions.\n" +
		"4. Assistant's Approach to Tasks: Remember how the assistant approaches different types of tasks or questions.\n" +
		"5. Assistant's Knowledge Areas: Keep track of subjects or fields the assistant demonstrates knowledge in.\n\n" +
		"Examples:\n" +
		"User: Hi, I am looking for a restaurant.\n" +
		"Assistant: Sure, I can help with that.\n" +
		"Output: {\"facts\": []}\n\n" +
		"User: What are your favorite movies?\n" +
		"Assistant: My favorite movies are The Dark Knight and The Shawshank Redemption.\n" +
		"Output: {\"facts\": [\"Favourite movies are Dark Knight and Shawshank Redemption\"]}\n\n" +
		"Return the facts in JSON format with a \"facts\" key containing an array of strings.\n" +
		"Today's date is " + date + ".\n" +
		"If you do not find anything relevant, return an empty list.\n" +
		"Extract facts ONLY from assistant messages, not user messages.\n\n" +
		"Conversation:\n"
}

// parseFacts pulls the "facts" string array out of a model response.
// Malformed responses yield no candidates, never an error.
func parseFacts(response, conversationID string, max int) []Candidate {
	facts := gjson.Get(response, "facts")
	if !facts.IsArray() {
		return nil
	}
	var candidates []Candidate
	facts.ForEach(func(_, value gjson.Result) bool {
		if len(candidates) >= max {
			return false
		}
		if value.Type != gjson.String {
			return true
		}
		fact := value.String()
		if fact == "" || len(fact) >= maxFactBytes {
			return true
		}
		candidates = append(candidates, Candidate{
			Content:           fact,
			Importance:        importance.ScoreExtracted(fact),
			Type:              DetectType(fact),
			ExtractionContext: conversationID,
		})
		return true
	})
	return candidates
}

// ExtractCandidatesLLM asks a model to distill facts from a conversation.
// agentMemory switches the focus from user facts to assistant facts. A
// transport error is returned; an unparseable response yields zero
// candidates.
func ExtractCandidatesLLM(ctx context.Context, llm models.LLM, conversation, conversationID string, agentMemory bool, now time.Time) ([]Candidate, error) {
	if llm == nil {
		return nil, fmt.Errorf("memory: no model for extraction")
	}
	if len(conversation) > maxConversationBytes {
		return nil, fmt.Errorf("memory: conversation exceeds %d bytes", maxConversationBytes)
	}

	date := now.Format("2006-01-02")
	prompt := userExtractionPrompt(date)
	if agentMemory {
		prompt = agentExtractionPrompt(date)
	}

	response, err := llm.Generate(ctx, []models.Message{
		{Role: models.RoleUser, Content: prompt + conversation},
	}, models.FormatJSON)
	if err != nil {
		return nil, fmt.Errorf("memory: extraction model: %w", err)
	}
	return parseFacts(response, conversationID, maxCandidates), nil
}

// ExtractAndStore mines a conversation for facts and stores each one.
// With a model configured the LLM pipeline runs first; model failures and
// empty fact lists fall back to the heuristic splitter. Stored facts also feed the context graph
// when one is attached. Returns the ids of the stored memories.
func (l *Layer) ExtractAndStore(ctx context.Context, conversation, conversationID string, agentMemory bool) ([]string, error) {
	if l.embedder == nil {
		return nil, fmt.Errorf("memory: no embedder configured")
	}

	var candidates []Candidate
	if l.llm != nil {
		var err error
		candidates, err = ExtractCandidatesLLM(ctx, l.llm, conversation, conversationID, agentMemory, l.clock().UTC())
		if err != nil {
			l.logf("memory: llm extraction failed, using heuristic: %v", err)
			l.metrics.IncExtractionFallback()
			candidates = ExtractCandidates(conversation, conversationID, l.cfg.ExtractionThreshold, maxCandidates)
		} else if len(candidates) == 0 {
			l.logf("memory: llm extraction produced no facts, using heuristic")
			l.metrics.IncExtractionFallback()
			candidates = ExtractCandidates(conversation, conversationID, l.cfg.ExtractionThreshold, maxCandidates)
		}
	} else {
		candidates = ExtractCandidates(conversation, conversationID, l.cfg.ExtractionThreshold, maxCandidates)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Content
	}
	vectors, err := l.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("memory: embed facts: %w", err)
	}

	ids := make([]string, 0, len(candidates))
	for i, c := range candidates {
		id, err := l.Add(ctx, c.Content, vectors[i], AddOptions{
			Type:              c.Type,
			Importance:        c.Importance,
			Source:            conversationID,
			ExtractionContext: c.ExtractionContext,
		})
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}

	if l.graph != nil {
		scope := contextgraph.Scope{UserID: conversationID}
		if _, _, err := l.graph.ExtractAndAdd(ctx, conversation, scope); err != nil {
			l.logf("memory: context graph update: %v", err)
		}
	}
	return ids, nil
}
