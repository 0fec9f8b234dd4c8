package models

import (
	"context"
	"strings"
	"sync"
)

// DummyLLM is a lightweight model implementation useful for local testing
// without API calls. Scripted responses are replayed in order; once they run
// out it echoes the last non-empty line of the final message.
type DummyLLM struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func NewDummyLLM(responses ...string) *DummyLLM {
	return &DummyLLM{responses: responses}
}

// Calls reports how many times Generate ran.
func (d *DummyLLM) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *DummyLLM) Generate(_ context.Context, messages []Message, format Format) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.responses) > 0 {
		resp := d.responses[0]
		d.responses = d.responses[1:]
		return resp, nil
	}
	var prompt string
	if len(messages) > 0 {
		prompt = messages[len(messages)-1].Content
	}
	lines := strings.Split(prompt, "\n")
	var last string
	for i := len(lines) - 1; i >= 0; i-- {
		candidate := strings.TrimSpace(lines[i])
		if candidate != "" {
			last = candidate
			break
		}
	}
	if last == "" {
		last = "<empty prompt>"
	}
	if format == FormatJSON {
		return "{}", nil
	}
	return last, nil
}

var _ LLM = (*DummyLLM)(nil)
