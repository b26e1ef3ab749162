// Package providers contains the Thinker implementations that back agent
// reasoning: hosted LLMs (OpenAI, Gemini) and a deterministic scripted
// table for demos and tests.
package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mkolbe/agora/pkg/core"
	"github.com/mkolbe/agora/pkg/event"
)

// ProviderParams collects provider construction parameters.
type ProviderParams struct {
	BaseURL string
	APIKey  string
	Model   string
}

// ProviderOption configures a provider.
type ProviderOption func(*ProviderParams)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *ProviderParams) { p.BaseURL = baseURL }
}

// WithAPIKey sets the API key explicitly instead of the env fallback.
func WithAPIKey(apiKey string) ProviderOption {
	return func(p *ProviderParams) { p.APIKey = apiKey }
}

// WithModel sets the model id.
func WithModel(model string) ProviderOption {
	return func(p *ProviderParams) { p.Model = model }
}

// buildPrompt renders the reasoning request: who the agent is, what woke
// it, and the recent context. The model is asked for a JSON array of
// event parameter sets so the reply can be validated mechanically.
func buildPrompt(state core.AgentState, trigger *event.Record, history []*event.Record) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s (id %s).", state.Name, state.ID)
	if state.Description != "" {
		fmt.Fprintf(&b, " %s", state.Description)
	}
	b.WriteString("\n\nYou live in a world where participants interact only by exchanging typed events.\n")

	if len(history) > 0 {
		b.WriteString("\nRecent events you have seen:\n")
		for _, rec := range history {
			fmt.Fprintf(&b, "- [%s] from %s: %s %v\n", rec.Type(), rec.Sender(), rec.Summary(), rec.Fields())
		}
	}

	fmt.Fprintf(&b, "\nYou woke up because of this event:\n[%s] from %s: %s %v\n",
		trigger.Type(), trigger.Sender(), trigger.Summary(), trigger.Fields())

	b.WriteString(`
Decide how to respond. Reply with a JSON array of events to emit, each:
{"event_type": "...", "target_id": "...", "summary": "...", "fields": {...}}
Omit "target_id" to broadcast. Reply with [] to stay silent. JSON only.`)

	return b.String()
}

// parseThought decodes a model reply into a thought. Markdown code fences
// are tolerated; anything else must be a JSON array of parameter sets.
func parseThought(reply string) (*core.Thought, error) {
	reply = strings.TrimSpace(reply)
	if after, found := strings.CutPrefix(reply, "```json"); found {
		reply = after
	} else if after, found := strings.CutPrefix(reply, "```"); found {
		reply = after
	}
	reply = strings.TrimSuffix(strings.TrimSpace(reply), "```")
	reply = strings.TrimSpace(reply)

	var events []core.EventParameters
	if err := json.Unmarshal([]byte(reply), &events); err != nil {
		return nil, fmt.Errorf("unparseable reasoning reply: %w", err)
	}
	return &core.Thought{Events: events}, nil
}
