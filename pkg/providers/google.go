package providers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"

	"github.com/mkolbe/agora/pkg/core"
	"github.com/mkolbe/agora/pkg/event"
)

// GeminiThinker reasons through the Google GenAI API.
type GeminiThinker struct {
	client *genai.Client
	model  string
}

// Gemini builds a thinker against the Google GenAI API. The key comes
// from the options or GEMINI_API_KEY.
func Gemini(ctx context.Context, opts ...ProviderOption) (*GeminiThinker, error) {
	params := &ProviderParams{}
	for _, opt := range opts {
		opt(params)
	}

	apiKey := params.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY")
	}
	if params.Model == "" {
		params.Model = "gemini-2.0-flash-exp"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGoogleAI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiThinker{client: client, model: params.Model}, nil
}

// Think implements core.Thinker.
func (t *GeminiThinker) Think(ctx context.Context, state core.AgentState, trigger *event.Record, history []*event.Record) (*core.Thought, error) {
	prompt := buildPrompt(state, trigger, history)

	parts := []*genai.Part{
		{Text: prompt},
	}
	result, err := t.client.Models.GenerateContent(ctx, t.model, []*genai.Content{{Parts: parts}}, nil)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	for _, cand := range result.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			b.WriteString(part.Text)
		}
	}
	if b.Len() == 0 {
		return nil, fmt.Errorf("empty reasoning reply")
	}
	return parseThought(b.String())
}
