package providers

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/mkolbe/agora/pkg/core"
	"github.com/mkolbe/agora/pkg/event"
)

// OpenAIThinker reasons through the OpenAI chat completion API.
type OpenAIThinker struct {
	client *openai.Client
	model  string
}

// OpenAI builds a thinker against the OpenAI API, with env fallbacks for
// base URL and key.
func OpenAI(opts ...ProviderOption) *OpenAIThinker {
	params := &ProviderParams{}
	for _, opt := range opts {
		opt(params)
	}

	if params.BaseURL == "" {
		params.BaseURL = os.Getenv("OPENAI_API_BASE_URL")
		if params.BaseURL == "" {
			params.BaseURL = "https://api.openai.com/v1/"
		}
	}
	if params.APIKey == "" {
		params.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if params.Model == "" {
		params.Model = "gpt-4o-mini"
	}

	var client *openai.Client
	if params.APIKey != "" {
		client = openai.NewClient(
			option.WithAPIKey(params.APIKey),
			option.WithBaseURL(params.BaseURL),
		)
	} else {
		client = openai.NewClient(
			option.WithBaseURL(params.BaseURL),
		)
	}
	return &OpenAIThinker{client: client, model: params.Model}
}

// Think implements core.Thinker.
func (t *OpenAIThinker) Think(ctx context.Context, state core.AgentState, trigger *event.Record, history []*event.Record) (*core.Thought, error) {
	prompt := buildPrompt(state, trigger, history)

	chatCompletion, err := t.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		}),
		Model: openai.F(t.model),
	})
	if err != nil {
		return nil, err
	}
	if len(chatCompletion.Choices) == 0 {
		return nil, fmt.Errorf("empty reasoning reply")
	}
	return parseThought(chatCompletion.Choices[0].Message.Content)
}
