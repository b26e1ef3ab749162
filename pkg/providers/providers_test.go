package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkolbe/agora/pkg/core"
	"github.com/mkolbe/agora/pkg/event"
)

func triggerRecord(t *testing.T) *event.Record {
	t.Helper()
	reg := event.NewRegistry()
	require.NoError(t, reg.Register(event.Schema{
		Type:   "ping",
		Fields: map[string]event.FieldSpec{"value": {Type: event.FieldInt, Required: true}},
	}))
	rec, err := reg.New("ping", map[string]any{"value": 5}, event.WithSender("src"), event.WithSummary("serve"))
	require.NoError(t, err)
	return rec
}

func TestParseThought(t *testing.T) {
	cases := map[string]string{
		"plain":       `[{"event_type":"pong","fields":{"value":5}}]`,
		"fenced":      "```json\n[{\"event_type\":\"pong\",\"fields\":{\"value\":5}}]\n```",
		"bare fence":  "```\n[{\"event_type\":\"pong\",\"fields\":{\"value\":5}}]\n```",
		"whitespaced": "  [{\"event_type\":\"pong\",\"fields\":{\"value\":5}}]  ",
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			thought, err := parseThought(reply)
			require.NoError(t, err)
			require.Len(t, thought.Events, 1)
			assert.Equal(t, "pong", thought.Events[0].Type)
			assert.Equal(t, float64(5), thought.Events[0].Fields["value"])
		})
	}
}

func TestParseThoughtEmptyAndInvalid(t *testing.T) {
	thought, err := parseThought("[]")
	require.NoError(t, err)
	assert.Empty(t, thought.Events)

	_, err = parseThought("I think I will stay silent.")
	assert.Error(t, err)
}

func TestBuildPromptMentionsTriggerAndHistory(t *testing.T) {
	rec := triggerRecord(t)
	state := core.AgentState{ID: "ag", Name: "Watcher", Description: "observes rallies"}

	prompt := buildPrompt(state, rec, []*event.Record{rec})
	assert.Contains(t, prompt, "Watcher")
	assert.Contains(t, prompt, "observes rallies")
	assert.Contains(t, prompt, "ping")
	assert.Contains(t, prompt, "JSON array")
}

func TestOpenAIEmptyReply(t *testing.T) {
	// A completion with no choices must surface as an error, not a panic.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":0,"model":"m","choices":[]}`)
	}))
	defer ts.Close()

	thinker := OpenAI(WithBaseURL(ts.URL+"/"), WithAPIKey("k"), WithModel("m"))
	_, err := thinker.Think(context.Background(), core.AgentState{}, triggerRecord(t), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty reasoning reply")
}

func TestScriptedThinker(t *testing.T) {
	rec := triggerRecord(t)
	s := NewScripted(map[string][]core.EventParameters{
		"ping": {{Type: "pong", Fields: map[string]any{"value": 5}}},
	})

	thought, err := s.Think(context.Background(), core.AgentState{}, rec, nil)
	require.NoError(t, err)
	require.Len(t, thought.Events, 1)
	assert.Equal(t, "pong", thought.Events[0].Type)
	assert.Equal(t, 1, s.Calls())

	// Unknown triggers stay silent.
	reg := event.NewRegistry()
	require.NoError(t, reg.Register(event.Schema{Type: "noise"}))
	other, err := reg.New("noise", nil)
	require.NoError(t, err)

	thought, err = s.Think(context.Background(), core.AgentState{}, other, nil)
	require.NoError(t, err)
	assert.Empty(t, thought.Events)
	assert.Equal(t, 2, s.Calls())
}
