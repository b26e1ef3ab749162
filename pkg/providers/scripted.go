package providers

import (
	"context"
	"sync"

	"github.com/mkolbe/agora/pkg/core"
	"github.com/mkolbe/agora/pkg/event"
)

// Scripted is a deterministic thinker: a fixed table mapping trigger
// event type to the parameter sets to emit. Used by the built-in demo and
// by tests that need reasoning without a model behind it.
type Scripted struct {
	mu        sync.Mutex
	responses map[string][]core.EventParameters
	calls     int
}

// NewScripted creates a scripted thinker from a trigger-type table.
func NewScripted(responses map[string][]core.EventParameters) *Scripted {
	return &Scripted{responses: responses}
}

// Think implements core.Thinker. Unknown triggers produce an empty
// thought.
func (s *Scripted) Think(_ context.Context, _ core.AgentState, trigger *event.Record, _ []*event.Record) (*core.Thought, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return &core.Thought{Events: s.responses[trigger.Type()]}, nil
}

// Calls reports how many times Think ran.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
