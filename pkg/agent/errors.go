package agent

import (
	"fmt"
	"time"

	"github.com/mkolbe/agora/pkg/event"
)

// ReasoningTimeoutError reports a think call that exceeded the agent's
// configured timeout. The stalled call's result is discarded and the
// agent returns to idle; the triggering event is seen but unanswered.
type ReasoningTimeoutError struct {
	AgentID string
	Record  *event.Record
	Timeout time.Duration
}

func (e *ReasoningTimeoutError) Error() string {
	return fmt.Sprintf("agent %q: reasoning timed out after %s for event %s",
		e.AgentID, e.Timeout, e.Record.ID())
}

// ReasoningError reports a failed think call. Isolated to the agent;
// nothing else in the world is affected.
type ReasoningError struct {
	AgentID string
	Record  *event.Record
	Err     error
}

func (e *ReasoningError) Error() string {
	return fmt.Sprintf("agent %q: reasoning failed for event %s: %v", e.AgentID, e.Record.ID(), e.Err)
}

func (e *ReasoningError) Unwrap() error { return e.Err }

// WakeupDroppedError reports a matching event discarded because the
// agent's pending queue overflowed while it was reasoning. Oldest entry
// goes first.
type WakeupDroppedError struct {
	AgentID string
	Record  *event.Record
}

func (e *WakeupDroppedError) Error() string {
	return fmt.Sprintf("agent %q: pending queue full, dropped event %s", e.AgentID, e.Record.ID())
}
