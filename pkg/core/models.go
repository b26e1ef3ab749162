package core

// AgentState is the snapshot of an agent handed to the reasoning step.
type AgentState struct {
	ID          string
	Name        string
	Description string
	Properties  map[string]any
}

// EventParameters describes one event the reasoning step wants emitted:
// the type, optional point-to-point target, summary, and the schema field
// set. The agent constructs and validates the actual record.
type EventParameters struct {
	Type    string         `json:"event_type"`
	Target  string         `json:"target_id,omitempty"`
	Summary string         `json:"summary,omitempty"`
	Fields  map[string]any `json:"fields"`
}

// Thought is the result of one reasoning step: zero or more events to
// emit back into the world.
type Thought struct {
	Events []EventParameters
}

// Filter narrows a journal read. Zero values match everything; Limit 0
// means no limit. Results are ordered by append sequence.
type Filter struct {
	ParticipantID string
	EventType     string
	Limit         int
}
