package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelope is the JSON wire shape of a record.
type envelope struct {
	EventType string         `json:"event_type"`
	EventID   string         `json:"event_id"`
	SenderID  string         `json:"sender_id,omitempty"`
	TargetID  string         `json:"target_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Summary   string         `json:"summary,omitempty"`
	Fields    map[string]any `json:"fields"`
}

// Marshal encodes a record into its JSON wire form.
func Marshal(r *Record) ([]byte, error) {
	env := envelope{
		EventType: r.eventType,
		EventID:   r.id,
		SenderID:  r.sender,
		TargetID:  r.target,
		Timestamp: r.timestamp,
		Summary:   r.summary,
		Fields:    r.Fields(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", r.id, err)
	}
	return data, nil
}

// Unmarshal decodes a JSON wire record and re-validates it against the
// registry. A record that round-trips through Marshal and Unmarshal
// compares equal in every schema field.
func (r *Registry) Unmarshal(data []byte) (*Record, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	normalized, err := r.validate(env.EventType, env.Fields)
	if err != nil {
		return nil, err
	}
	if env.EventID == "" {
		return nil, &ValidationError{
			EventType: env.EventType,
			Issues:    []FieldIssue{{Field: "event_id", Reason: "required field missing"}},
		}
	}
	return &Record{
		eventType: env.EventType,
		id:        env.EventID,
		sender:    env.SenderID,
		target:    env.TargetID,
		timestamp: env.Timestamp,
		summary:   env.Summary,
		fields:    normalized,
	}, nil
}
