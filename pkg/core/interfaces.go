package core

import (
	"context"

	"github.com/mkolbe/agora/pkg/event"
)

// Kind distinguishes the two participant flavors.
type Kind string

const (
	KindAgent  Kind = "agent"
	KindObject Kind = "object"
)

// Participant is an addressable entity in a world: an autonomous Agent or
// a deterministic Object. Ids are unique within a world and immutable for
// the participant's lifetime.
type Participant interface {
	ID() string
	Kind() Kind
	Name() string
	Description() string
}

// Thinker is the external reasoning boundary. Think may take unbounded
// wall-clock time and may fail; callers bound it with a context deadline
// and may retry idempotently. The dispatch core never depends on its
// latency.
type Thinker interface {
	Think(ctx context.Context, state AgentState, trigger *event.Record, history []*event.Record) (*Thought, error)
}

// Journal is the persistence boundary: an append-only log of
// (participant id, record) pairs with filtered, restartable reads.
// Dispatch correctness never depends on it; it exists for agent context
// assembly and offline inspection.
type Journal interface {
	Append(ctx context.Context, participantID string, rec *event.Record) error
	Events(ctx context.Context, f Filter) ([]*event.Record, error)
}
