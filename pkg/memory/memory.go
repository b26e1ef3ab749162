package memory

import (
	"context"
	"sync"

	"github.com/mkolbe/agora/pkg/core"
	"github.com/mkolbe/agora/pkg/event"
)

type entry struct {
	participantID string
	rec           *event.Record
}

// Journal is the bounded in-process event log: a capacity-limited stream
// of (participant id, record) pairs, oldest dropped on overflow. It backs
// agent context assembly when no durable journal is configured.
type Journal struct {
	mu       sync.RWMutex
	stream   []entry
	capacity int
}

// NewJournal creates a journal holding at most capacity records.
func NewJournal(capacity int) *Journal {
	return &Journal{
		stream:   make([]entry, 0, capacity),
		capacity: capacity,
	}
}

// Append records one delivery. Never fails; the oldest entry is dropped
// once capacity is exceeded.
func (j *Journal) Append(_ context.Context, participantID string, rec *event.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.stream = append(j.stream, entry{participantID: participantID, rec: rec})
	if len(j.stream) > j.capacity {
		j.stream = j.stream[1:]
	}
	return nil
}

// Events returns records matching the filter in append order. The result
// is a copy; the journal is not affected by what callers do with it.
func (j *Journal) Events(_ context.Context, f core.Filter) ([]*event.Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var out []*event.Record
	for _, e := range j.stream {
		if f.ParticipantID != "" && e.participantID != f.ParticipantID {
			continue
		}
		if f.EventType != "" && e.rec.Type() != f.EventType {
			continue
		}
		out = append(out, e.rec)
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

// Len reports the number of retained entries.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.stream)
}

var _ core.Journal = (*Journal)(nil)
