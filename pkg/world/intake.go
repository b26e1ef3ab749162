package world

import (
	"sync"

	"github.com/mkolbe/agora/pkg/event"
)

// intake is the broker's serialized FIFO queue. It is the single sequence
// point for event acceptance: the order records enter here is the order
// the dispatch loop sees them, which is what the per-recipient FIFO
// guarantee rests on.
//
// The queue is unbounded so that reactions re-submitting events from
// inside the dispatch loop can never deadlock against it.
type intake struct {
	mu      sync.Mutex
	records []*event.Record
	closed  bool
	signal  chan struct{}
}

func newIntake() *intake {
	return &intake{
		records: make([]*event.Record, 0, 64),
		signal:  make(chan struct{}, 1),
	}
}

// push appends a record. Returns false if the intake is closed.
func (q *intake) push(rec *event.Record) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.records = append(q.records, rec)

	// Coalescing signal: buffer of 1 is enough, the loop drains eagerly.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// pop removes the front record without blocking.
func (q *intake) pop() (*event.Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.records) == 0 {
		return nil, false
	}
	rec := q.records[0]
	q.records[0] = nil
	if len(q.records) == 1 {
		q.records = q.records[:0]
	} else {
		q.records = q.records[1:]
	}
	return rec, true
}

// wait returns the signal channel for select-based waiting. The channel
// closes when the intake closes, waking all waiters.
func (q *intake) wait() <-chan struct{} {
	return q.signal
}

func (q *intake) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// drained reports that the intake is closed and nothing is left to pop.
// A stale coalesced signal with an open queue is not drained.
func (q *intake) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.records) == 0
}

// close stops accepting new records. Already-queued records remain and
// are drained by the loop.
func (q *intake) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
