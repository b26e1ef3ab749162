package world

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mkolbe/agora/pkg/event"
)

// Connection is one participant's live, ordered delivery channel. Send
// must preserve call order and must not block the dispatch loop.
type Connection interface {
	Send(rec *event.Record) error
	Close() error
}

// ConnectionRegistry maps participant id to its single active connection.
// Connect is last-write-wins: a reconnect replaces (and closes) the prior
// channel, never duplicates it. Deliveries to an absent or full channel
// land in a bounded per-id pending queue, replayed in order on reconnect;
// the oldest entry is dropped on overflow. Both outcomes are reported by
// the broker as RecipientUnreachableError.
type ConnectionRegistry struct {
	mu           sync.Mutex
	conns        map[string]Connection
	pending      map[string][]*event.Record
	pendingLimit int
	logger       *slog.Logger
}

func newConnectionRegistry(pendingLimit int, logger *slog.Logger) *ConnectionRegistry {
	return &ConnectionRegistry{
		conns:        make(map[string]Connection),
		pending:      make(map[string][]*event.Record),
		pendingLimit: pendingLimit,
		logger:       logger,
	}
}

// Connect binds a connection to a participant id, replacing any prior
// one, and replays the id's pending queue in order.
func (r *ConnectionRegistry) Connect(id string, conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.conns[id]; ok {
		old.Close()
		r.logger.Info("connection replaced", "participant", id)
	}
	r.conns[id] = conn

	queued := len(r.pending[id])
	r.flushLocked(id, conn)
	if left := len(r.pending[id]); left > 0 {
		r.logger.Warn("replay interrupted", "participant", id, "requeued", left)
	} else if queued > 0 {
		r.logger.Info("replayed pending deliveries", "participant", id, "count", queued)
	}
}

// flushLocked replays the id's pending queue to conn in order, stopping
// at the first refused send. Caller holds the mutex.
func (r *ConnectionRegistry) flushLocked(id string, conn Connection) {
	queued := r.pending[id]
	i := 0
	for ; i < len(queued); i++ {
		if err := conn.Send(queued[i]); err != nil {
			break
		}
	}
	switch {
	case i == len(queued):
		delete(r.pending, id)
	case i > 0:
		r.pending[id] = append([]*event.Record(nil), queued[i:]...)
	}
}

// Disconnect removes the id's connection. Subsequent deliveries queue.
func (r *ConnectionRegistry) Disconnect(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[id]; ok {
		conn.Close()
		delete(r.conns, id)
	}
}

// DisconnectConn removes the id's connection only if conn is still the
// registered one. A handler cleaning up after being replaced must not
// tear down its replacement.
func (r *ConnectionRegistry) DisconnectConn(id string, conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[id]; ok && cur == conn {
		cur.Close()
		delete(r.conns, id)
	}
}

// Connected reports whether the id has a live connection.
func (r *ConnectionRegistry) Connected(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[id]
	return ok
}

// Deliver sends a record to the id's connection. When the connection is
// absent or refuses the record, the record is queued (bounded,
// oldest-dropped) and a RecipientUnreachableError describing the outcome
// is returned so the broker can report it.
func (r *ConnectionRegistry) Deliver(id string, rec *event.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[id]; ok {
		// Queued records go first. A buffer that has drained since the
		// queue formed must never let a new record jump ahead of it.
		r.flushLocked(id, conn)
		if len(r.pending[id]) == 0 {
			if err := conn.Send(rec); err == nil {
				return nil
			}
		}
	}

	q := append(r.pending[id], rec)
	if len(q) > r.pendingLimit {
		dropped := q[0]
		r.pending[id] = q[1:]
		return &RecipientUnreachableError{ParticipantID: id, Record: dropped, Dropped: true}
	}
	r.pending[id] = q
	return &RecipientUnreachableError{ParticipantID: id, Record: rec}
}

// Drop discards any pending deliveries for an id. Used when the
// participant is removed from the world.
func (r *ConnectionRegistry) Drop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, id)
}

// CloseAll force-closes every connection. Called at world teardown after
// the drain grace period.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, conn := range r.conns {
		conn.Close()
		delete(r.conns, id)
	}
}

// ErrChannelClosed is returned by ChanConnection.Send after Close.
var ErrChannelClosed = errors.New("connection closed")

// ChanConnection is the in-process Connection: a buffered channel the
// participant reads from. Send is non-blocking; a full buffer is an error
// so the dispatch loop is never stalled by a slow consumer.
type ChanConnection struct {
	ch     chan *event.Record
	closed chan struct{}
	once   sync.Once
}

// NewChanConnection creates a channel connection with the given buffer.
func NewChanConnection(buffer int) *ChanConnection {
	return &ChanConnection{
		ch:     make(chan *event.Record, buffer),
		closed: make(chan struct{}),
	}
}

func (c *ChanConnection) Send(rec *event.Record) error {
	select {
	case <-c.closed:
		return ErrChannelClosed
	default:
	}
	select {
	case c.ch <- rec:
		return nil
	default:
		return fmt.Errorf("connection buffer full (%d)", cap(c.ch))
	}
}

// Recv returns the receive side of the connection.
func (c *ChanConnection) Recv() <-chan *event.Record {
	return c.ch
}

func (c *ChanConnection) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}
