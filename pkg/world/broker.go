package world

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mkolbe/agora/pkg/core"
	"github.com/mkolbe/agora/pkg/event"
)

// Handler is a participant whose reaction runs synchronously inside the
// dispatch loop (objects). React must be deterministic and non-blocking.
type Handler interface {
	React(rec *event.Record) ([]*event.Record, error)
}

// Subscriber declares the event types a participant wants delivered on
// broadcast.
type Subscriber interface {
	Triggers() []string
}

// CatchAllListener marks a participant that receives every broadcast.
type CatchAllListener interface {
	CatchAll() bool
}

// Report is a per-recipient delivery failure, addressed to the sender of
// the offending record. Reports are the broker's error channel: every
// non-fatal failure surfaces here, none is silently dropped.
type Report struct {
	To     string
	Record *event.Record
	Err    error
}

// Broker is the event dispatch core. Acceptance and recipient resolution
// are serialized through a single intake queue drained by one Run loop
// goroutine; that loop is the only code that walks the subscription index
// during dispatch, which gives FIFO delivery per recipient and at-most-one
// executing reaction per object.
type Broker struct {
	registry     *event.Registry
	queue        *intake
	conns        *ConnectionRegistry
	pendingLimit int
	reports      chan Report
	journal      core.Journal
	logger       *slog.Logger
	now          func() time.Time

	mu           sync.RWMutex
	participants map[string]core.Participant
	interests    map[string]map[string]struct{} // event type -> participant ids
	catchAll     map[string]struct{}
	handlers     map[string]Handler
}

// BrokerOption configures a broker.
type BrokerOption func(*Broker)

// WithLogger sets the broker's structured logger.
func WithLogger(l *slog.Logger) BrokerOption {
	return func(b *Broker) { b.logger = l }
}

// WithClock overrides the acceptance timestamp source. For tests.
func WithClock(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.now = now }
}

// WithJournal records every accepted event, keyed by sender. Append
// failures are logged, never fatal to dispatch.
func WithJournal(j core.Journal) BrokerOption {
	return func(b *Broker) { b.journal = j }
}

// WithPendingLimit bounds the per-participant replay queue used while a
// participant is disconnected. Default 64, oldest dropped on overflow.
func WithPendingLimit(n int) BrokerOption {
	return func(b *Broker) { b.pendingLimit = n }
}

// NewBroker creates a broker over the given schema registry.
func NewBroker(registry *event.Registry, opts ...BrokerOption) *Broker {
	b := &Broker{
		registry:     registry,
		queue:        newIntake(),
		pendingLimit: 64,
		reports:      make(chan Report, 64),
		logger:       slog.Default(),
		now:          time.Now,
		participants: make(map[string]core.Participant),
		interests:    make(map[string]map[string]struct{}),
		catchAll:     make(map[string]struct{}),
		handlers:     make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(b)
	}
	// The registry is built after the options so it sees the final logger
	// and limit, whatever order they were given in.
	b.conns = newConnectionRegistry(b.pendingLimit, b.logger)
	return b
}

// AttachJournal sets the accepted-event journal after construction, for
// journals that themselves need the world's registry. Call before Run.
func (b *Broker) AttachJournal(j core.Journal) {
	b.journal = j
}

// Connections exposes the connection registry.
func (b *Broker) Connections() *ConnectionRegistry {
	return b.conns
}

// Reports is the broker's error channel. Consumers should drain it; when
// nobody does, reports are dropped with a log line rather than blocking
// dispatch.
func (b *Broker) Reports() <-chan Report {
	return b.reports
}

// RegisterParticipant adds a participant to the subscription index. A
// participant implementing Handler gets synchronous server-side dispatch;
// everything else is delivered over its connection.
func (b *Broker) RegisterParticipant(p core.Participant) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.participants[p.ID()]; ok {
		if existing == p {
			return nil
		}
		return fmt.Errorf("participant %q already registered", p.ID())
	}
	b.participants[p.ID()] = p

	if s, ok := p.(Subscriber); ok {
		for _, trigger := range s.Triggers() {
			if b.interests[trigger] == nil {
				b.interests[trigger] = make(map[string]struct{})
			}
			b.interests[trigger][p.ID()] = struct{}{}
		}
	}
	if c, ok := p.(CatchAllListener); ok && c.CatchAll() {
		b.catchAll[p.ID()] = struct{}{}
	}
	if h, ok := p.(Handler); ok {
		b.handlers[p.ID()] = h
	}
	return nil
}

// UnregisterParticipant removes a participant and all of its
// subscriptions. Removing an unknown id is a no-op.
func (b *Broker) UnregisterParticipant(id string) {
	b.mu.Lock()
	for _, ids := range b.interests {
		delete(ids, id)
	}
	delete(b.catchAll, id)
	delete(b.handlers, id)
	delete(b.participants, id)
	b.mu.Unlock()

	b.conns.Disconnect(id)
	b.conns.Drop(id)
}

// Submit accepts a record into the world. Validation failures are
// returned to the caller synchronously and the record never enters the
// intake; an accepted record is eventually delivered to every resolved
// recipient or explicitly reported as failed. The acceptance timestamp is
// stamped here.
func (b *Broker) Submit(rec *event.Record) error {
	if rec == nil {
		return fmt.Errorf("nil record")
	}
	if err := b.registry.Validate(rec); err != nil {
		return err
	}
	stamped := rec.WithTimestamp(b.now())
	if !b.queue.push(stamped) {
		return ErrStopped
	}
	return nil
}

// Run drains the intake until the context is cancelled or Stop is called.
// Must be called from exactly one goroutine: the loop is the serialization
// point every ordering invariant rests on.
func (b *Broker) Run(ctx context.Context) error {
	b.logger.Info("broker running")
	for {
		rec, ok := b.queue.pop()
		if ok {
			b.dispatch(ctx, rec)
			continue
		}

		select {
		case <-ctx.Done():
			b.logger.Info("broker stopping", "reason", "context cancelled")
			b.queue.close()
			return ctx.Err()
		case <-b.queue.wait():
			if b.queue.drained() {
				b.logger.Info("broker stopped", "reason", "intake closed and drained")
				return nil
			}
		}
	}
}

// Stop closes the intake. Run drains what was already accepted, then
// returns.
func (b *Broker) Stop() {
	b.queue.close()
}

// dispatch resolves recipients for one accepted record and delivers.
// Per-recipient failures are isolated: one recipient's failure never
// blocks or fails delivery to another.
func (b *Broker) dispatch(ctx context.Context, rec *event.Record) {
	b.logger.Debug("dispatching", "event", rec.String(), "type", rec.Type())

	if b.journal != nil {
		if err := b.journal.Append(ctx, rec.Sender(), rec); err != nil {
			b.logger.Warn("journal append failed", "event", rec.ID(), "error", err)
		}
	}

	recipients, unknown := b.resolve(rec)
	if unknown {
		b.report(rec.Sender(), rec, &UnknownRecipientError{Target: rec.Target(), Record: rec})
		return
	}

	for _, id := range recipients {
		b.mu.RLock()
		h, isHandler := b.handlers[id]
		b.mu.RUnlock()

		if isHandler {
			b.react(id, h, rec)
			continue
		}
		if err := b.conns.Deliver(id, rec); err != nil {
			b.report(rec.Sender(), rec, err)
		}
	}
}

// resolve computes the recipient set under the subscription index lock.
// Point-to-point beats broadcast; the sender never receives its own event
// unless explicitly self-targeted.
func (b *Broker) resolve(rec *event.Record) (recipients []string, unknown bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !rec.Broadcast() {
		if _, ok := b.participants[rec.Target()]; !ok {
			return nil, true
		}
		return []string{rec.Target()}, false
	}

	seen := make(map[string]struct{})
	for id := range b.interests[rec.Type()] {
		if id == rec.Sender() {
			continue
		}
		seen[id] = struct{}{}
	}
	for id := range b.catchAll {
		if id == rec.Sender() {
			continue
		}
		seen[id] = struct{}{}
	}
	recipients = make([]string, 0, len(seen))
	for id := range seen {
		recipients = append(recipients, id)
	}
	sort.Strings(recipients)
	return recipients, false
}

// react runs an object's binding synchronously. Output emission is
// all-or-nothing: every produced record must validate or none enters the
// intake. Re-submission goes through the queue, never the call stack, so
// deep reaction chains keep causal order without recursion.
func (b *Broker) react(id string, h Handler, rec *event.Record) {
	outs, err := safeReact(h, rec)
	if err != nil {
		b.report(rec.Sender(), rec, &ActionExecutionError{
			ObjectID: id, Trigger: rec.Type(), Record: rec, Err: err,
		})
		return
	}

	for _, out := range outs {
		if err := b.registry.Validate(out); err != nil {
			b.report(rec.Sender(), rec, &ActionExecutionError{
				ObjectID: id, Trigger: rec.Type(), Record: rec,
				Err: fmt.Errorf("invalid reaction output: %w", err),
			})
			return
		}
	}
	for _, out := range outs {
		if out.Sender() == "" {
			out = out.WithSenderID(id)
		}
		stamped := out.WithTimestamp(b.now())
		if !b.queue.push(stamped) {
			b.logger.Warn("reaction output lost, intake closed", "object", id, "event", out.ID())
		}
	}
}

// safeReact isolates the loop from panicking transforms.
func safeReact(h Handler, rec *event.Record) (outs []*event.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			outs, err = nil, fmt.Errorf("transform panic: %v", r)
		}
	}()
	return h.React(rec)
}

// report addresses a failure to the sender of the offending record. The
// reports channel is buffered; an undrained channel sheds reports with a
// log line instead of stalling the loop.
func (b *Broker) report(to string, rec *event.Record, err error) {
	b.logger.Warn("delivery failure", "to", to, "event", rec.ID(), "error", err)
	select {
	case b.reports <- Report{To: to, Record: rec, Err: err}:
	default:
		b.logger.Warn("report dropped, channel full", "to", to, "event", rec.ID())
	}
}
