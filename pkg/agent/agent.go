package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mkolbe/agora/pkg/core"
	"github.com/mkolbe/agora/pkg/event"
	"github.com/mkolbe/agora/pkg/memory"
	"github.com/mkolbe/agora/pkg/world"
)

// Bus is the slice of the broker an agent needs: event submission.
type Bus interface {
	Submit(rec *event.Record) error
}

// WakeupRule gates the reasoning step: an incoming record of the given
// event type, passing the optional predicate, arms a think call.
type WakeupRule struct {
	EventType string
	Predicate func(rec *event.Record) bool
}

// Matches reports whether the rule fires for a record.
func (r WakeupRule) Matches(rec *event.Record) bool {
	if r.EventType != rec.Type() {
		return false
	}
	return r.Predicate == nil || r.Predicate(rec)
}

// Phase is the agent's observable state.
type Phase int32

const (
	Idle Phase = iota
	Reasoning
)

func (p Phase) String() string {
	if p == Reasoning {
		return "reasoning"
	}
	return "idle"
}

// Agent is an autonomous participant. Incoming records arrive on its
// connection; wakeup rules decide whether each one arms the external
// reasoning step. Reasoning is single-flight: while a think call is in
// flight, further matching records queue (bounded, oldest dropped) rather
// than spawning concurrent calls.
type Agent struct {
	id          string
	name        string
	description string
	properties  map[string]any

	registry *event.Registry
	bus      Bus
	thinker  core.Thinker
	journal  core.Journal
	rules    []WakeupRule
	catchAll bool

	timeout      time.Duration
	pendingLimit int
	historyLimit int

	conn   *world.ChanConnection
	errs   chan error
	logger *slog.Logger
	phase  atomic.Int32
}

// Params collects agent construction parameters.
type Params struct {
	ID           string
	Name         string
	Description  string
	Properties   map[string]any
	Bus          Bus
	Thinker      core.Thinker
	Journal      core.Journal
	Rules        []WakeupRule
	CatchAll     bool
	Timeout      time.Duration
	PendingLimit int
	HistoryLimit int
	InboxSize    int
	Logger       *slog.Logger
}

// Option configures agent construction.
type Option func(*Params)

// WithID sets the participant id (default "agent-<uuid>").
func WithID(id string) Option {
	return func(p *Params) { p.ID = id }
}

// WithName sets the display name.
func WithName(name string) Option {
	return func(p *Params) { p.Name = name }
}

// WithDescription sets the description handed to the reasoning step.
func WithDescription(d string) Option {
	return func(p *Params) { p.Description = d }
}

// WithProperties sets the agent's initial properties.
func WithProperties(props map[string]any) Option {
	return func(p *Params) { p.Properties = props }
}

// WithBus sets the broker the agent publishes through.
func WithBus(b Bus) Option {
	return func(p *Params) { p.Bus = b }
}

// WithThinker sets the external reasoning implementation.
func WithThinker(t core.Thinker) Option {
	return func(p *Params) { p.Thinker = t }
}

// WithJournal sets the journal used for context assembly.
func WithJournal(j core.Journal) Option {
	return func(p *Params) { p.Journal = j }
}

// WithWakeupRule appends a wakeup rule.
func WithWakeupRule(r WakeupRule) Option {
	return func(p *Params) { p.Rules = append(p.Rules, r) }
}

// WithCatchAll makes the agent receive every broadcast, whether or not a
// rule matches. Non-matching records still only feed context.
func WithCatchAll() Option {
	return func(p *Params) { p.CatchAll = true }
}

// WithTimeout bounds each think call (default 30s).
func WithTimeout(d time.Duration) Option {
	return func(p *Params) { p.Timeout = d }
}

// WithPendingLimit bounds the queue of matching events that arrive while
// reasoning (default 32, oldest dropped on overflow).
func WithPendingLimit(n int) Option {
	return func(p *Params) { p.PendingLimit = n }
}

// WithAgentLogger sets the agent's structured logger.
func WithAgentLogger(l *slog.Logger) Option {
	return func(p *Params) { p.Logger = l }
}

func defaultParams() *Params {
	return &Params{
		ID:           "agent-" + uuid.New().String(),
		Timeout:      30 * time.Second,
		PendingLimit: 32,
		HistoryLimit: 50,
		InboxSize:    100,
		Logger:       slog.Default(),
	}
}

// New creates an agent over the given schema registry.
func New(registry *event.Registry, opts ...Option) (*Agent, error) {
	params := defaultParams()
	for _, opt := range opts {
		opt(params)
	}
	if registry == nil {
		return nil, errors.New("agent: nil schema registry")
	}
	if params.Bus == nil {
		return nil, errors.New("agent: no bus configured")
	}
	if params.Thinker == nil {
		return nil, errors.New("agent: no thinker configured")
	}
	if params.Journal == nil {
		params.Journal = memory.NewJournal(256)
	}

	return &Agent{
		id:           params.ID,
		name:         params.Name,
		description:  params.Description,
		properties:   params.Properties,
		registry:     registry,
		bus:          params.Bus,
		thinker:      params.Thinker,
		journal:      params.Journal,
		rules:        params.Rules,
		catchAll:     params.CatchAll,
		timeout:      params.Timeout,
		pendingLimit: params.PendingLimit,
		historyLimit: params.HistoryLimit,
		conn:         world.NewChanConnection(params.InboxSize),
		errs:         make(chan error, 16),
		logger:       params.Logger,
	}, nil
}

func (a *Agent) ID() string          { return a.id }
func (a *Agent) Kind() core.Kind     { return core.KindAgent }
func (a *Agent) Name() string        { return a.name }
func (a *Agent) Description() string { return a.description }

// Phase reports the agent's current state.
func (a *Agent) Phase() Phase {
	return Phase(a.phase.Load())
}

// Triggers lists the event types the wakeup rules watch. Implements the
// broker's Subscriber interface.
func (a *Agent) Triggers() []string {
	seen := make(map[string]struct{}, len(a.rules))
	var triggers []string
	for _, r := range a.rules {
		if _, ok := seen[r.EventType]; ok {
			continue
		}
		seen[r.EventType] = struct{}{}
		triggers = append(triggers, r.EventType)
	}
	return triggers
}

// CatchAll implements the broker's CatchAllListener interface.
func (a *Agent) CatchAll() bool {
	return a.catchAll
}

// Connection is the agent's delivery channel, to be bound into the world
// via World.Connect.
func (a *Agent) Connection() *world.ChanConnection {
	return a.conn
}

// Errors surfaces the agent's isolated failures (reasoning errors,
// timeouts, dropped wakeups). Buffered; undrained errors are shed.
func (a *Agent) Errors() <-chan error {
	return a.errs
}

// Send publishes a record attributed to this agent.
func (a *Agent) Send(rec *event.Record) error {
	return a.bus.Submit(rec.WithSenderID(a.id))
}

// Start launches the agent's event loop. The loop exits when ctx is
// cancelled.
func (a *Agent) Start(ctx context.Context) {
	go a.loop(ctx)
}

type thinkResult struct {
	trigger *event.Record
	thought *core.Thought
	err     error
}

// loop is the agent's single goroutine: it journals every delivery,
// applies the wakeup rules, and keeps reasoning single-flight. Matching
// records that arrive mid-think go to the bounded pending queue.
func (a *Agent) loop(ctx context.Context) {
	var pending []*event.Record
	results := make(chan thinkResult, 1)
	reasoning := false

	for {
		select {
		case rec := <-a.conn.Recv():
			a.remember(ctx, rec)
			if !a.wakes(rec) {
				continue
			}
			if reasoning {
				pending = append(pending, rec)
				if len(pending) > a.pendingLimit {
					dropped := pending[0]
					pending = pending[1:]
					a.reportErr(&WakeupDroppedError{AgentID: a.id, Record: dropped})
				}
				continue
			}
			reasoning = true
			a.beginThink(ctx, rec, results)

		case res := <-results:
			a.finishThink(res)
			if len(pending) > 0 {
				next := pending[0]
				pending = pending[1:]
				a.beginThink(ctx, next, results)
				continue
			}
			reasoning = false
			a.phase.Store(int32(Idle))

		case <-ctx.Done():
			return
		}
	}
}

// wakes reports whether any wakeup rule fires for the record.
func (a *Agent) wakes(rec *event.Record) bool {
	for _, r := range a.rules {
		if r.Matches(rec) {
			return true
		}
	}
	return false
}

// beginThink launches one bounded think call. The deadline is enforced
// here, not trusted to the thinker: a stalled call is abandoned
// (fire-and-forget) and reported as a timeout.
func (a *Agent) beginThink(ctx context.Context, trigger *event.Record, results chan<- thinkResult) {
	a.phase.Store(int32(Reasoning))

	state := core.AgentState{
		ID:          a.id,
		Name:        a.name,
		Description: a.description,
		Properties:  a.properties,
	}
	history, err := a.journal.Events(ctx, core.Filter{ParticipantID: a.id, Limit: a.historyLimit})
	if err != nil {
		a.logger.Warn("history read failed", "agent", a.id, "error", err)
	}

	go func() {
		tctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		inner := make(chan thinkResult, 1)
		go func() {
			thought, err := a.thinker.Think(tctx, state, trigger, history)
			inner <- thinkResult{trigger: trigger, thought: thought, err: err}
		}()

		var res thinkResult
		select {
		case res = <-inner:
		case <-tctx.Done():
			res = thinkResult{trigger: trigger, err: tctx.Err()}
		}
		select {
		case results <- res:
		case <-ctx.Done():
		}
	}()
}

// finishThink publishes the thought's events, or reports the failure.
func (a *Agent) finishThink(res thinkResult) {
	if res.err != nil {
		if errors.Is(res.err, context.Canceled) {
			return
		}
		if errors.Is(res.err, context.DeadlineExceeded) {
			a.reportErr(&ReasoningTimeoutError{AgentID: a.id, Record: res.trigger, Timeout: a.timeout})
		} else {
			a.reportErr(&ReasoningError{AgentID: a.id, Record: res.trigger, Err: res.err})
		}
		return
	}
	if res.thought == nil {
		return
	}
	for _, params := range res.thought.Events {
		opts := []event.RecordOption{event.WithSender(a.id)}
		if params.Target != "" {
			opts = append(opts, event.WithTarget(params.Target))
		}
		if params.Summary != "" {
			opts = append(opts, event.WithSummary(params.Summary))
		}
		rec, err := a.registry.New(params.Type, params.Fields, opts...)
		if err != nil {
			a.reportErr(&ReasoningError{AgentID: a.id, Record: res.trigger, Err: err})
			continue
		}
		if err := a.bus.Submit(rec); err != nil {
			a.reportErr(&ReasoningError{AgentID: a.id, Record: res.trigger, Err: err})
		}
	}
}

func (a *Agent) remember(ctx context.Context, rec *event.Record) {
	if err := a.journal.Append(ctx, a.id, rec); err != nil {
		a.logger.Warn("journal append failed", "agent", a.id, "event", rec.ID(), "error", err)
	}
}

func (a *Agent) reportErr(err error) {
	a.logger.Warn("agent failure", "agent", a.id, "error", err)
	select {
	case a.errs <- err:
	default:
	}
}
