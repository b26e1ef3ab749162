package world

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mkolbe/agora/pkg/core"
	"github.com/mkolbe/agora/pkg/event"
)

// World owns the broker, the connection registry, and the participant
// set. One world per simulation; teardown releases all connections and
// in-flight state.
type World struct {
	name     string
	registry *event.Registry
	broker   *Broker
	logger   *slog.Logger

	mu           sync.Mutex
	participants map[string]core.Participant
	running      bool
	cancel       context.CancelFunc
	done         chan struct{}
	runErr       error
}

// WorldOption configures a world.
type WorldOption func(*worldParams)

type worldParams struct {
	registry   *event.Registry
	logger     *slog.Logger
	brokerOpts []BrokerOption
}

// WithRegistry supplies a pre-populated schema registry.
func WithRegistry(r *event.Registry) WorldOption {
	return func(p *worldParams) { p.registry = r }
}

// WithWorldLogger sets the world's structured logger.
func WithWorldLogger(l *slog.Logger) WorldOption {
	return func(p *worldParams) { p.logger = l }
}

// WithBrokerOptions passes options through to the broker.
func WithBrokerOptions(opts ...BrokerOption) WorldOption {
	return func(p *worldParams) { p.brokerOpts = append(p.brokerOpts, opts...) }
}

// NewWorld creates a stopped world.
func NewWorld(name string, opts ...WorldOption) *World {
	params := &worldParams{
		registry: event.NewRegistry(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(params)
	}

	brokerOpts := append([]BrokerOption{WithLogger(params.logger)}, params.brokerOpts...)
	return &World{
		name:         name,
		registry:     params.registry,
		broker:       NewBroker(params.registry, brokerOpts...),
		logger:       params.logger,
		participants: make(map[string]core.Participant),
	}
}

func (w *World) Name() string             { return w.name }
func (w *World) Registry() *event.Registry { return w.registry }
func (w *World) Broker() *Broker           { return w.broker }

// RegisterSchema adds an event schema. Idempotent for identical shapes;
// a conflicting shape is a fatal configuration error.
func (w *World) RegisterSchema(s event.Schema) error {
	return w.registry.Register(s)
}

// AddParticipant registers a participant. Adding the same participant
// value twice is a no-op; a different participant under an existing id is
// an error.
func (w *World) AddParticipant(p core.Participant) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.participants[p.ID()]; ok {
		if existing == p {
			return nil
		}
		return fmt.Errorf("participant id %q already in world %q", p.ID(), w.name)
	}
	if err := w.broker.RegisterParticipant(p); err != nil {
		return err
	}
	w.participants[p.ID()] = p
	w.logger.Info("participant added", "id", p.ID(), "kind", p.Kind())
	return nil
}

// RemoveParticipant unregisters a participant and closes its connection.
// Removing an unknown id is a no-op.
func (w *World) RemoveParticipant(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.participants[id]; !ok {
		return
	}
	delete(w.participants, id)
	w.broker.UnregisterParticipant(id)
	w.logger.Info("participant removed", "id", id)
}

// Participant looks up a registered participant.
func (w *World) Participant(id string) (core.Participant, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.participants[id]
	return p, ok
}

// Connect binds a live channel to a registered participant id,
// replacing any prior channel (last-write-wins).
func (w *World) Connect(id string, conn Connection) error {
	w.mu.Lock()
	_, known := w.participants[id]
	w.mu.Unlock()
	if !known {
		return fmt.Errorf("cannot connect unknown participant %q", id)
	}
	w.broker.Connections().Connect(id, conn)
	return nil
}

// Disconnect removes a participant's channel. Subsequent deliveries queue
// per the registry's bounded replay policy.
func (w *World) Disconnect(id string) {
	w.broker.Connections().Disconnect(id)
}

// Start runs the broker loop. Idempotent while running.
func (w *World) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	go func() {
		err := w.broker.Run(runCtx)
		w.mu.Lock()
		w.runErr = err
		w.running = false
		w.mu.Unlock()
		close(w.done)
	}()

	w.logger.Info("world started", "name", w.name)
	return nil
}

// Stop drains queued deliveries best-effort within the grace period, then
// force-closes all channels. Idempotent.
func (w *World) Stop(grace time.Duration) error {
	w.mu.Lock()
	done := w.done
	cancel := w.cancel
	w.mu.Unlock()
	if done == nil {
		return nil
	}

	w.broker.Stop()

	select {
	case <-done:
	case <-time.After(grace):
		w.logger.Warn("grace period elapsed, forcing shutdown", "world", w.name)
		cancel()
		<-done
	}
	w.broker.Connections().CloseAll()

	w.mu.Lock()
	err := w.runErr
	w.done = nil
	w.cancel = nil
	w.mu.Unlock()

	if err != nil && err != context.Canceled {
		return err
	}
	w.logger.Info("world stopped", "name", w.name)
	return nil
}
