// Package simulation orchestrates one world plus a declarative set of
// participants: schema registration, participant creation in declaration
// order, startup, and graceful teardown.
package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mkolbe/agora/pkg/agent"
	"github.com/mkolbe/agora/pkg/config"
	"github.com/mkolbe/agora/pkg/core"
	"github.com/mkolbe/agora/pkg/journal"
	"github.com/mkolbe/agora/pkg/object"
	"github.com/mkolbe/agora/pkg/providers"
	"github.com/mkolbe/agora/pkg/world"
)

// ThinkerFactory builds the reasoning backend for one agent declaration.
type ThinkerFactory func(ctx context.Context, p config.ParticipantConfig) (core.Thinker, error)

// Status mirrors the run lifecycle for observers.
type Status struct {
	Running   bool
	StartTime time.Time
	EndTime   time.Time
	Errors    []error
}

// Simulation drives one world from a declarative config.
type Simulation struct {
	cfg     *config.SimulationConfig
	world   *world.World
	logger  *slog.Logger
	factory ThinkerFactory

	mu      sync.Mutex
	agents  []*agent.Agent
	objects map[string]*object.Object
	store   *journal.Store
	status  Status
}

// SimOption configures a simulation.
type SimOption func(*Simulation)

// WithThinkerFactory overrides how agent thinkers are built. Tests and
// demos use this to inject scripted reasoning.
func WithThinkerFactory(f ThinkerFactory) SimOption {
	return func(s *Simulation) { s.factory = f }
}

// WithSimLogger sets the simulation's structured logger.
func WithSimLogger(l *slog.Logger) SimOption {
	return func(s *Simulation) { s.logger = l }
}

// New creates a simulation from a validated config.
func New(cfg *config.SimulationConfig, opts ...SimOption) *Simulation {
	s := &Simulation{
		cfg:     cfg,
		logger:  slog.Default(),
		objects: make(map[string]*object.Object),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.factory == nil {
		s.factory = defaultThinkerFactory
	}
	return s
}

// defaultThinkerFactory maps the provider declaration to a hosted model.
func defaultThinkerFactory(ctx context.Context, p config.ParticipantConfig) (core.Thinker, error) {
	switch p.Provider {
	case "openai", "":
		return providers.OpenAI(providers.WithModel(p.Model)), nil
	case "gemini":
		return providers.Gemini(ctx, providers.WithModel(p.Model))
	case "scripted":
		return providers.NewScripted(nil), nil
	default:
		return nil, fmt.Errorf("participant %q: unknown provider %q", p.ID, p.Provider)
	}
}

// World exposes the built world. Valid after Setup.
func (s *Simulation) World() *world.World {
	return s.world
}

// Object returns a declared object so callers can attach bindings before
// Run. Valid after Setup.
func (s *Simulation) Object(id string) (*object.Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.objects[id]
	return o, ok
}

// Status returns a snapshot of the run lifecycle.
func (s *Simulation) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Setup builds the world: registers every declared schema, then creates
// and connects participants in declaration order.
func (s *Simulation) Setup(ctx context.Context) error {
	var worldOpts []world.WorldOption
	worldOpts = append(worldOpts, world.WithWorldLogger(s.logger))

	if s.cfg.Journal.Path != "" {
		// The registry must exist before the journal can decode records,
		// so the world is created first and the journal attached after.
		s.world = world.NewWorld(s.cfg.Name, worldOpts...)
		store, err := journal.Open(s.cfg.Journal.Path, s.world.Registry())
		if err != nil {
			return err
		}
		s.store = store
		s.world.Broker().AttachJournal(store)
	} else {
		s.world = world.NewWorld(s.cfg.Name, worldOpts...)
	}

	for _, sc := range s.cfg.Schemas {
		schema, err := sc.Schema()
		if err != nil {
			return err
		}
		if err := s.world.RegisterSchema(schema); err != nil {
			return err
		}
	}

	for _, p := range s.cfg.Participants {
		switch p.Kind {
		case "object":
			o := object.New(p.ID, p.Name, p.Description)
			if err := s.world.AddParticipant(o); err != nil {
				return err
			}
			s.mu.Lock()
			s.objects[p.ID] = o
			s.mu.Unlock()

		case "agent":
			thinker, err := s.factory(ctx, p)
			if err != nil {
				return err
			}
			agentOpts := []agent.Option{
				agent.WithID(p.ID),
				agent.WithName(p.Name),
				agent.WithDescription(p.Description),
				agent.WithProperties(p.Properties),
				agent.WithBus(s.world.Broker()),
				agent.WithThinker(thinker),
				agent.WithTimeout(p.ThinkTimeout.Std()),
				agent.WithAgentLogger(s.logger),
			}
			for _, w := range p.Wakeups {
				agentOpts = append(agentOpts, agent.WithWakeupRule(agent.WakeupRule{EventType: w}))
			}
			if p.CatchAll {
				agentOpts = append(agentOpts, agent.WithCatchAll())
			}
			a, err := agent.New(s.world.Registry(), agentOpts...)
			if err != nil {
				return fmt.Errorf("create agent %q: %w", p.ID, err)
			}
			if err := s.world.AddParticipant(a); err != nil {
				return err
			}
			if err := s.world.Connect(a.ID(), a.Connection()); err != nil {
				return err
			}
			s.mu.Lock()
			s.agents = append(s.agents, a)
			s.mu.Unlock()
		}
	}
	return nil
}

// Run starts the world and every agent, then blocks until ctx is done and
// tears the world down within the configured grace period.
func (s *Simulation) Run(ctx context.Context) error {
	if s.world == nil {
		if err := s.Setup(ctx); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.status = Status{Running: true, StartTime: time.Now()}
	agents := s.agents
	s.mu.Unlock()

	if err := s.world.Start(ctx); err != nil {
		return err
	}
	for _, a := range agents {
		a.Start(ctx)
	}
	s.logger.Info("simulation running", "name", s.cfg.Name,
		"participants", len(s.cfg.Participants))

	<-ctx.Done()
	return s.shutdown()
}

func (s *Simulation) shutdown() error {
	err := s.world.Stop(s.cfg.StopGrace.Std())

	s.mu.Lock()
	s.status.Running = false
	s.status.EndTime = time.Now()
	if err != nil {
		s.status.Errors = append(s.status.Errors, err)
	}
	store := s.store
	s.store = nil
	s.mu.Unlock()

	if store != nil {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
