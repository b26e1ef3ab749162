package simulation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkolbe/agora/pkg/config"
	"github.com/mkolbe/agora/pkg/core"
	"github.com/mkolbe/agora/pkg/event"
	"github.com/mkolbe/agora/pkg/providers"
	"github.com/mkolbe/agora/pkg/world"
)

func pingPongConfig() *config.SimulationConfig {
	return &config.SimulationConfig{
		Name: "ping-pong",
		Schemas: []config.SchemaConfig{
			{Type: "ping", Fields: map[string]config.FieldConfig{"value": {Type: "int", Required: true}}},
			{Type: "pong", Fields: map[string]config.FieldConfig{"value": {Type: "int", Required: true}}},
		},
		Participants: []config.ParticipantConfig{
			{Kind: "object", ID: "echo", Name: "Echo", Description: "replies pong to ping"},
			{Kind: "agent", ID: "watcher", Name: "Watcher", Provider: "scripted",
				Wakeups: []string{"pong"}, ThinkTimeout: config.Duration(5 * time.Second)},
		},
		StopGrace: config.Duration(2 * time.Second),
	}
}

// probe is a passive participant used to observe deliveries from outside.
type probe struct {
	id       string
	triggers []string
}

func (p *probe) ID() string          { return p.id }
func (p *probe) Kind() core.Kind     { return core.KindObject }
func (p *probe) Name() string        { return p.id }
func (p *probe) Description() string { return "test probe" }
func (p *probe) Triggers() []string  { return p.triggers }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestRunPingPong(t *testing.T) {
	thinker := providers.NewScripted(nil)
	sim := New(pingPongConfig(), WithThinkerFactory(
		func(context.Context, config.ParticipantConfig) (core.Thinker, error) {
			return thinker, nil
		}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, sim.Setup(ctx))

	// Wire the echo object: every ping produces a pong.
	echo, ok := sim.Object("echo")
	require.True(t, ok, "declared object is retrievable")
	reg := sim.World().Registry()
	require.NoError(t, echo.Bind("ping", func(rec *event.Record) ([]*event.Record, error) {
		v, _ := rec.Field("value")
		out, err := reg.New("pong", map[string]any{"value": v})
		if err != nil {
			return nil, err
		}
		return []*event.Record{out}, nil
	}))

	// An external observer subscribed to pong.
	obs := &probe{id: "probe", triggers: []string{"pong"}}
	require.NoError(t, sim.World().AddParticipant(obs))
	conn := world.NewChanConnection(8)
	require.NoError(t, sim.World().Connect("probe", conn))

	runErr := make(chan error, 1)
	go func() { runErr <- sim.Run(ctx) }()
	waitFor(t, "simulation running", func() bool { return sim.Status().Running })

	ping, err := reg.New("ping", map[string]any{"value": 7}, event.WithSender("probe"))
	require.NoError(t, err)
	require.NoError(t, sim.World().Broker().Submit(ping))

	select {
	case got := <-conn.Recv():
		assert.Equal(t, "pong", got.Type())
		assert.Equal(t, "echo", got.Sender())
		v, _ := got.Field("value")
		assert.Equal(t, int64(7), v)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for pong at the probe")
	}

	// The pong also wakes the declared agent.
	waitFor(t, "agent reasoning", func() bool { return thinker.Calls() == 1 })

	cancel()
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for shutdown")
	}

	status := sim.Status()
	assert.False(t, status.Running)
	assert.False(t, status.EndTime.IsZero())
	assert.Empty(t, status.Errors)
}

func TestSetupRejectsUnknownProvider(t *testing.T) {
	cfg := pingPongConfig()
	cfg.Participants[1].Provider = "oracle"

	sim := New(cfg)
	err := sim.Setup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestRunSetsUpWhenNeeded(t *testing.T) {
	thinker := providers.NewScripted(nil)
	sim := New(pingPongConfig(), WithThinkerFactory(
		func(context.Context, config.ParticipantConfig) (core.Thinker, error) {
			return thinker, nil
		}))

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- sim.Run(ctx) }()
	waitFor(t, "implicit setup", func() bool { return sim.Status().Running })
	assert.NotNil(t, sim.World())

	cancel()
	require.NoError(t, <-runErr)
}
