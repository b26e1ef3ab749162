package world_test

import (
	"context"
	"testing"
	"time"

	"github.com/mkolbe/agora/pkg/event"
	"github.com/mkolbe/agora/pkg/world"
)

func TestWorldParticipantLifecycle(t *testing.T) {
	w := world.NewWorld("test")

	a := &listener{id: "a", triggers: []string{"ping"}}
	if err := w.AddParticipant(a); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := w.AddParticipant(a); err != nil {
		t.Errorf("re-adding the same participant should be a no-op, got %v", err)
	}
	if err := w.AddParticipant(&listener{id: "a"}); err == nil {
		t.Error("a different participant under an existing id must be rejected")
	}

	if _, ok := w.Participant("a"); !ok {
		t.Error("participant lookup failed")
	}

	w.RemoveParticipant("a")
	w.RemoveParticipant("a") // idempotent
	if _, ok := w.Participant("a"); ok {
		t.Error("participant still present after removal")
	}
}

func TestWorldConnectUnknownParticipant(t *testing.T) {
	w := world.NewWorld("test")
	if err := w.Connect("ghost", world.NewChanConnection(1)); err == nil {
		t.Error("connecting an unregistered id must fail")
	}
}

func TestWorldStartStop(t *testing.T) {
	w := world.NewWorld("test")
	if err := w.RegisterSchema(event.Schema{
		Type:   "ping",
		Fields: map[string]event.FieldSpec{"value": {Type: event.FieldInt, Required: true}},
	}); err != nil {
		t.Fatalf("register schema: %v", err)
	}

	sink := &listener{id: "sink", triggers: []string{"ping"}}
	if err := w.AddParticipant(sink); err != nil {
		t.Fatalf("add: %v", err)
	}
	conn := world.NewChanConnection(8)
	if err := w.Connect("sink", conn); err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := w.Start(ctx); err != nil {
		t.Errorf("second start should be a no-op, got %v", err)
	}

	rec, err := w.Registry().New("ping", map[string]any{"value": 1}, event.WithSender("src"), event.WithTarget("sink"))
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if err := w.Broker().Submit(rec); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Stop drains the accepted event before closing channels.
	if err := w.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case got := <-conn.Recv():
		if got.ID() != rec.ID() {
			t.Errorf("drained wrong record: %v", got)
		}
	default:
		t.Error("accepted event was not drained before shutdown")
	}

	if err := w.Stop(time.Second); err != nil {
		t.Errorf("second stop should be a no-op, got %v", err)
	}
}
