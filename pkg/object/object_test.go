package object

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mkolbe/agora/pkg/event"
)

func testRegistry(t *testing.T) *event.Registry {
	t.Helper()
	reg := event.NewRegistry()
	for _, s := range []event.Schema{
		{Type: "ping", Fields: map[string]event.FieldSpec{"value": {Type: event.FieldInt, Required: true}}},
		{Type: "pong", Fields: map[string]event.FieldSpec{"value": {Type: event.FieldInt, Required: true}}},
	} {
		if err := reg.Register(s); err != nil {
			t.Fatalf("register schema: %v", err)
		}
	}
	return reg
}

func TestBindRejectsDuplicateTrigger(t *testing.T) {
	o := New("echo", "Echo", "")
	noop := func(rec *event.Record) ([]*event.Record, error) { return nil, nil }

	if err := o.Bind("ping", noop); err != nil {
		t.Fatalf("first bind: %v", err)
	}
	err := o.Bind("ping", noop)
	var dup *DuplicateBindingError
	if !errors.As(err, &dup) {
		t.Fatalf("want DuplicateBindingError, got %v", err)
	}
	if dup.ObjectID != "echo" || dup.Trigger != "ping" {
		t.Errorf("unexpected error detail: %+v", dup)
	}

	if err := o.Bind("", noop); err == nil {
		t.Error("empty trigger must be rejected")
	}
	if err := o.Bind("pong", nil); err == nil {
		t.Error("nil transform must be rejected")
	}
}

func TestTriggersSorted(t *testing.T) {
	o := New("echo", "Echo", "")
	noop := func(rec *event.Record) ([]*event.Record, error) { return nil, nil }
	for _, trigger := range []string{"zeta", "alpha"} {
		if err := o.Bind(trigger, noop); err != nil {
			t.Fatalf("bind %s: %v", trigger, err)
		}
	}
	got := o.Triggers()
	if len(got) != 2 || got[0] != "alpha" || got[1] != "zeta" {
		t.Errorf("triggers = %v", got)
	}
}

func TestReactAttributesOutputs(t *testing.T) {
	reg := testRegistry(t)
	o := New("echo", "Echo", "")
	if err := o.Bind("ping", func(rec *event.Record) ([]*event.Record, error) {
		v, _ := rec.Field("value")
		out, err := reg.New("pong", map[string]any{"value": v})
		if err != nil {
			return nil, err
		}
		return []*event.Record{out}, nil
	}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	in, err := reg.New("ping", map[string]any{"value": 7}, event.WithSender("src"))
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	outs, err := o.React(in)
	if err != nil {
		t.Fatalf("react: %v", err)
	}
	if len(outs) != 1 {
		t.Fatalf("want one output, got %d", len(outs))
	}
	if outs[0].Sender() != "echo" {
		t.Errorf("output sender = %q, want echo", outs[0].Sender())
	}
	if o.Phase() != Idle {
		t.Errorf("phase after react = %v, want idle", o.Phase())
	}
}

func TestReactIgnoresUnboundTypes(t *testing.T) {
	reg := testRegistry(t)
	o := New("echo", "Echo", "")

	in, err := reg.New("ping", map[string]any{"value": 1})
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	outs, err := o.React(in)
	if err != nil || outs != nil {
		t.Errorf("unbound type should be a no-op, got (%v, %v)", outs, err)
	}
}

func TestReactMutualExclusion(t *testing.T) {
	reg := testRegistry(t)
	o := New("echo", "Echo", "")

	var inFlight atomic.Int32
	var overlapped atomic.Bool
	if err := o.Bind("ping", func(rec *event.Record) ([]*event.Record, error) {
		if inFlight.Add(1) > 1 {
			overlapped.Store(true)
		}
		defer inFlight.Add(-1)
		if o.Phase() != Executing {
			t.Error("phase during transform should be executing")
		}
		return nil, nil
	}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	in, err := reg.New("ping", map[string]any{"value": 1})
	if err != nil {
		t.Fatalf("construct: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.React(in); err != nil {
				t.Errorf("react: %v", err)
			}
		}()
	}
	wg.Wait()

	if overlapped.Load() {
		t.Error("two transforms executed at the same instant on one object")
	}
}

func TestReactPropagatesTransformError(t *testing.T) {
	reg := testRegistry(t)
	o := New("broken", "Broken", "")
	if err := o.Bind("ping", func(rec *event.Record) ([]*event.Record, error) {
		return nil, fmt.Errorf("gears jammed")
	}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	in, err := reg.New("ping", map[string]any{"value": 1})
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if _, err := o.React(in); err == nil {
		t.Fatal("transform error must propagate")
	}
	if o.Phase() != Idle {
		t.Errorf("phase after failed react = %v, want idle", o.Phase())
	}
}
