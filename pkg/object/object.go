package object

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mkolbe/agora/pkg/core"
	"github.com/mkolbe/agora/pkg/event"
)

// Transform is the deterministic reaction bound to one trigger event
// type: (record in) -> zero or more records out. Transforms must be
// non-blocking and bounded-time by contract; they run inside the broker's
// dispatch loop.
type Transform func(rec *event.Record) ([]*event.Record, error)

// DuplicateBindingError is the configuration error for a second binding
// on a trigger that already has one. An object holds at most one binding
// per trigger event type.
type DuplicateBindingError struct {
	ObjectID string
	Trigger  string
}

func (e *DuplicateBindingError) Error() string {
	return fmt.Sprintf("object %q already has a binding for %q", e.ObjectID, e.Trigger)
}

// Phase is the observable dispatch state of an object.
type Phase int32

const (
	Idle Phase = iota
	Matched
	Executing
)

func (p Phase) String() string {
	switch p {
	case Matched:
		return "matched"
	case Executing:
		return "executing"
	default:
		return "idle"
	}
}

// Object is a deterministic participant: a bag of action bindings keyed
// by trigger event type. Dispatch walks Idle -> Matched -> Executing ->
// Idle; the execution lock guarantees at most one transform runs per
// object at any instant, whatever the caller does.
type Object struct {
	id          string
	name        string
	description string

	bindMu   sync.Mutex
	bindings map[string]Transform

	execMu sync.Mutex
	phase  atomic.Int32
}

// New creates an object participant.
func New(id, name, description string) *Object {
	return &Object{
		id:          id,
		name:        name,
		description: description,
		bindings:    make(map[string]Transform),
	}
}

func (o *Object) ID() string          { return o.id }
func (o *Object) Kind() core.Kind     { return core.KindObject }
func (o *Object) Name() string        { return o.name }
func (o *Object) Description() string { return o.description }

// Phase reports the current dispatch state.
func (o *Object) Phase() Phase {
	return Phase(o.phase.Load())
}

// Bind attaches a transform to a trigger event type. Exactly one binding
// per trigger; a second is a DuplicateBindingError.
func (o *Object) Bind(trigger string, t Transform) error {
	if trigger == "" {
		return fmt.Errorf("object %q: empty trigger event type", o.id)
	}
	if t == nil {
		return fmt.Errorf("object %q: nil transform for trigger %q", o.id, trigger)
	}

	o.bindMu.Lock()
	defer o.bindMu.Unlock()
	if _, exists := o.bindings[trigger]; exists {
		return &DuplicateBindingError{ObjectID: o.id, Trigger: trigger}
	}
	o.bindings[trigger] = t
	return nil
}

// Triggers lists the bound event types, sorted. Implements the broker's
// Subscriber interface.
func (o *Object) Triggers() []string {
	o.bindMu.Lock()
	defer o.bindMu.Unlock()
	triggers := make([]string, 0, len(o.bindings))
	for t := range o.bindings {
		triggers = append(triggers, t)
	}
	sort.Strings(triggers)
	return triggers
}

// React runs the binding matching the record's type, if any. Output
// records are attributed to the object. Concurrent React calls for
// different incoming events serialize on the execution lock; a matched
// invocation waits its turn rather than overlapping.
func (o *Object) React(rec *event.Record) ([]*event.Record, error) {
	o.bindMu.Lock()
	t, ok := o.bindings[rec.Type()]
	o.bindMu.Unlock()
	if !ok {
		return nil, nil
	}
	// Matched is only visible from Idle; a waiter must not clobber the
	// phase of a transform already executing.
	o.phase.CompareAndSwap(int32(Idle), int32(Matched))

	o.execMu.Lock()
	o.phase.Store(int32(Executing))
	defer func() {
		o.phase.Store(int32(Idle))
		o.execMu.Unlock()
	}()

	outs, err := t(rec)
	if err != nil {
		return nil, err
	}

	for i, out := range outs {
		if out == nil {
			return nil, fmt.Errorf("binding for %q produced a nil record", rec.Type())
		}
		if out.Sender() == "" {
			outs[i] = out.WithSenderID(o.id)
		}
	}
	return outs, nil
}
