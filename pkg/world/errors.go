package world

import (
	"errors"
	"fmt"

	"github.com/mkolbe/agora/pkg/event"
)

// ErrStopped is returned by Submit after the broker has been stopped.
var ErrStopped = errors.New("broker stopped")

// UnknownRecipientError reports an event targeted at an id no participant
// holds. Recoverable: the sender is notified, nothing else happens.
type UnknownRecipientError struct {
	Target string
	Record *event.Record
}

func (e *UnknownRecipientError) Error() string {
	return fmt.Sprintf("unknown recipient %q for event %s", e.Target, e.Record.ID())
}

// ActionExecutionError reports a failing or misbehaving action binding.
// Isolated to the binding: delivery to every other recipient proceeds.
type ActionExecutionError struct {
	ObjectID string
	Trigger  string
	Record   *event.Record
	Err      error
}

func (e *ActionExecutionError) Error() string {
	return fmt.Sprintf("action on %q for trigger %q failed handling event %s: %v",
		e.ObjectID, e.Trigger, e.Record.ID(), e.Err)
}

func (e *ActionExecutionError) Unwrap() error { return e.Err }

// RecipientUnreachableError reports a delivery that could not reach a
// participant's live channel. Queued deliveries are replayed on reconnect;
// Dropped marks the bounded queue's oldest entry being discarded. Either
// way the failure is reported, never silent.
type RecipientUnreachableError struct {
	ParticipantID string
	Record        *event.Record
	Dropped       bool
}

func (e *RecipientUnreachableError) Error() string {
	if e.Dropped {
		return fmt.Sprintf("recipient %q unreachable, event %s dropped (pending queue full)",
			e.ParticipantID, e.Record.ID())
	}
	return fmt.Sprintf("recipient %q unreachable, event %s queued for replay",
		e.ParticipantID, e.Record.ID())
}
