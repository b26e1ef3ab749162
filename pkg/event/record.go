package event

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Record is an immutable, schema-validated event. An empty Target means
// broadcast. Records are constructed through Registry.New (or decoded via
// Registry.Unmarshal); every "derived" record is a new Record produced by
// one of the With* methods.
type Record struct {
	eventType string
	id        string
	sender    string
	target    string
	timestamp time.Time
	summary   string
	fields    map[string]any
}

// RecordOption configures optional envelope fields at construction.
type RecordOption func(*Record)

// WithSender sets the sending participant's id.
func WithSender(id string) RecordOption {
	return func(r *Record) { r.sender = id }
}

// WithTarget sets a point-to-point target. Leave unset for broadcast.
func WithTarget(id string) RecordOption {
	return func(r *Record) { r.target = id }
}

// WithSummary sets the human-readable summary line.
func WithSummary(s string) RecordOption {
	return func(r *Record) { r.summary = s }
}

// New validates fields against the registered schema for eventType and
// constructs a record. Validation is exhaustive: the returned
// *ValidationError lists every missing required field, type mismatch, and
// unknown key. The record id is generated; the timestamp is assigned later
// by the broker at acceptance.
func (r *Registry) New(eventType string, fields map[string]any, opts ...RecordOption) (*Record, error) {
	normalized, err := r.validate(eventType, fields)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		eventType: eventType,
		id:        uuid.New().String(),
		fields:    normalized,
	}
	for _, opt := range opts {
		opt(rec)
	}
	return rec, nil
}

// Validate re-checks an existing record against the registry. Used by the
// broker before re-submitting reaction output, where emission is
// all-or-nothing.
func (r *Registry) Validate(rec *Record) error {
	_, err := r.validate(rec.eventType, rec.fields)
	return err
}

// validate checks fields against the schema for eventType and returns a
// normalized copy (ints widened to int64, floats to float64).
func (r *Registry) validate(eventType string, fields map[string]any) (map[string]any, error) {
	schema, ok := r.Lookup(eventType)
	if !ok {
		return nil, &ValidationError{
			EventType: eventType,
			Issues:    []FieldIssue{{Field: "event_type", Reason: "no schema registered"}},
		}
	}

	var issues []FieldIssue
	normalized := make(map[string]any, len(fields))

	for _, name := range schema.fieldNames() {
		spec := schema.Fields[name]
		value, present := fields[name]
		if !present {
			if spec.Required {
				issues = append(issues, FieldIssue{Field: name, Reason: "required field missing"})
			}
			continue
		}
		coerced, err := coerce(spec.Type, value)
		if err != nil {
			issues = append(issues, FieldIssue{Field: name, Reason: err.Error()})
			continue
		}
		normalized[name] = coerced
	}

	var unknown []string
	for name := range fields {
		if _, ok := schema.Fields[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		issues = append(issues, FieldIssue{Field: name, Reason: "unknown field"})
	}

	if len(issues) > 0 {
		return nil, &ValidationError{EventType: eventType, Issues: issues}
	}
	return normalized, nil
}

// coerce checks a value against a field type and widens it to the
// canonical representation (int64, float64, string, bool). JSON decoding
// yields float64 for all numbers, so integral floats are accepted for int
// fields.
func coerce(t FieldType, value any) (any, error) {
	switch t {
	case FieldString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case FieldBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case FieldInt:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v == math.Trunc(v) {
				return int64(v), nil
			}
			return nil, fmt.Errorf("expected int, got non-integral number %v", v)
		}
	case FieldFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
	}
	return nil, fmt.Errorf("expected %s, got %T", t, value)
}

func (r *Record) Type() string         { return r.eventType }
func (r *Record) ID() string           { return r.id }
func (r *Record) Sender() string       { return r.sender }
func (r *Record) Target() string       { return r.target }
func (r *Record) Timestamp() time.Time { return r.timestamp }
func (r *Record) Summary() string      { return r.summary }

// Broadcast reports whether the record has no point-to-point target.
func (r *Record) Broadcast() bool { return r.target == "" }

// Field returns one schema field's value.
func (r *Record) Field(name string) (any, bool) {
	v, ok := r.fields[name]
	return v, ok
}

// Fields returns a copy of the record's field set.
func (r *Record) Fields() map[string]any {
	out := make(map[string]any, len(r.fields))
	for k, v := range r.fields {
		out[k] = v
	}
	return out
}

// WithTimestamp returns a copy of the record stamped with t.
func (r *Record) WithTimestamp(t time.Time) *Record {
	c := r.clone()
	c.timestamp = t
	return c
}

// WithSenderID returns a copy of the record attributed to the given sender.
func (r *Record) WithSenderID(id string) *Record {
	c := r.clone()
	c.sender = id
	return c
}

func (r *Record) clone() *Record {
	c := *r
	c.fields = r.Fields()
	return &c
}

func (r *Record) String() string {
	if r.target != "" {
		return fmt.Sprintf("%s[%s] %s -> %s", r.eventType, r.id, r.sender, r.target)
	}
	return fmt.Sprintf("%s[%s] %s -> *", r.eventType, r.id, r.sender)
}
