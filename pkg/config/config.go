package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mkolbe/agora/pkg/event"
)

// Duration is a time.Duration that reads from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SimulationConfig declares one world: its schemas and its participants
// with their initial properties.
type SimulationConfig struct {
	Name         string              `yaml:"name"`
	Schemas      []SchemaConfig      `yaml:"schemas"`
	Participants []ParticipantConfig `yaml:"participants"`
	Journal      JournalConfig       `yaml:"journal"`
	Transport    TransportConfig     `yaml:"transport"`
	StopGrace    Duration            `yaml:"stop_grace"`
}

// SchemaConfig declares one event schema.
type SchemaConfig struct {
	Type   string                 `yaml:"type"`
	Fields map[string]FieldConfig `yaml:"fields"`
}

// FieldConfig declares one schema field.
type FieldConfig struct {
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
}

// ParticipantConfig declares one participant. Agents carry wakeup types
// and a provider; objects get their bindings attached in code.
type ParticipantConfig struct {
	Kind         string         `yaml:"kind"` // "agent" or "object"
	ID           string         `yaml:"id"`
	Name         string         `yaml:"name"`
	Description  string         `yaml:"description"`
	Properties   map[string]any `yaml:"properties"`
	Wakeups      []string       `yaml:"wakeups"`
	CatchAll     bool           `yaml:"catch_all"`
	Provider     string         `yaml:"provider"` // "openai", "gemini", "scripted"
	Model        string         `yaml:"model"`
	ThinkTimeout Duration       `yaml:"think_timeout"`
}

// JournalConfig selects the event log backing. Empty path means the
// bounded in-memory journal.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// TransportConfig configures the remote-participant endpoint. Empty
// listen address disables it.
type TransportConfig struct {
	Listen string `yaml:"listen"`
}

// LoadConfig reads and validates a simulation config from a YAML file.
func LoadConfig(path string) (*SimulationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg SimulationConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *SimulationConfig) applyDefaults() {
	if c.StopGrace == 0 {
		c.StopGrace = Duration(5 * time.Second)
	}
	for i := range c.Participants {
		if c.Participants[i].ThinkTimeout == 0 {
			c.Participants[i].ThinkTimeout = Duration(30 * time.Second)
		}
	}
}

// Validate checks the declaration for configuration errors: unknown
// kinds, duplicate participant ids, unknown field types.
func (c *SimulationConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("missing world name")
	}
	seen := make(map[string]struct{})
	for _, p := range c.Participants {
		if p.ID == "" {
			return fmt.Errorf("participant with empty id")
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate participant id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.Kind != "agent" && p.Kind != "object" {
			return fmt.Errorf("participant %q: unknown kind %q", p.ID, p.Kind)
		}
	}
	for _, s := range c.Schemas {
		if _, err := s.Schema(); err != nil {
			return err
		}
	}
	return nil
}

// Schema converts a schema declaration into the event model's form.
func (s SchemaConfig) Schema() (event.Schema, error) {
	fields := make(map[string]event.FieldSpec, len(s.Fields))
	for name, f := range s.Fields {
		var ft event.FieldType
		switch f.Type {
		case "string":
			ft = event.FieldString
		case "int":
			ft = event.FieldInt
		case "float":
			ft = event.FieldFloat
		case "bool":
			ft = event.FieldBool
		default:
			return event.Schema{}, fmt.Errorf("schema %q field %q: unknown type %q", s.Type, name, f.Type)
		}
		fields[name] = event.FieldSpec{Type: ft, Required: f.Required}
	}
	return event.Schema{Type: s.Type, Fields: fields}, nil
}
