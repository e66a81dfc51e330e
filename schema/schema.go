// Package schema holds the per-intent slot schemas. Schemas are build-time
// configuration: registered once at startup and read-only afterwards.
package schema

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tbxark/slotflow/types"
	"github.com/tbxark/slotflow/validate"
)

var ErrUnknownIntent = errors.New("unknown intent")

type SlotType string

const (
	TypeDate   SlotType = "date"
	TypePhone  SlotType = "phone"
	TypeEnum   SlotType = "enum"
	TypeText   SlotType = "text"
	TypeNumber SlotType = "number"
)

const DefaultMaxRetries = 3

// SlotDef describes one slot of a workflow.
type SlotDef struct {
	Name          string
	DisplayName   string
	Description   string
	Type          SlotType
	Required      bool
	Prompt        string
	ConfirmPrompt string
	MaxRetries    int
	Validator     validate.Func
}

// SlotSchema is the ordered slot layout of one intent. Slot order is the
// default ask priority used by the selector.
type SlotSchema struct {
	Intent types.Intent
	Slots  []SlotDef
}

// Slot returns the definition of the named slot.
func (s *SlotSchema) Slot(name string) (*SlotDef, bool) {
	for i := range s.Slots {
		if s.Slots[i].Name == name {
			return &s.Slots[i], true
		}
	}
	return nil, false
}

// Required returns the required slots in declaration order.
func (s *SlotSchema) Required() []SlotDef {
	out := make([]SlotDef, 0, len(s.Slots))
	for _, def := range s.Slots {
		if def.Required {
			out = append(out, def)
		}
	}
	return out
}

// Briefs converts the slot definitions for prompt construction.
func (s *SlotSchema) Briefs() []types.SlotBrief {
	out := make([]types.SlotBrief, 0, len(s.Slots))
	for _, def := range s.Slots {
		out = append(out, types.SlotBrief{
			Name:        def.Name,
			DisplayName: def.DisplayName,
			Description: def.Description,
			Type:        string(def.Type),
			Required:    def.Required,
		})
	}
	return out
}

// Registry maps intents to their slot schemas. It is not safe for concurrent
// registration; register everything before serving turns.
type Registry struct {
	schemas map[types.Intent]*SlotSchema
}

func NewRegistry() *Registry {
	return &Registry{schemas: make(map[types.Intent]*SlotSchema)}
}

// Register adds a schema, checking the guarantees the rest of the system
// relies on: non-reserved intent, unique slot names, and a non-empty prompt
// plus validator on every required slot.
func (r *Registry) Register(s *SlotSchema) error {
	if s.Intent == "" || s.Intent.Reserved() {
		return fmt.Errorf("cannot register schema for intent %q", s.Intent)
	}
	if _, exists := r.schemas[s.Intent]; exists {
		return fmt.Errorf("schema for intent %q already registered", s.Intent)
	}
	seen := make(map[string]bool, len(s.Slots))
	for i := range s.Slots {
		def := &s.Slots[i]
		if def.Name == "" {
			return fmt.Errorf("intent %q: slot %d has no name", s.Intent, i)
		}
		if seen[def.Name] {
			return fmt.Errorf("intent %q: duplicate slot %q", s.Intent, def.Name)
		}
		seen[def.Name] = true
		if def.Required {
			if def.Prompt == "" {
				return fmt.Errorf("intent %q: required slot %q has no prompt", s.Intent, def.Name)
			}
			if def.Validator == nil {
				return fmt.Errorf("intent %q: required slot %q has no validator", s.Intent, def.Name)
			}
		}
		if def.MaxRetries <= 0 {
			def.MaxRetries = DefaultMaxRetries
		}
		if def.DisplayName == "" {
			def.DisplayName = def.Name
		}
	}
	r.schemas[s.Intent] = s
	return nil
}

// Get returns the schema for the intent or ErrUnknownIntent.
func (r *Registry) Get(intent types.Intent) (*SlotSchema, error) {
	s, ok := r.schemas[intent]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIntent, intent)
	}
	return s, nil
}

// Known reports whether the intent is registered.
func (r *Registry) Known(intent types.Intent) bool {
	_, ok := r.schemas[intent]
	return ok
}

// Intents returns the registered intents in sorted order.
func (r *Registry) Intents() []types.Intent {
	out := make([]types.Intent, 0, len(r.schemas))
	for intent := range r.schemas {
		out = append(out, intent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
