// Package session owns the per-conversation state and its persistence
// contract. A State is mutated by exactly one in-flight turn at a time; the
// engine serializes turns per session id with a KeyedMutex and commits the
// whole state in a single Save.
package session

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/xid"

	"github.com/tbxark/slotflow/dispatch"
	"github.com/tbxark/slotflow/types"
)

// End reasons recorded when a session reaches abandoned or failed.
const (
	ReasonSlotUnresolvable = "slot_unresolvable"
	ReasonUserCancelled    = "user_cancelled"
	ReasonIdleTimeout      = "idle_timeout"
	ReasonNoWorkflow       = "no_workflow"
	ReasonDispatchFailed   = "dispatch_failed"
)

// State is the full conversation state of one session.
type State struct {
	SessionID string                      `json:"session_id"`
	Intent    types.Intent                `json:"intent,omitempty"`
	Slots     map[string]*types.SlotValue `json:"slots"`
	LastAsked string                      `json:"last_asked,omitempty"`
	Retries   map[string]int              `json:"retries"`
	Phase     types.Phase                 `json:"phase"`
	TurnCount int                         `json:"turn_count"`

	// PendingConfirm names the slot whose ambiguous candidate awaits a yes/no.
	PendingConfirm string `json:"pending_confirm,omitempty"`

	DispatchID       string           `json:"dispatch_id,omitempty"`
	DispatchAttempts int              `json:"dispatch_attempts,omitempty"`
	Result           *dispatch.Result `json:"result,omitempty"`
	EndReason        string           `json:"end_reason,omitempty"`

	// History is append-only; entries are never rewritten.
	History []types.Turn `json:"history"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a fresh session in the init phase. An empty id gets a generated one.
func New(id string, now time.Time) *State {
	if id == "" {
		id = xid.New().String()
	}
	return &State{
		SessionID: id,
		Slots:     make(map[string]*types.SlotValue),
		Retries:   make(map[string]int),
		Phase:     types.PhaseInit,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy via JSON round-trip, so a turn can work on a
// scratch state and leave the loaded one untouched when the commit fails.
func (s *State) Clone() (*State, error) {
	blob, err := sonic.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("clone state: %w", err)
	}
	var out State
	if err := sonic.Unmarshal(blob, &out); err != nil {
		return nil, fmt.Errorf("clone state: %w", err)
	}
	if out.Slots == nil {
		out.Slots = make(map[string]*types.SlotValue)
	}
	if out.Retries == nil {
		out.Retries = make(map[string]int)
	}
	return &out, nil
}

// Valid reports whether the named slot holds a validated value.
func (s *State) Valid(name string) bool {
	sv, ok := s.Slots[name]
	return ok && sv.Status == types.SlotValid
}

// ValidSlots returns the normalized values of all valid slots.
func (s *State) ValidSlots() map[string]string {
	out := make(map[string]string, len(s.Slots))
	for name, sv := range s.Slots {
		if sv.Status == types.SlotValid {
			out[name] = sv.Normalized
		}
	}
	return out
}
