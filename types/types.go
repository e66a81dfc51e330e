package types

import "time"

// Phase is the dialogue state machine phase of a conversation session.
type Phase string

const (
	PhaseInit            Phase = "init"
	PhaseDetectingIntent Phase = "detecting_intent"
	PhaseCollecting      Phase = "collecting"
	PhaseConfirming      Phase = "confirming"
	PhaseReadyToExecute  Phase = "ready_to_execute"
	PhaseExecuting       Phase = "executing"
	PhaseCompleted       Phase = "completed"
	PhaseAbandoned       Phase = "abandoned"
	PhaseFailed          Phase = "failed"
)

// Terminal reports whether the phase has no outgoing transitions except archival.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseAbandoned || p == PhaseFailed
}

// Intent identifies the workflow a user wants to complete. Values outside the
// registered allow-list are folded into IntentUnknown.
type Intent string

const (
	IntentUnknown     Intent = "unknown"
	IntentGeneralChat Intent = "general_chat"
)

// Reserved reports whether the intent is one of the reserved non-workflow values.
func (i Intent) Reserved() bool {
	return i == IntentUnknown || i == IntentGeneralChat
}

type SlotStatus string

const (
	SlotPending SlotStatus = "pending"
	SlotValid   SlotStatus = "valid"
	SlotInvalid SlotStatus = "invalid"
)

// SlotValue is a single collected slot. Normalized is only trustworthy while
// Status is SlotValid; a pending value with NeedsConfirm set carries an
// ambiguous normalization candidate awaiting explicit user confirmation.
type SlotValue struct {
	Raw          string     `json:"raw"`
	Normalized   string     `json:"normalized,omitempty"`
	Status       SlotStatus `json:"status"`
	SourceTurn   int        `json:"source_turn"`
	NeedsConfirm bool       `json:"needs_confirm,omitempty"`
}

// SlotBrief is the schema-free description of a slot handed to classifier and
// extractor prompts.
type SlotBrief struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
}

// Turn is one entry of the append-only session history.
type Turn struct {
	Index     int               `json:"index"`
	Text      string            `json:"text"`
	Intent    Intent            `json:"intent,omitempty"`
	Extracted map[string]string `json:"extracted,omitempty"`
	Phase     Phase             `json:"phase"`
	Reply     string            `json:"reply,omitempty"`
	At        time.Time         `json:"at"`
}
