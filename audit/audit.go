// Package audit records phase transitions, slot writes and dispatcher calls.
// Recording is fire-and-forget: sinks never error and the buffered sink never
// blocks the turn path.
package audit

import (
	"log/slog"
	"sync"
	"time"
)

type Kind string

const (
	KindSessionCreated  Kind = "session_created"
	KindPhaseTransition Kind = "phase_transition"
	KindSlotWrite       Kind = "slot_write"
	KindSlotOverwrite   Kind = "slot_overwrite"
	KindSlotRejected    Kind = "slot_rejected"
	KindDispatchCall    Kind = "dispatch_call"
	KindDispatchResult  Kind = "dispatch_result"
	KindTurnFailed      Kind = "turn_failed"
	KindSessionArchived Kind = "session_archived"
)

type Event struct {
	Time      time.Time         `json:"time"`
	SessionID string            `json:"session_id"`
	Kind      Kind              `json:"kind"`
	Detail    map[string]string `json:"detail,omitempty"`
}

type Sink interface {
	Record(event Event)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Record(Event) {}

// MemorySink collects events for inspection in tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Record(event Event) {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// SlogSink logs every event through slog.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) Record(event Event) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := []any{"session_id", event.SessionID, "kind", string(event.Kind)}
	for k, v := range event.Detail {
		args = append(args, k, v)
	}
	logger.Debug("audit", args...)
}
