// Package engine implements the dialogue state machine. It owns conversation
// phase and transition rules, orchestrating classification lock-in, extraction
// merge, validation, next-question selection and the execution gate. The
// classifier, extractor, dispatcher, store and audit sink are narrow,
// swappable collaborators.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tbxark/slotflow/audit"
	"github.com/tbxark/slotflow/dispatch"
	"github.com/tbxark/slotflow/extract"
	"github.com/tbxark/slotflow/intent"
	"github.com/tbxark/slotflow/schema"
	"github.com/tbxark/slotflow/session"
	"github.com/tbxark/slotflow/types"
)

const (
	// DefaultMaxDispatchRetries bounds automatic re-execution after a
	// recoverable dispatcher failure.
	DefaultMaxDispatchRetries = 2
	DefaultIdleTimeout        = 30 * time.Minute
)

// Config wires an Engine. Registry, Classifier, Extractor, Dispatcher and
// Store are required; the rest defaults.
type Config struct {
	Registry   *schema.Registry
	Classifier intent.Classifier
	Extractor  extract.Extractor
	Dispatcher dispatch.Dispatcher
	Store      session.Store
	Audit      audit.Sink
	Logger     *slog.Logger

	MaxDispatchRetries int
	IdleTimeout        time.Duration
	Now                func() time.Time
}

type Engine struct {
	registry   *schema.Registry
	classifier intent.Classifier
	extractor  extract.Extractor
	dispatcher dispatch.Dispatcher
	store      session.Store
	audit      audit.Sink
	log        *slog.Logger
	locks      *session.KeyedMutex

	maxDispatchRetries int
	idleTimeout        time.Duration
	now                func() time.Time
}

func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("engine: registry is required")
	case cfg.Classifier == nil:
		return nil, errors.New("engine: classifier is required")
	case cfg.Extractor == nil:
		return nil, errors.New("engine: extractor is required")
	case cfg.Dispatcher == nil:
		return nil, errors.New("engine: dispatcher is required")
	case cfg.Store == nil:
		return nil, errors.New("engine: store is required")
	}
	e := &Engine{
		registry:           cfg.Registry,
		classifier:         cfg.Classifier,
		extractor:          cfg.Extractor,
		dispatcher:         cfg.Dispatcher,
		store:              cfg.Store,
		audit:              cfg.Audit,
		log:                cfg.Logger,
		locks:              session.NewKeyedMutex(),
		maxDispatchRetries: cfg.MaxDispatchRetries,
		idleTimeout:        cfg.IdleTimeout,
		now:                cfg.Now,
	}
	if e.audit == nil {
		e.audit = audit.NopSink{}
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.maxDispatchRetries <= 0 {
		e.maxDispatchRetries = DefaultMaxDispatchRetries
	}
	if e.idleTimeout <= 0 {
		e.idleTimeout = DefaultIdleTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Reply is what the transport sends back to the user after a turn.
type Reply struct {
	SessionID   string      `json:"session_id"`
	Message     string      `json:"message"`
	Phase       types.Phase `json:"phase"`
	Done        bool        `json:"done"`
	ReferenceID string      `json:"reference_id,omitempty"`
}

// ProcessTurn feeds one user turn into the session's state machine. Turns for
// the same session id are serialized; the new state becomes visible only after
// the whole transition committed to the store.
func (e *Engine) ProcessTurn(ctx context.Context, sessionID, text string) (*Reply, error) {
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	now := e.now()
	st, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	created := st == nil
	if created {
		st = session.New(sessionID, now)
	}

	if st.Phase.Terminal() {
		// Terminal state is immutable except for audit annotation.
		e.audit.Record(audit.Event{
			Time: now, SessionID: st.SessionID, Kind: audit.KindSessionArchived,
			Detail: map[string]string{"phase": string(st.Phase), "ignored_text": text},
		})
		return &Reply{
			SessionID: st.SessionID,
			Message:   msgSessionClosed,
			Phase:     st.Phase,
			Done:      true,
		}, nil
	}

	work, err := st.Clone()
	if err != nil {
		return nil, err
	}
	work.TurnCount++

	run := &turnRun{engine: e, state: work, now: now}
	if created {
		run.event(audit.KindSessionCreated, nil)
	}

	var reply *Reply
	if isCancel(text) {
		reply = run.finish(types.PhaseAbandoned, session.ReasonUserCancelled, msgCancelled)
	} else {
		switch work.Phase {
		case types.PhaseInit, types.PhaseDetectingIntent:
			reply, err = run.detect(ctx, text)
		case types.PhaseCollecting:
			reply, err = run.collect(ctx, text)
		case types.PhaseConfirming:
			reply, err = run.confirm(ctx, text)
		case types.PhaseReadyToExecute:
			reply, err = run.execute(ctx)
		default:
			err = fmt.Errorf("session %s in unexpected phase %s", sessionID, work.Phase)
		}
	}
	if err != nil {
		e.audit.Record(audit.Event{
			Time: now, SessionID: work.SessionID, Kind: audit.KindTurnFailed,
			Detail: map[string]string{"error": err.Error()},
		})
		return nil, err
	}

	work.History = append(work.History, types.Turn{
		Index:     work.TurnCount,
		Text:      text,
		Intent:    work.Intent,
		Extracted: run.extracted,
		Phase:     work.Phase,
		Reply:     reply.Message,
		At:        now,
	})
	work.UpdatedAt = now

	// Single commit point; on failure the previously persisted state is intact.
	if err := e.store.Save(ctx, work); err != nil {
		e.audit.Record(audit.Event{
			Time: now, SessionID: work.SessionID, Kind: audit.KindTurnFailed,
			Detail: map[string]string{"error": err.Error()},
		})
		return nil, fmt.Errorf("save session %s: %w", sessionID, err)
	}
	run.flush()

	reply.SessionID = work.SessionID
	reply.Phase = work.Phase
	reply.Done = work.Phase.Terminal()
	return reply, nil
}

// Cancel abandons the session out-of-band, e.g. from a UI control rather than
// a chat turn. It takes the same per-session lock as a turn.
func (e *Engine) Cancel(ctx context.Context, sessionID string) error {
	return e.abandon(ctx, sessionID, session.ReasonUserCancelled)
}

// SweepIdle abandons every non-terminal session whose last activity is older
// than the idle timeout. The store must support listing.
func (e *Engine) SweepIdle(ctx context.Context) (int, error) {
	lister, ok := e.store.(session.Lister)
	if !ok {
		return 0, errors.New("engine: session store does not support listing")
	}
	ids, err := lister.IDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	count := 0
	cutoff := e.now().Add(-e.idleTimeout)
	for _, id := range ids {
		swept, err := e.sweepOne(ctx, id, cutoff)
		if err != nil {
			e.log.Warn("idle sweep failed", "session_id", id, "error", err)
			continue
		}
		if swept {
			count++
		}
	}
	return count, nil
}

func (e *Engine) sweepOne(ctx context.Context, sessionID string, cutoff time.Time) (bool, error) {
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	st, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if st == nil || st.Phase.Terminal() || st.UpdatedAt.After(cutoff) {
		return false, nil
	}
	return true, e.archive(ctx, st, session.ReasonIdleTimeout)
}

func (e *Engine) abandon(ctx context.Context, sessionID, reason string) error {
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	st, err := e.store.Load(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if st == nil || st.Phase.Terminal() {
		return nil
	}
	return e.archive(ctx, st, reason)
}

func (e *Engine) archive(ctx context.Context, st *session.State, reason string) error {
	work, err := st.Clone()
	if err != nil {
		return err
	}
	now := e.now()
	from := work.Phase
	work.Phase = types.PhaseAbandoned
	work.EndReason = reason
	work.UpdatedAt = now
	if err := e.store.Save(ctx, work); err != nil {
		return fmt.Errorf("save session %s: %w", work.SessionID, err)
	}
	e.audit.Record(audit.Event{
		Time: now, SessionID: work.SessionID, Kind: audit.KindPhaseTransition,
		Detail: map[string]string{"from": string(from), "to": string(types.PhaseAbandoned), "reason": reason},
	})
	e.audit.Record(audit.Event{
		Time: now, SessionID: work.SessionID, Kind: audit.KindSessionArchived,
		Detail: map[string]string{"reason": reason},
	})
	return nil
}
