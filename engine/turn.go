package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tbxark/slotflow/audit"
	"github.com/tbxark/slotflow/dispatch"
	"github.com/tbxark/slotflow/extract"
	"github.com/tbxark/slotflow/intent"
	"github.com/tbxark/slotflow/schema"
	"github.com/tbxark/slotflow/selector"
	"github.com/tbxark/slotflow/session"
	"github.com/tbxark/slotflow/types"
	"github.com/tbxark/slotflow/validate"
)

// turnRun carries one turn's scratch state. Audit events are buffered and
// flushed only after the state committed, so a failed turn leaves no trace of
// transitions that never became visible.
type turnRun struct {
	engine    *Engine
	state     *session.State
	now       time.Time
	extracted map[string]string
	events    []audit.Event
}

func (r *turnRun) event(kind audit.Kind, detail map[string]string) {
	r.events = append(r.events, audit.Event{
		Time:      r.now,
		SessionID: r.state.SessionID,
		Kind:      kind,
		Detail:    detail,
	})
}

func (r *turnRun) transition(to types.Phase, detail map[string]string) {
	if r.state.Phase == to {
		return
	}
	if detail == nil {
		detail = map[string]string{}
	}
	detail["from"] = string(r.state.Phase)
	detail["to"] = string(to)
	r.state.Phase = to
	r.event(audit.KindPhaseTransition, detail)
}

func (r *turnRun) flush() {
	for _, ev := range r.events {
		r.engine.audit.Record(ev)
	}
	r.events = nil
}

func (r *turnRun) finish(phase types.Phase, reason, message string) *Reply {
	r.state.EndReason = reason
	r.transition(phase, map[string]string{"reason": reason})
	r.event(audit.KindSessionArchived, map[string]string{"reason": reason})
	return &Reply{Message: message}
}

// detect classifies the first turn and locks the intent. Unknown and
// general-chat results end the session harmlessly; no side effect can ever
// fire from that path.
func (r *turnRun) detect(ctx context.Context, text string) (*Reply, error) {
	st := r.state
	r.transition(types.PhaseDetectingIntent, nil)

	res, err := r.engine.classifier.Classify(ctx, &intent.Request{
		Text:    text,
		Allowed: r.engine.registry.Intents(),
	})
	if err != nil || res == nil {
		// Classifier contract is fail-open; enforce it here too.
		r.engine.log.Warn("classifier failed, treating as unknown", "session_id", st.SessionID, "error", err)
		res = intent.Unknown()
	}

	it := res.Intent
	if it.Reserved() || !r.engine.registry.Known(it) {
		return r.finish(types.PhaseCompleted, session.ReasonNoWorkflow, msgGeneralChat), nil
	}

	// Intent is immutable once locked.
	st.Intent = it
	r.transition(types.PhaseCollecting, map[string]string{
		"intent":     string(it),
		"confidence": fmt.Sprintf("%.2f", res.Confidence),
	})
	return r.collect(ctx, text)
}

// collect runs the extractor over the turn, validates every candidate and
// merges the survivors into the slot map.
func (r *turnRun) collect(ctx context.Context, text string) (*Reply, error) {
	st := r.state
	sch, err := r.engine.registry.Get(st.Intent)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", st.SessionID, err)
	}

	candidates, err := r.engine.extractor.Extract(ctx, &extract.Request{
		Text:      text,
		Intent:    st.Intent,
		Slots:     sch.Briefs(),
		Filled:    st.ValidSlots(),
		LastAsked: st.LastAsked,
	})
	if err != nil {
		// Extractor contract is fail-open; an unreadable turn has no candidates.
		r.engine.log.Warn("extractor failed, continuing without candidates", "session_id", st.SessionID, "error", err)
		candidates = nil
	}
	r.extracted = candidates

	var problems []string
	for i := range sch.Slots {
		def := &sch.Slots[i]
		cand, ok := candidates[def.Name]
		if !ok {
			continue
		}
		problems = r.mergeCandidate(def, cand, problems)
	}

	return r.advance(ctx, sch, problems)
}

// mergeCandidate pushes one raw candidate through the validation gate and
// writes the outcome. A candidate for an already-valid slot is an explicit
// correction; it replaces the value only when it validates to something new,
// and never degrades a valid slot on rejection.
func (r *turnRun) mergeCandidate(def *schema.SlotDef, cand string, problems []string) []string {
	st := r.state
	existing := st.Slots[def.Name]
	wasValid := existing != nil && existing.Status == types.SlotValid

	norm, vErr := r.applyValidator(def, cand)
	if vErr == nil {
		if wasValid && existing.Normalized == norm {
			return problems // restatement, not a correction
		}
		kind := audit.KindSlotWrite
		if wasValid {
			kind = audit.KindSlotOverwrite
		}
		st.Slots[def.Name] = &types.SlotValue{
			Raw:        cand,
			Normalized: norm,
			Status:     types.SlotValid,
			SourceTurn: st.TurnCount,
		}
		r.event(kind, map[string]string{"slot": def.Name, "normalized": norm})
		return problems
	}

	if wasValid {
		// A failed correction leaves the trusted value in place.
		r.event(audit.KindSlotRejected, map[string]string{"slot": def.Name, "error": vErr.Error()})
		problems = append(problems, fmt.Sprintf("%s: kept the previous value, %s", def.DisplayName, rejectionMessage(vErr)))
		return problems
	}

	if e, ok := validate.As(vErr); ok && e.Kind == validate.Ambiguous && e.NeedsConfirm {
		st.Slots[def.Name] = &types.SlotValue{
			Raw:          cand,
			Normalized:   e.Candidate,
			Status:       types.SlotPending,
			SourceTurn:   st.TurnCount,
			NeedsConfirm: true,
		}
		r.event(audit.KindSlotWrite, map[string]string{
			"slot": def.Name, "candidate": e.Candidate, "needs_confirm": "true",
		})
		return problems
	}

	st.Slots[def.Name] = &types.SlotValue{
		Raw:        cand,
		Status:     types.SlotInvalid,
		SourceTurn: st.TurnCount,
	}
	r.event(audit.KindSlotRejected, map[string]string{"slot": def.Name, "error": vErr.Error()})
	return append(problems, fmt.Sprintf("%s: %s", def.DisplayName, rejectionMessage(vErr)))
}

func (r *turnRun) applyValidator(def *schema.SlotDef, raw string) (string, error) {
	if def.Validator == nil {
		// Only optional slots may lack a validator; accept trimmed text as-is.
		return strings.TrimSpace(raw), nil
	}
	return def.Validator(raw)
}

// advance decides what the session does after the merge: confirm an ambiguous
// candidate, ask for the next missing slot, give up, or execute.
func (r *turnRun) advance(ctx context.Context, sch *schema.SlotSchema, problems []string) (*Reply, error) {
	st := r.state

	if name, ok := nextConfirmable(sch, st); ok {
		st.PendingConfirm = name
		r.transition(types.PhaseConfirming, map[string]string{"slot": name})
		def, _ := sch.Slot(name)
		return &Reply{Message: joinProblems(problems, confirmPrompt(def, st.Slots[name].Normalized))}, nil
	}

	next, ok := selector.Next(sch, st.Slots, st.LastAsked, st.Retries)
	if !ok {
		return r.execute(ctx)
	}

	def, found := sch.Slot(next)
	if !found {
		return nil, fmt.Errorf("session %s: selector chose unknown slot %q", st.SessionID, next)
	}
	// Retries beyond the initial ask are bounded by the slot's budget.
	if st.Retries[next] >= def.MaxRetries+1 {
		return r.finish(types.PhaseAbandoned, session.ReasonSlotUnresolvable, msgHandOff), nil
	}
	st.Retries[next]++
	st.LastAsked = next
	return &Reply{Message: joinProblems(problems, def.Prompt)}, nil
}

// nextConfirmable returns the first slot, in schema order, holding an
// unconfirmed ambiguous candidate.
func nextConfirmable(sch *schema.SlotSchema, st *session.State) (string, bool) {
	for _, def := range sch.Slots {
		sv, ok := st.Slots[def.Name]
		if ok && sv.Status == types.SlotPending && sv.NeedsConfirm {
			return def.Name, true
		}
	}
	return "", false
}

// confirm resolves a yes/no answer for the pending ambiguous candidate.
func (r *turnRun) confirm(ctx context.Context, text string) (*Reply, error) {
	st := r.state
	sch, err := r.engine.registry.Get(st.Intent)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", st.SessionID, err)
	}
	name := st.PendingConfirm
	sv := st.Slots[name]
	def, found := sch.Slot(name)
	if name == "" || sv == nil || !found {
		// Nothing actually pending; fall back to normal collection.
		st.PendingConfirm = ""
		r.transition(types.PhaseCollecting, nil)
		return r.collect(ctx, text)
	}

	switch {
	case isAffirm(text):
		sv.Status = types.SlotValid
		sv.NeedsConfirm = false
		sv.SourceTurn = st.TurnCount
		st.PendingConfirm = ""
		r.event(audit.KindSlotWrite, map[string]string{
			"slot": name, "normalized": sv.Normalized, "confirmed": "true",
		})
		r.transition(types.PhaseCollecting, nil)
		return r.advance(ctx, sch, nil)

	case isDeny(text):
		st.Slots[name] = &types.SlotValue{Status: types.SlotPending, SourceTurn: st.TurnCount}
		st.PendingConfirm = ""
		r.event(audit.KindSlotRejected, map[string]string{"slot": name, "error": "candidate denied"})
		r.transition(types.PhaseCollecting, nil)
		return r.advance(ctx, sch, nil)

	default:
		// Unclear answer; the re-ask spends the slot's retry budget.
		if st.Retries[name] >= def.MaxRetries+1 {
			return r.finish(types.PhaseAbandoned, session.ReasonSlotUnresolvable, msgHandOff), nil
		}
		st.Retries[name]++
		return &Reply{Message: confirmPrompt(def, sv.Normalized)}, nil
	}
}

// execute is the only path with access to the dispatcher. It re-checks the
// gate, then drives ready_to_execute → executing with bounded automatic
// retries for recoverable failures.
func (r *turnRun) execute(ctx context.Context) (*Reply, error) {
	st := r.state
	sch, err := r.engine.registry.Get(st.Intent)
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", st.SessionID, err)
	}
	for _, def := range sch.Required() {
		if !st.Valid(def.Name) {
			return nil, fmt.Errorf("session %s: execution gate refused: slot %q not valid", st.SessionID, def.Name)
		}
	}

	r.transition(types.PhaseReadyToExecute, nil)
	if st.DispatchID == "" {
		// Stable across retries so the dispatcher can deduplicate.
		st.DispatchID = fmt.Sprintf("%s-%d", st.SessionID, st.TurnCount)
	}
	req := &dispatch.Request{
		RequestID: st.DispatchID,
		Intent:    st.Intent,
		Slots:     st.ValidSlots(),
	}

	budget := r.engine.maxDispatchRetries + 1
	for {
		r.transition(types.PhaseExecuting, nil)
		st.DispatchAttempts++
		r.event(audit.KindDispatchCall, map[string]string{
			"request_id": st.DispatchID,
			"attempt":    fmt.Sprintf("%d", st.DispatchAttempts),
		})

		res, err := r.engine.dispatcher.Execute(ctx, req)
		if err != nil {
			// Transport-level failures are transient by assumption.
			res = &dispatch.Result{Success: false, Err: err.Error(), Recoverable: true}
		}
		r.event(audit.KindDispatchResult, map[string]string{
			"request_id": st.DispatchID,
			"success":    fmt.Sprintf("%t", res.Success),
			"error":      res.Err,
		})

		if res.Success {
			st.Result = res
			r.transition(types.PhaseCompleted, map[string]string{"reference_id": res.ReferenceID})
			r.event(audit.KindSessionArchived, map[string]string{"reference_id": res.ReferenceID})
			return &Reply{
				Message:     fmt.Sprintf(msgCompleted, res.ReferenceID),
				ReferenceID: res.ReferenceID,
			}, nil
		}

		if res.Recoverable && st.DispatchAttempts < budget {
			r.transition(types.PhaseReadyToExecute, map[string]string{"retry": "true"})
			continue
		}

		st.Result = res
		reply := r.finish(types.PhaseFailed, session.ReasonDispatchFailed, fmt.Sprintf(msgFailed, st.DispatchID))
		reply.ReferenceID = st.DispatchID
		return reply, nil
	}
}

func joinProblems(problems []string, prompt string) string {
	if len(problems) == 0 {
		return prompt
	}
	return strings.Join(problems, " ") + " " + prompt
}

func rejectionMessage(err error) string {
	if e, ok := validate.As(err); ok {
		return e.Message
	}
	return err.Error()
}
