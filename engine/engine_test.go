package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tbxark/slotflow/audit"
	"github.com/tbxark/slotflow/dispatch"
	"github.com/tbxark/slotflow/extract"
	"github.com/tbxark/slotflow/intent"
	"github.com/tbxark/slotflow/schema"
	"github.com/tbxark/slotflow/session"
	"github.com/tbxark/slotflow/types"
	"github.com/tbxark/slotflow/validate"
)

var testRef = time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC) // a Friday

const intentTimeOff = types.Intent("request_time_off")

func timeOffSchema() *schema.SlotSchema {
	return &schema.SlotSchema{
		Intent: intentTimeOff,
		Slots: []schema.SlotDef{
			{
				Name: "start_date", DisplayName: "start date", Type: schema.TypeDate,
				Required: true, Prompt: "What day should the leave start?",
				MaxRetries: 2, Validator: validate.Date(testRef, validate.DateOptions{}),
			},
			{
				Name: "end_date", DisplayName: "end date", Type: schema.TypeDate,
				Required: true, Prompt: "What day should the leave end?",
				MaxRetries: 2, Validator: validate.Date(testRef, validate.DateOptions{}),
			},
			{
				Name: "reason", DisplayName: "reason", Type: schema.TypeEnum,
				Required: true, Prompt: "What is the reason: vacation, sick or personal?",
				MaxRetries: 2, Validator: validate.Enum([]string{"vacation", "sick", "personal"}),
			},
		},
	}
}

// fixedClassifier always answers the same intent.
type fixedClassifier struct {
	intent types.Intent
	err    error
}

func (c fixedClassifier) Classify(context.Context, *intent.Request) (*intent.Result, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &intent.Result{Intent: c.intent, Confidence: 0.9}, nil
}

// queueExtractor pops one scripted candidate map per turn.
type queueExtractor struct {
	script []map[string]string
}

func (e *queueExtractor) Extract(context.Context, *extract.Request) (map[string]string, error) {
	if len(e.script) == 0 {
		return map[string]string{}, nil
	}
	out := e.script[0]
	e.script = e.script[1:]
	return out, nil
}

// fakeDispatcher records calls and pops scripted results, defaulting to success.
type fakeDispatcher struct {
	results []*dispatch.Result
	calls   int
	ids     []string
}

func (d *fakeDispatcher) Execute(_ context.Context, req *dispatch.Request) (*dispatch.Result, error) {
	d.calls++
	d.ids = append(d.ids, req.RequestID)
	if len(d.results) == 0 {
		return &dispatch.Result{Success: true, ReferenceID: "REF-1"}, nil
	}
	out := d.results[0]
	d.results = d.results[1:]
	return out, nil
}

type harness struct {
	engine     *Engine
	store      *session.MemoryStore
	sink       *audit.MemorySink
	dispatcher *fakeDispatcher
}

func newHarness(t *testing.T, classifier intent.Classifier, extractor extract.Extractor, mutate func(*Config)) *harness {
	t.Helper()
	reg := schema.NewRegistry()
	if err := reg.Register(timeOffSchema()); err != nil {
		t.Fatal(err)
	}
	h := &harness{
		store:      session.NewMemoryStore(),
		sink:       audit.NewMemorySink(),
		dispatcher: &fakeDispatcher{},
	}
	cfg := Config{
		Registry:   reg,
		Classifier: classifier,
		Extractor:  extractor,
		Dispatcher: h.dispatcher,
		Store:      h.store,
		Audit:      h.sink,
		Now:        func() time.Time { return testRef },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	h.engine = e
	return h
}

func (h *harness) turn(t *testing.T, id, text string) *Reply {
	t.Helper()
	reply, err := h.engine.ProcessTurn(context.Background(), id, text)
	if err != nil {
		t.Fatalf("ProcessTurn(%q): %v", text, err)
	}
	return reply
}

func (h *harness) state(t *testing.T, id string) *session.State {
	t.Helper()
	st, err := h.store.Load(context.Background(), id)
	if err != nil || st == nil {
		t.Fatalf("Load(%q) = %v, %v", id, st, err)
	}
	return st
}

func (h *harness) auditKinds() map[audit.Kind]int {
	out := make(map[audit.Kind]int)
	for _, ev := range h.sink.Events() {
		out[ev.Kind]++
	}
	return out
}

func TestHappyPathToCompletion(t *testing.T) {
	t.Parallel()
	ext := &queueExtractor{script: []map[string]string{
		{},
		{"start_date": "2026-09-01", "end_date": "2026-09-03"},
		{"reason": "vacation"},
	}}
	h := newHarness(t, fixedClassifier{intent: intentTimeOff}, ext, nil)

	r := h.turn(t, "s1", "I need some time off")
	if r.Phase != types.PhaseCollecting || !strings.Contains(r.Message, "start") {
		t.Fatalf("turn 1 = %+v", r)
	}
	if h.dispatcher.calls != 0 {
		t.Fatal("dispatcher called before slots were complete")
	}

	r = h.turn(t, "s1", "from the 1st to the 3rd")
	if r.Phase != types.PhaseCollecting || !strings.Contains(r.Message, "reason") {
		t.Fatalf("turn 2 = %+v", r)
	}
	if h.dispatcher.calls != 0 {
		t.Fatal("dispatcher called before slots were complete")
	}

	r = h.turn(t, "s1", "vacation")
	if r.Phase != types.PhaseCompleted || !r.Done || r.ReferenceID != "REF-1" {
		t.Fatalf("turn 3 = %+v", r)
	}
	if h.dispatcher.calls != 1 {
		t.Errorf("dispatcher calls = %d, want 1", h.dispatcher.calls)
	}

	st := h.state(t, "s1")
	if st.Phase != types.PhaseCompleted {
		t.Errorf("persisted phase = %s", st.Phase)
	}
	want := map[string]string{"start_date": "2026-09-01", "end_date": "2026-09-03", "reason": "vacation"}
	for name, norm := range want {
		if sv := st.Slots[name]; sv == nil || sv.Status != types.SlotValid || sv.Normalized != norm {
			t.Errorf("slot %s = %+v, want valid %q", name, sv, norm)
		}
	}
	if got := h.auditKinds(); got[audit.KindDispatchCall] != 1 || got[audit.KindDispatchResult] != 1 {
		t.Errorf("dispatch audit events = %v", got)
	}
}

func TestUnknownIntentEndsHarmlessly(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fixedClassifier{intent: types.IntentGeneralChat}, &queueExtractor{}, nil)
	r := h.turn(t, "s1", "what's the weather like")
	if r.Phase != types.PhaseCompleted || !r.Done {
		t.Fatalf("reply = %+v", r)
	}
	if h.dispatcher.calls != 0 {
		t.Error("dispatcher called for a non-workflow turn")
	}
	if st := h.state(t, "s1"); st.EndReason != session.ReasonNoWorkflow {
		t.Errorf("end reason = %q", st.EndReason)
	}
}

func TestClassifierErrorFailsOpen(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fixedClassifier{err: errors.New("model down")}, &queueExtractor{}, nil)
	r := h.turn(t, "s1", "book time off")
	if r.Phase != types.PhaseCompleted || !r.Done {
		t.Fatalf("reply = %+v", r)
	}
}

func TestRetryBudgetAbandons(t *testing.T) {
	t.Parallel()
	// One required slot with MaxRetries = 2: an initial ask plus two re-asks,
	// then the session is given up.
	const intentTicket = types.Intent("submit_it_ticket")
	reg := schema.NewRegistry()
	err := reg.Register(&schema.SlotSchema{
		Intent: intentTicket,
		Slots: []schema.SlotDef{{
			Name: "summary", Type: schema.TypeText, Required: true,
			Prompt: "What is the problem, in one line?", MaxRetries: 2,
			Validator: validate.Text(10, 0),
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, fixedClassifier{intent: intentTicket}, &queueExtractor{script: []map[string]string{
		{},
		{"summary": "broken"},
		{"summary": "help"},
		{"summary": "bad"},
	}}, func(cfg *Config) {
		cfg.Registry = reg
	})

	h.turn(t, "s1", "my laptop")
	h.turn(t, "s1", "broken")
	h.turn(t, "s1", "help")
	r := h.turn(t, "s1", "bad")
	if r.Phase != types.PhaseAbandoned || !r.Done {
		t.Fatalf("reply = %+v", r)
	}
	st := h.state(t, "s1")
	if st.EndReason != session.ReasonSlotUnresolvable {
		t.Errorf("end reason = %q, want %q", st.EndReason, session.ReasonSlotUnresolvable)
	}
	if h.dispatcher.calls != 0 {
		t.Error("dispatcher called on an abandoned session")
	}
}

func TestAmbiguousDateConfirmYes(t *testing.T) {
	t.Parallel()
	ext := &queueExtractor{script: []map[string]string{
		{"start_date": "next week"},
	}}
	h := newHarness(t, fixedClassifier{intent: intentTimeOff}, ext, nil)

	r := h.turn(t, "s1", "leave starting next week")
	if r.Phase != types.PhaseConfirming || !strings.Contains(r.Message, "2026-08-31") {
		t.Fatalf("reply = %+v", r)
	}
	st := h.state(t, "s1")
	if st.PendingConfirm != "start_date" {
		t.Fatalf("pending confirm = %q", st.PendingConfirm)
	}
	if sv := st.Slots["start_date"]; sv.Status != types.SlotPending || !sv.NeedsConfirm {
		t.Fatalf("slot = %+v", sv)
	}

	r = h.turn(t, "s1", "yes")
	if r.Phase != types.PhaseCollecting || !strings.Contains(r.Message, "end") {
		t.Fatalf("after yes = %+v", r)
	}
	st = h.state(t, "s1")
	if sv := st.Slots["start_date"]; sv.Status != types.SlotValid || sv.Normalized != "2026-08-31" {
		t.Errorf("slot after confirm = %+v", sv)
	}
}

func TestAmbiguousDateConfirmNo(t *testing.T) {
	t.Parallel()
	ext := &queueExtractor{script: []map[string]string{
		{"start_date": "next week"},
	}}
	h := newHarness(t, fixedClassifier{intent: intentTimeOff}, ext, nil)

	h.turn(t, "s1", "leave starting next week")
	r := h.turn(t, "s1", "no")
	if r.Phase != types.PhaseCollecting || !strings.Contains(r.Message, "start") {
		t.Fatalf("after no = %+v", r)
	}
	st := h.state(t, "s1")
	if sv := st.Slots["start_date"]; sv.Status != types.SlotPending || sv.Normalized != "" || sv.NeedsConfirm {
		t.Errorf("denied candidate not discarded: %+v", sv)
	}
	if st.PendingConfirm != "" {
		t.Errorf("pending confirm = %q", st.PendingConfirm)
	}
}

func TestUnclearConfirmReplySpendsBudget(t *testing.T) {
	t.Parallel()
	ext := &queueExtractor{script: []map[string]string{
		{"start_date": "next week"},
	}}
	h := newHarness(t, fixedClassifier{intent: intentTimeOff}, ext, nil)

	h.turn(t, "s1", "leave starting next week")
	r := h.turn(t, "s1", "hmm maybe")
	if r.Phase != types.PhaseConfirming {
		t.Fatalf("unclear answer should re-ask, got %+v", r)
	}
	if got := h.state(t, "s1").Retries["start_date"]; got != 1 {
		t.Errorf("retries = %d, want 1", got)
	}
}

func TestExplicitCorrectionOverwrites(t *testing.T) {
	t.Parallel()
	ext := &queueExtractor{script: []map[string]string{
		{"start_date": "2026-09-01"},
		{"start_date": "2026-09-02"},
	}}
	h := newHarness(t, fixedClassifier{intent: intentTimeOff}, ext, nil)

	h.turn(t, "s1", "leave from September 1")
	h.turn(t, "s1", "actually make the start September 2")

	st := h.state(t, "s1")
	if sv := st.Slots["start_date"]; sv.Normalized != "2026-09-02" {
		t.Errorf("slot = %+v, want corrected to 2026-09-02", sv)
	}
	if got := h.auditKinds(); got[audit.KindSlotOverwrite] != 1 {
		t.Errorf("overwrite events = %d, want 1", got[audit.KindSlotOverwrite])
	}
}

func TestFailedCorrectionKeepsValidValue(t *testing.T) {
	t.Parallel()
	ext := &queueExtractor{script: []map[string]string{
		{"start_date": "2026-09-01"},
		{"start_date": "the 32nd of Neverary"},
	}}
	h := newHarness(t, fixedClassifier{intent: intentTimeOff}, ext, nil)

	h.turn(t, "s1", "leave from September 1")
	r := h.turn(t, "s1", "change the start to the 32nd of Neverary")
	if !strings.Contains(r.Message, "kept the previous value") {
		t.Errorf("reply = %q, want rejection notice", r.Message)
	}
	st := h.state(t, "s1")
	if sv := st.Slots["start_date"]; sv.Status != types.SlotValid || sv.Normalized != "2026-09-01" {
		t.Errorf("slot = %+v, want untouched valid value", sv)
	}
}

func TestRestatementIsNotAnOverwrite(t *testing.T) {
	t.Parallel()
	ext := &queueExtractor{script: []map[string]string{
		{"start_date": "2026-09-01"},
		{"start_date": "September 1, 2026"},
	}}
	h := newHarness(t, fixedClassifier{intent: intentTimeOff}, ext, nil)

	h.turn(t, "s1", "leave from September 1")
	h.turn(t, "s1", "as I said, September 1")
	if got := h.auditKinds(); got[audit.KindSlotOverwrite] != 0 {
		t.Errorf("overwrite events = %d, want 0", got[audit.KindSlotOverwrite])
	}
}

func TestCancelAbandons(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fixedClassifier{intent: intentTimeOff}, &queueExtractor{}, nil)
	h.turn(t, "s1", "I need leave")
	r := h.turn(t, "s1", "cancel")
	if r.Phase != types.PhaseAbandoned || !r.Done {
		t.Fatalf("reply = %+v", r)
	}
	if st := h.state(t, "s1"); st.EndReason != session.ReasonUserCancelled {
		t.Errorf("end reason = %q", st.EndReason)
	}
}

func TestTerminalSessionIgnoresFurtherTurns(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fixedClassifier{intent: intentTimeOff}, &queueExtractor{}, nil)
	h.turn(t, "s1", "I need leave")
	h.turn(t, "s1", "cancel")
	before := h.state(t, "s1")

	r := h.turn(t, "s1", "wait, start tomorrow")
	if r.Message != msgSessionClosed || !r.Done {
		t.Fatalf("reply = %+v", r)
	}
	after := h.state(t, "s1")
	if after.TurnCount != before.TurnCount || after.Phase != before.Phase {
		t.Error("terminal session state was mutated")
	}
}

func TestDispatchRecoverableRetryThenSuccess(t *testing.T) {
	t.Parallel()
	ext := &queueExtractor{script: []map[string]string{
		{"start_date": "2026-09-01", "end_date": "2026-09-03", "reason": "sick"},
	}}
	h := newHarness(t, fixedClassifier{intent: intentTimeOff}, ext, nil)
	h.dispatcher.results = []*dispatch.Result{
		{Success: false, Err: "downstream timeout", Recoverable: true},
		{Success: true, ReferenceID: "REF-2"},
	}

	r := h.turn(t, "s1", "sick leave Sept 1 to 3")
	if r.Phase != types.PhaseCompleted || r.ReferenceID != "REF-2" {
		t.Fatalf("reply = %+v", r)
	}
	if h.dispatcher.calls != 2 {
		t.Errorf("dispatcher calls = %d, want 2", h.dispatcher.calls)
	}
	if h.dispatcher.ids[0] != h.dispatcher.ids[1] {
		t.Errorf("request id changed across retries: %v", h.dispatcher.ids)
	}
}

func TestDispatchBudgetExhaustedFails(t *testing.T) {
	t.Parallel()
	ext := &queueExtractor{script: []map[string]string{
		{"start_date": "2026-09-01", "end_date": "2026-09-03", "reason": "sick"},
	}}
	h := newHarness(t, fixedClassifier{intent: intentTimeOff}, ext, func(cfg *Config) {
		cfg.MaxDispatchRetries = 1
	})
	h.dispatcher.results = []*dispatch.Result{
		{Success: false, Err: "downstream timeout", Recoverable: true},
		{Success: false, Err: "downstream timeout", Recoverable: true},
	}

	r := h.turn(t, "s1", "sick leave Sept 1 to 3")
	if r.Phase != types.PhaseFailed || !r.Done {
		t.Fatalf("reply = %+v", r)
	}
	if h.dispatcher.calls != 2 {
		t.Errorf("dispatcher calls = %d, want 2", h.dispatcher.calls)
	}
	st := h.state(t, "s1")
	if st.EndReason != session.ReasonDispatchFailed {
		t.Errorf("end reason = %q", st.EndReason)
	}
	if !strings.Contains(r.Message, st.DispatchID) {
		t.Errorf("failure message %q does not carry reference %q", r.Message, st.DispatchID)
	}
}

func TestUnrecoverableDispatchFailsImmediately(t *testing.T) {
	t.Parallel()
	ext := &queueExtractor{script: []map[string]string{
		{"start_date": "2026-09-01", "end_date": "2026-09-03", "reason": "sick"},
	}}
	h := newHarness(t, fixedClassifier{intent: intentTimeOff}, ext, nil)
	h.dispatcher.results = []*dispatch.Result{
		{Success: false, Err: "validation rejected upstream"},
	}

	r := h.turn(t, "s1", "sick leave Sept 1 to 3")
	if r.Phase != types.PhaseFailed {
		t.Fatalf("reply = %+v", r)
	}
	if h.dispatcher.calls != 1 {
		t.Errorf("dispatcher calls = %d, want 1", h.dispatcher.calls)
	}
}

// failingStore fails Save on demand to exercise the atomic commit.
type failingStore struct {
	*session.MemoryStore
	failSave bool
}

func (s *failingStore) Save(ctx context.Context, st *session.State) error {
	if s.failSave {
		return fmt.Errorf("save: %w", session.ErrUnavailable)
	}
	return s.MemoryStore.Save(ctx, st)
}

func TestSaveFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	fs := &failingStore{MemoryStore: session.NewMemoryStore()}
	ext := &queueExtractor{script: []map[string]string{
		{},
		{"start_date": "2026-09-01"},
	}}
	h := newHarness(t, fixedClassifier{intent: intentTimeOff}, ext, func(cfg *Config) {
		cfg.Store = fs
	})

	h.turn(t, "s1", "I need leave")
	before, _ := fs.Load(context.Background(), "s1")

	fs.failSave = true
	if _, err := h.engine.ProcessTurn(context.Background(), "s1", "start September 1"); err == nil {
		t.Fatal("expected save failure to surface")
	}

	after, _ := fs.Load(context.Background(), "s1")
	if after.TurnCount != before.TurnCount || len(after.Slots) != len(before.Slots) {
		t.Error("failed turn leaked partial state into the store")
	}

	// The turn can be replayed once the store recovers.
	fs.failSave = false
	ext.script = []map[string]string{{"start_date": "2026-09-01"}}
	h.turn(t, "s1", "start September 1")
	st, _ := fs.Load(context.Background(), "s1")
	if sv := st.Slots["start_date"]; sv == nil || sv.Normalized != "2026-09-01" {
		t.Errorf("slot after retry = %+v", sv)
	}
}

func TestCancelAPI(t *testing.T) {
	t.Parallel()
	h := newHarness(t, fixedClassifier{intent: intentTimeOff}, &queueExtractor{}, nil)
	h.turn(t, "s1", "I need leave")
	if err := h.engine.Cancel(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
	st := h.state(t, "s1")
	if st.Phase != types.PhaseAbandoned || st.EndReason != session.ReasonUserCancelled {
		t.Errorf("state = phase %s reason %q", st.Phase, st.EndReason)
	}
	// Cancelling again is a no-op.
	if err := h.engine.Cancel(context.Background(), "s1"); err != nil {
		t.Fatal(err)
	}
}

func TestSweepIdle(t *testing.T) {
	t.Parallel()
	now := testRef
	h := newHarness(t, fixedClassifier{intent: intentTimeOff}, &queueExtractor{}, func(cfg *Config) {
		cfg.IdleTimeout = 10 * time.Minute
		cfg.Now = func() time.Time { return now }
	})

	h.turn(t, "stale", "I need leave")
	h.turn(t, "done", "cancel")

	now = now.Add(time.Hour)
	h.turn(t, "fresh", "I need leave")

	swept, err := h.engine.SweepIdle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}
	if st := h.state(t, "stale"); st.Phase != types.PhaseAbandoned || st.EndReason != session.ReasonIdleTimeout {
		t.Errorf("stale session = phase %s reason %q", st.Phase, st.EndReason)
	}
	if st := h.state(t, "fresh"); st.Phase.Terminal() {
		t.Error("fresh session was swept")
	}
	if st := h.state(t, "done"); st.EndReason != session.ReasonUserCancelled {
		t.Error("terminal session end reason rewritten by sweep")
	}
}

func TestCommands(t *testing.T) {
	t.Parallel()
	cases := []struct {
		text                 string
		cancel, affirm, deny bool
	}{
		{"cancel", true, false, false},
		{"Never mind.", true, false, false},
		{"yes", false, true, false},
		{"Yep!", false, true, false},
		{"no", false, false, true},
		{"that's wrong", false, false, true},
		{"please cancel my meeting with Sam", false, false, false},
		{"yes and also change the date", false, false, false},
	}
	for _, tc := range cases {
		if got := isCancel(tc.text); got != tc.cancel {
			t.Errorf("isCancel(%q) = %t", tc.text, got)
		}
		if got := isAffirm(tc.text); got != tc.affirm {
			t.Errorf("isAffirm(%q) = %t", tc.text, got)
		}
		if got := isDeny(tc.text); got != tc.deny {
			t.Errorf("isDeny(%q) = %t", tc.text, got)
		}
	}
}
