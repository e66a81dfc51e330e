package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tbxark/slotflow/types"
)

var now = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

func sampleState() *State {
	s := New("sess-1", now)
	s.Intent = "request_time_off"
	s.Phase = types.PhaseCollecting
	s.TurnCount = 2
	s.LastAsked = "end_date"
	s.Retries["end_date"] = 1
	s.Slots["start_date"] = &types.SlotValue{
		Raw: "monday", Normalized: "2026-08-31", Status: types.SlotValid, SourceTurn: 2,
	}
	s.History = append(s.History, types.Turn{
		Index: 1, Text: "I need leave", Intent: "request_time_off",
		Phase: types.PhaseCollecting, At: now,
	})
	return s
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()

	if got, err := store.Load(ctx, "missing"); err != nil || got != nil {
		t.Fatalf("load of unknown session = (%v, %v), want (nil, nil)", got, err)
	}

	want := sampleState()
	if err := store.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Intent != want.Intent || got.Phase != want.Phase || got.TurnCount != want.TurnCount {
		t.Errorf("round trip lost header fields: %+v", got)
	}
	sv := got.Slots["start_date"]
	if sv == nil || sv.Normalized != "2026-08-31" || sv.Status != types.SlotValid || sv.SourceTurn != 2 {
		t.Errorf("round trip lost slot value: %+v", sv)
	}
	if got.Retries["end_date"] != 1 || len(got.History) != 1 {
		t.Errorf("round trip lost retries/history: %+v", got)
	}
}

// Mutating a loaded state must not leak into the store before Save.
func TestMemoryStoreIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Save(ctx, sampleState()); err != nil {
		t.Fatal(err)
	}

	loaded, _ := store.Load(ctx, "sess-1")
	loaded.Phase = types.PhaseFailed
	loaded.Slots["start_date"].Status = types.SlotInvalid

	fresh, _ := store.Load(ctx, "sess-1")
	if fresh.Phase != types.PhaseCollecting {
		t.Errorf("store observed caller mutation: phase = %s", fresh.Phase)
	}
	if fresh.Slots["start_date"].Status != types.SlotValid {
		t.Error("store observed caller mutation of slot value")
	}
}

func TestClone(t *testing.T) {
	t.Parallel()
	orig := sampleState()
	clone, err := orig.Clone()
	if err != nil {
		t.Fatal(err)
	}
	clone.Slots["start_date"].Status = types.SlotInvalid
	clone.Retries["end_date"] = 9
	clone.History = append(clone.History, types.Turn{Index: 2})

	if orig.Slots["start_date"].Status != types.SlotValid {
		t.Error("clone shares slot values with original")
	}
	if orig.Retries["end_date"] != 1 {
		t.Error("clone shares retry map with original")
	}
	if len(orig.History) != 1 {
		t.Error("clone shares history with original")
	}
}

func TestNewGeneratesID(t *testing.T) {
	t.Parallel()
	a := New("", now)
	b := New("", now)
	if a.SessionID == "" || a.SessionID == b.SessionID {
		t.Errorf("generated ids must be unique and non-empty: %q, %q", a.SessionID, b.SessionID)
	}
	if a.Phase != types.PhaseInit {
		t.Errorf("new session phase = %s, want init", a.Phase)
	}
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	t.Parallel()
	km := NewKeyedMutex()
	var active, max, counter int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("sess-1")
			defer unlock()
			if n := atomic.AddInt32(&active, 1); n > atomic.LoadInt32(&max) {
				atomic.StoreInt32(&max, n)
			}
			counter++ // safe: the keyed mutex is the only guard
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
	if atomic.LoadInt32(&max) != 1 {
		t.Errorf("max concurrent holders for one key = %d, want 1", max)
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	t.Parallel()
	km := NewKeyedMutex()
	unlockA := km.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("b")
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a distinct key blocked")
	}
	unlockA()
}

func TestValidSlots(t *testing.T) {
	t.Parallel()
	s := sampleState()
	s.Slots["end_date"] = &types.SlotValue{Raw: "next week", Status: types.SlotPending}
	got := s.ValidSlots()
	if len(got) != 1 || got["start_date"] != "2026-08-31" {
		t.Errorf("ValidSlots() = %v", got)
	}
}
