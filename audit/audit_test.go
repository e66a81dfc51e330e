package audit

import (
	"sync"
	"testing"
	"time"
)

func event(kind Kind) Event {
	return Event{Time: time.Now(), SessionID: "sess-1", Kind: kind}
}

func TestMemorySink(t *testing.T) {
	t.Parallel()
	s := NewMemorySink()
	s.Record(event(KindPhaseTransition))
	s.Record(event(KindSlotWrite))
	got := s.Events()
	if len(got) != 2 || got[0].Kind != KindPhaseTransition || got[1].Kind != KindSlotWrite {
		t.Errorf("events = %+v", got)
	}
}

func TestBufferedDelivers(t *testing.T) {
	t.Parallel()
	inner := NewMemorySink()
	b := NewBuffered(inner, 16)
	for i := 0; i < 10; i++ {
		b.Record(event(KindSlotWrite))
	}
	b.Close()
	if got := len(inner.Events()); got != 10 {
		t.Errorf("delivered %d events, want 10", got)
	}
}

// blockingSink never returns, simulating a stuck downstream.
type blockingSink struct{ release chan struct{} }

func (s blockingSink) Record(Event) { <-s.release }

func TestBufferedNeverBlocks(t *testing.T) {
	t.Parallel()
	s := blockingSink{release: make(chan struct{})}
	b := NewBuffered(s, 4)

	done := make(chan struct{})
	go func() {
		// Far more events than the buffer holds.
		for i := 0; i < 100; i++ {
			b.Record(event(KindSlotWrite))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a stuck sink")
	}
	if b.Dropped() == 0 {
		t.Error("expected dropped events under backpressure")
	}
	close(s.release)
}

func TestBufferedConcurrentRecord(t *testing.T) {
	t.Parallel()
	inner := NewMemorySink()
	b := NewBuffered(inner, 1024)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Record(event(KindDispatchCall))
			}
		}()
	}
	wg.Wait()
	b.Close()
	if got := len(inner.Events()); got != 400 {
		t.Errorf("delivered %d events, want 400", got)
	}
}
