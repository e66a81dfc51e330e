package audit

import (
	"sync"
	"sync/atomic"
)

// Buffered decouples recording from the wrapped sink with a bounded channel.
// When the buffer is full the event is dropped and counted; the turn path is
// never blocked by a slow sink.
type Buffered struct {
	inner   Sink
	ch      chan Event
	dropped atomic.Int64
	once    sync.Once
	done    chan struct{}
}

func NewBuffered(inner Sink, size int) *Buffered {
	if size <= 0 {
		size = 256
	}
	b := &Buffered{
		inner: inner,
		ch:    make(chan Event, size),
		done:  make(chan struct{}),
	}
	go b.drain()
	return b
}

func (b *Buffered) Record(event Event) {
	select {
	case b.ch <- event:
	default:
		b.dropped.Add(1)
	}
}

// Dropped reports how many events were lost to backpressure.
func (b *Buffered) Dropped() int64 {
	return b.dropped.Load()
}

// Close stops the drain goroutine after flushing buffered events.
func (b *Buffered) Close() {
	b.once.Do(func() {
		close(b.ch)
		<-b.done
	})
}

func (b *Buffered) drain() {
	defer close(b.done)
	for event := range b.ch {
		b.inner.Record(event)
	}
}
