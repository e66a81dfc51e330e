package dispatch

import (
	"context"
	"sync"
)

// Idempotent wraps a dispatcher and memoizes successful results per request
// id, so a retried execution whose earlier attempt actually went through does
// not fire the side effect twice.
type Idempotent struct {
	inner Dispatcher

	mu   sync.Mutex
	done map[string]*Result
}

func NewIdempotent(inner Dispatcher) *Idempotent {
	return &Idempotent{
		inner: inner,
		done:  make(map[string]*Result),
	}
}

func (d *Idempotent) Execute(ctx context.Context, req *Request) (*Result, error) {
	d.mu.Lock()
	if res, ok := d.done[req.RequestID]; ok {
		d.mu.Unlock()
		return res, nil
	}
	d.mu.Unlock()

	res, err := d.inner.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.Success {
		d.mu.Lock()
		d.done[req.RequestID] = res
		d.mu.Unlock()
	}
	return res, nil
}
