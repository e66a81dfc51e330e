// Package dispatch holds the action execution capability. The state machine
// invokes a Dispatcher only through the ready-to-execute gate, with a request
// id that stays stable across retries so implementations can deduplicate.
package dispatch

import (
	"context"

	"github.com/tbxark/slotflow/types"
)

// Request is a fully validated workflow payload. Slots maps slot names to
// normalized values; RequestID is derived from the session id and turn count
// and does not change across retries of the same execution.
type Request struct {
	RequestID string            `json:"request_id"`
	Intent    types.Intent      `json:"intent"`
	Slots     map[string]string `json:"slots"`
}

// Result reports the outcome of one execution attempt. A failed result with
// Recoverable set may be retried; without it the session fails terminally.
type Result struct {
	Success     bool   `json:"success"`
	ReferenceID string `json:"reference_id,omitempty"`
	Err         string `json:"error,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
}

type Dispatcher interface {
	Execute(ctx context.Context, req *Request) (*Result, error)
}

// Func adapts a plain function to the Dispatcher interface.
type Func func(ctx context.Context, req *Request) (*Result, error)

func (f Func) Execute(ctx context.Context, req *Request) (*Result, error) {
	return f(ctx, req)
}
