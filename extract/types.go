// Package extract holds the slot extraction capability. Extractors return raw
// candidates only; nothing they produce is trusted until the validation gate
// has accepted it. An extractor must not fail on unparseable text — no
// candidates is the correct answer for text it cannot read.
package extract

import (
	"context"

	"github.com/tbxark/slotflow/types"
)

// Request carries the turn text and the locked schema's slot layout. Filled
// maps already-valid slots to their normalized values so an extractor can
// recognize explicit corrections.
type Request struct {
	Text   string
	Intent types.Intent
	Slots  []types.SlotBrief
	Filled map[string]string
	// LastAsked names the slot the previous prompt asked about, so a bare
	// answer with no slot markers can be attributed.
	LastAsked string
}

// Extractor maps a turn to raw slot candidates. A candidate for an
// already-filled slot is an explicit correction and must only be returned
// when the text clearly targets that slot.
type Extractor interface {
	Extract(ctx context.Context, req *Request) (map[string]string, error)
}

// Failsafe wraps an extractor so that errors degrade to an empty candidate
// set, keeping the turn alive when a model backend misbehaves.
type Failsafe struct {
	Inner Extractor
}

func (f Failsafe) Extract(ctx context.Context, req *Request) (map[string]string, error) {
	candidates, err := f.Inner.Extract(ctx, req)
	if err != nil {
		return map[string]string{}, nil
	}
	return candidates, nil
}

// Fallback tries extractors in order and returns the first non-empty result.
type Fallback struct {
	extractors []Extractor
}

func NewFallback(extractors ...Extractor) *Fallback {
	return &Fallback{extractors: extractors}
}

func (f *Fallback) Extract(ctx context.Context, req *Request) (map[string]string, error) {
	var lastErr error
	for _, e := range f.extractors {
		candidates, err := e.Extract(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		if len(candidates) > 0 {
			return candidates, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return map[string]string{}, nil
}
