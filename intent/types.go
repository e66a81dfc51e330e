// Package intent holds the intent classification capability. The core treats
// every implementation as an unreliable oracle: results outside the allow-list
// are folded into unknown, and errors fail open to unknown.
package intent

import (
	"context"

	"github.com/tbxark/slotflow/types"
)

// Request carries the turn text and the closed intent allow-list.
type Request struct {
	Text    string
	Allowed []types.Intent
}

// Result is the classification outcome. Confidence is advisory only.
type Result struct {
	Intent     types.Intent
	Confidence float64
}

type Classifier interface {
	Classify(ctx context.Context, req *Request) (*Result, error)
}

// Unknown is the fail-open result.
func Unknown() *Result {
	return &Result{Intent: types.IntentUnknown, Confidence: 0}
}

// Fallback tries classifiers in order and returns the first successful result.
type Fallback struct {
	classifiers []Classifier
}

func NewFallback(classifiers ...Classifier) *Fallback {
	return &Fallback{classifiers: classifiers}
}

func (f *Fallback) Classify(ctx context.Context, req *Request) (*Result, error) {
	var lastErr error
	for _, c := range f.classifiers {
		res, err := c.Classify(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	return Unknown(), lastErr
}
