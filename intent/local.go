package intent

import (
	"context"
	"strings"

	"github.com/tbxark/slotflow/types"
)

// LocalClassifier matches keyword groups against the turn text. The intent
// whose group scores the most hits wins; no hits means unknown. Deterministic
// and dependency-free, it backs tests and acts as a fallback behind the
// model-based classifier.
type LocalClassifier struct {
	Keywords map[types.Intent][]string
}

// NewLocalClassifier builds a classifier with keyword groups for the built-in
// workflow intents.
func NewLocalClassifier() *LocalClassifier {
	return &LocalClassifier{
		Keywords: map[types.Intent][]string{
			"request_time_off":   {"time off", "leave", "vacation", "pto", "day off", "days off"},
			"schedule_meeting":   {"meeting", "schedule", "calendar", "invite", "call with"},
			"submit_it_ticket":   {"it ticket", "laptop", "vpn", "password", "not working", "broken", "bug"},
			"file_medical_claim": {"medical claim", "claim", "reimburse", "doctor", "hospital", "prescription"},
		},
	}
}

func (c *LocalClassifier) Classify(ctx context.Context, req *Request) (*Result, error) {
	text := strings.ToLower(req.Text)
	allowed := make(map[types.Intent]bool, len(req.Allowed))
	for _, it := range req.Allowed {
		allowed[it] = true
	}

	best := Unknown()
	bestHits := 0
	// Iterate the allow-list, not the keyword map, to keep results stable.
	for _, it := range req.Allowed {
		hits := 0
		for _, kw := range c.Keywords[it] {
			if strings.Contains(text, kw) {
				hits++
			}
		}
		if hits > bestHits {
			bestHits = hits
			best = &Result{Intent: it, Confidence: confidence(hits)}
		}
	}
	if bestHits == 0 && len(allowed) > 0 {
		return &Result{Intent: types.IntentGeneralChat, Confidence: 0.1}, nil
	}
	return best, nil
}

func confidence(hits int) float64 {
	c := 0.5 + 0.2*float64(hits)
	if c > 0.95 {
		return 0.95
	}
	return c
}
