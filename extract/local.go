package extract

import (
	"context"
	"regexp"
	"strings"
)

// LocalExtractor pulls candidates out of the text with marker patterns:
// a slot mention ("start date: Monday", "reason is personal", "end Wednesday")
// claims the value that follows it, and a bare reply with no markers is
// attributed to the slot that was last asked about. It knows nothing about
// value formats; the validation gate decides what survives.
type LocalExtractor struct{}

var valueDelimiter = regexp.MustCompile(`[,;.\n]| and | but `)

func (LocalExtractor) Extract(ctx context.Context, req *Request) (map[string]string, error) {
	candidates := make(map[string]string)
	clauses := splitClauses(req.Text)
	claimed := make([]bool, len(clauses))

	for _, slot := range req.Slots {
		for ci, clause := range clauses {
			if claimed[ci] {
				continue
			}
			value, ok := matchSlotClause(slot.Name, slot.DisplayName, clause)
			if !ok {
				continue
			}
			candidates[slot.Name] = value
			claimed[ci] = true
			break
		}
	}

	if len(candidates) == 0 && req.LastAsked != "" {
		text := strings.TrimSpace(req.Text)
		if text != "" {
			candidates[req.LastAsked] = text
		}
	}
	return candidates, nil
}

func splitClauses(text string) []string {
	parts := valueDelimiter.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// matchSlotClause looks for the slot's markers at the start of or inside the
// clause and returns the trailing value.
func matchSlotClause(name, displayName, clause string) (string, bool) {
	lower := strings.ToLower(clause)
	for _, marker := range slotMarkers(name, displayName) {
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(marker) + `\b`)
		if err != nil {
			continue
		}
		loc := re.FindStringIndex(lower)
		if loc == nil {
			continue
		}
		rest := strings.TrimSpace(clause[loc[1]:])
		rest = trimJoiner(rest)
		if rest != "" {
			return rest, true
		}
	}
	return "", false
}

func trimJoiner(s string) string {
	for _, joiner := range []string{"is ", "on ", "at ", "= ", ": "} {
		if rest, ok := strings.CutPrefix(s, joiner); ok {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimPrefix(s, ":")
}

// slotMarkers lists the phrases that may introduce a slot value, longest first
// so "start date" wins over "start".
func slotMarkers(name, displayName string) []string {
	markers := []string{strings.ToLower(name)}
	if spaced := strings.ReplaceAll(strings.ToLower(name), "_", " "); spaced != markers[0] {
		markers = append(markers, spaced)
	}
	if displayName != "" {
		dn := strings.ToLower(displayName)
		if dn != markers[0] {
			markers = append(markers, dn)
		}
	}
	if head, _, ok := strings.Cut(name, "_"); ok {
		markers = append(markers, strings.ToLower(head))
	}
	// Longest marker first.
	for i := 0; i < len(markers); i++ {
		for j := i + 1; j < len(markers); j++ {
			if len(markers[j]) > len(markers[i]) {
				markers[i], markers[j] = markers[j], markers[i]
			}
		}
	}
	return markers
}
