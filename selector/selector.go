// Package selector picks the next slot to ask about. The policy is a pure
// function of its inputs so conversations replay identically.
package selector

import (
	"github.com/tbxark/slotflow/schema"
	"github.com/tbxark/slotflow/types"
)

// Next returns the name of the next required slot to prompt for, or false when
// every required slot is valid. The schema's declared order is the ask
// priority. When the first missing slot is the one just asked and another
// missing slot exists, the alternative is preferred so an unanswered question
// is not repeated verbatim on consecutive turns.
func Next(s *schema.SlotSchema, slots map[string]*types.SlotValue, lastAsked string, retries map[string]int) (string, bool) {
	var missing []string
	for _, def := range s.Required() {
		sv, ok := slots[def.Name]
		if !ok || sv.Status != types.SlotValid {
			missing = append(missing, def.Name)
		}
	}
	if len(missing) == 0 {
		return "", false
	}
	if missing[0] == lastAsked && retries[lastAsked] > 0 && len(missing) > 1 {
		return missing[1], true
	}
	return missing[0], true
}
